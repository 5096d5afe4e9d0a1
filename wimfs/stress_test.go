package wimfs

import (
	"context"
	"fmt"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/syncutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConcurrentCreateWriteReadAcrossDistinctFiles runs many FUSE-op
// sequences against one FileSystem at once, the same parallel-workers
// shape gcsfuse's own internal/fs/stress_test.go uses (there via
// jacobsa/syncutil.Bundle over fusetesting helpers; here directly
// against wimfs since there is no fusetesting-level harness for this
// module). Each worker touches its own file, so this is checking lock
// discipline (no corruption/races across unrelated inodes), not
// single-file write serialization.
func TestConcurrentCreateWriteReadAcrossDistinctFiles(t *testing.T) {
	fs := newTestFileSystem(t, true)
	b := syncutil.NewBundle(context.Background())

	const numWorkers = 16
	for i := 0; i < numWorkers; i++ {
		i := i
		b.Add(func(ctx context.Context) error {
			name := fmt.Sprintf("worker-%d.txt", i)
			content := []byte(fmt.Sprintf("payload from worker %d", i))

			createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: name}
			if err := fs.CreateFile(ctx, createOp); err != nil {
				return err
			}

			writeOp := &fuseops.WriteFileOp{
				Inode:  createOp.Entry.Child,
				Handle: createOp.Handle,
				Data:   content,
				Offset: 0,
			}
			if err := fs.WriteFile(ctx, writeOp); err != nil {
				return err
			}

			readOp := &fuseops.ReadFileOp{
				Inode:  createOp.Entry.Child,
				Handle: createOp.Handle,
				Dst:    make([]byte, len(content)),
				Offset: 0,
			}
			if err := fs.ReadFile(ctx, readOp); err != nil {
				return err
			}
			if string(readOp.Dst[:readOp.BytesRead]) != string(content) {
				return fmt.Errorf("worker %d: round trip mismatch: got %q", i, readOp.Dst[:readOp.BytesRead])
			}
			return nil
		})
	}

	require.NoError(t, b.Join())

	lookupOp := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "worker-0.txt"}
	require.NoError(t, fs.LookUpInode(context.Background(), lookupOp))
	assert.NotZero(t, lookupOp.Entry.Child)
}

package blob

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreInsertLookup(t *testing.T) {
	s := NewStore()
	d := Digest{1, 2, 3}
	b := &Descriptor{Digest: d, RefCount: 1}

	require.NoError(t, s.Insert(b))
	assert.Same(t, b, s.Lookup(d))
	assert.Equal(t, 1, s.Len())
}

func TestStoreInsertRejectsDuplicateDigest(t *testing.T) {
	s := NewStore()
	d := Digest{9}
	require.NoError(t, s.Insert(&Descriptor{Digest: d}))
	err := s.Insert(&Descriptor{Digest: d})
	assert.Error(t, err)
}

func TestStoreUnlinkRemovesWithoutFreeingResource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scratch")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0600))

	s := NewStore()
	b := &Descriptor{Digest: Digest{5}, Location: Location{Kind: InStagingFile, StagingPath: path}}
	require.NoError(t, s.Insert(b))

	s.Unlink(b)
	assert.Nil(t, s.Lookup(b.Digest))
	_, err := os.Stat(path)
	assert.NoError(t, err, "Unlink must not delete the backing file")
}

func TestStoreFreeRemovesBackingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scratch")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0600))

	s := NewStore()
	b := &Descriptor{Digest: Digest{7}, Location: Location{Kind: InStagingFile, StagingPath: path}}
	require.NoError(t, s.Insert(b))
	require.True(t, b.Dead())

	require.NoError(t, s.Free(b))
	assert.Nil(t, s.Lookup(b.Digest))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDescriptorDead(t *testing.T) {
	b := &Descriptor{RefCount: 0, OpenFDCount: 0}
	assert.True(t, b.Dead())

	b.OpenFDCount = 1
	assert.False(t, b.Dead())

	b.OpenFDCount = 0
	b.RefCount = 1
	assert.False(t, b.Dead())
}

func TestDigestMarkSyntheticRoundTrip(t *testing.T) {
	d := Digest{0x01}
	assert.False(t, d.IsSynthetic())

	marked := d.MarkSynthetic()
	assert.True(t, marked.IsSynthetic())
	assert.NotEqual(t, d, marked)
}

func TestDescriptorReadAtFromAttachedBuffer(t *testing.T) {
	b := &Descriptor{Location: Location{Kind: InAttachedBuffer, Buffer: []byte("symlink-target")}}
	buf := make([]byte, 4)
	n, err := b.ReadAt(buf, 9, nil)
	require.NoError(t, err)
	assert.Equal(t, "arge", string(buf[:n]))
}

func TestDescriptorReadAtFromArchiveDispatchesToReader(t *testing.T) {
	ref := ArchiveRef{Offset: 42, Size: 5}
	b := &Descriptor{Location: Location{Kind: InArchive, Archive: ref}}

	var gotRef ArchiveRef
	reader := func(r ArchiveRef, off, size int64) ([]byte, error) {
		gotRef = r
		return []byte("abcde")[off : off+size], nil
	}

	buf := make([]byte, 3)
	n, err := b.ReadAt(buf, 1, reader)
	require.NoError(t, err)
	assert.Equal(t, "bcd", string(buf[:n]))
	assert.Equal(t, ref, gotRef)
}

func TestStoreForEachVisitsEveryDescriptor(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Insert(&Descriptor{Digest: Digest{1}}))
	require.NoError(t, s.Insert(&Descriptor{Digest: Digest{2}}))

	seen := map[Digest]bool{}
	s.ForEach(func(b *Descriptor) { seen[b.Digest] = true })
	assert.Len(t, seen, 2)
}

package blob

import (
	"fmt"
	"sync"

	"github.com/rzr/wimlib/metrics"
)

// Store is the content-addressed table mapping a blob's digest to its
// descriptor. It owns every Descriptor by reference count: nothing
// outside the store (and the transient state of the Staging Layer and
// Commit Pipeline) should hold a *Descriptor past the point its refcount
// and open-fd count both reach zero.
//
// Every method takes the store's own mutex, so the digest index itself
// is safe for concurrent use. The counters on each Descriptor are not
// guarded by that mutex: read-write mounts rely on the single-threaded
// host contract of spec.md §5, and read-only multi-threaded mounts only
// ever touch OpenFDCount, serialized through the owning inode's lock.
type Store struct {
	mu      sync.Mutex
	byDigest map[Digest]*Descriptor
}

// NewStore returns an empty blob store.
func NewStore() *Store {
	return &Store{byDigest: make(map[Digest]*Descriptor)}
}

// Insert adds a blob to the store. It is an error to insert a digest that
// is already present (callers rehashing a staged blob must Unlink the
// old entry first).
func (s *Store) Insert(b *Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byDigest[b.Digest]; ok {
		return fmt.Errorf("blob: digest %v already present", b.Digest)
	}
	s.byDigest[b.Digest] = b
	metrics.SetBlobStoreSize(len(s.byDigest))
	return nil
}

// Lookup returns the descriptor for digest, or nil if absent.
func (s *Store) Lookup(digest Digest) *Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byDigest[digest]
}

// Unlink removes b from the index without freeing any resource it owns.
// Used while rehashing: a staged blob's synthetic digest is unlinked and
// it is then re-inserted under its real digest (or merged into an
// existing descriptor and discarded).
func (s *Store) Unlink(b *Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byDigest, b.Digest)
	metrics.SetBlobStoreSize(len(s.byDigest))
}

// Free unlinks b and releases any resource it owns (the staging file, if
// any). Callers must have already verified b.Dead().
func (s *Store) Free(b *Descriptor) error {
	s.Unlink(b)
	return freeLocation(b)
}

// ForEach calls fn for every descriptor currently in the store. fn must
// not mutate the store.
func (s *Store) ForEach(fn func(*Descriptor)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.byDigest {
		fn(b)
	}
}

// Len returns the number of distinct blobs currently indexed.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byDigest)
}

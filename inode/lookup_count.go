package inode

import "github.com/rzr/wimlib/wimfslog"

// lookupCount mirrors the teacher's helper for FUSE kernel lookup
// counting (github.com/jacobsa/fuse sends ForgetInodeOp to balance each
// LookUpInode/MkDir/CreateFile/... response). destroy is called, with
// errors logged but otherwise ignored, once the count returns to zero.
// External synchronization (the owning inode's mutex) is required.
type lookupCount struct {
	count   uint64
	destroy func() error
}

func (lc *lookupCount) init(destroy func() error) {
	lc.destroy = destroy
}

func (lc *lookupCount) inc() {
	lc.count++
}

// dec decrements by n and runs destroy once the count hits zero,
// returning whether that happened.
func (lc *lookupCount) dec(n uint64) (destroyed bool) {
	if n > lc.count {
		panic("inode: lookup count underflow")
	}
	lc.count -= n
	if lc.count == 0 {
		if err := lc.destroy(); err != nil {
			wimfslog.Errorf("inode: destroy: %v", err)
		}
		destroyed = true
	}
	return
}

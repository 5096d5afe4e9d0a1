package cmd

import (
	"fmt"

	"github.com/rzr/wimlib/archive"
)

// OpenArchive resolves an archive path into a concrete archive.Archive.
// Decoding a real WIM file (LZX/XPRESS, chunk tables, XML metadata) is
// explicitly out of scope for this module (spec.md §1: "the core
// invokes it as an opaque operation") -- only the archive.Archive seam
// and its archive/fakearchive test double are defined here. A full
// build links in a real decoder and overrides this variable (e.g. from
// that decoder package's init, or by assigning it in a main package
// that imports both); the default just reports the gap instead of
// pretending to succeed.
var OpenArchive = func(path string) (archive.Archive, error) {
	return nil, fmt.Errorf("wimfs: no archive decoder linked in; cannot open %s (archive decoding is out of scope, see spec.md §1)", path)
}

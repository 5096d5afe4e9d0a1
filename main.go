// Command wimfs mounts and unmounts WIM image filesystems.
//
// Usage:
//
//	wimfs mount [flags] <archive> <mount_point>
//	wimfs unmount [flags] <mount_point>
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rzr/wimlib/cmd"
	"github.com/rzr/wimlib/werrors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, exitMessage(err))
		os.Exit(1)
	}
}

// exitMessage surfaces a werrors.Error's named exit code (spec.md §6)
// ahead of the wrapped message, so scripts parsing stderr can grep for
// e.g. ALREADY_LOCKED without matching on prose.
func exitMessage(err error) string {
	var we *werrors.Error
	if errors.As(err, &we) {
		return fmt.Sprintf("wimfs: %s: %v", we.Code, we.Err)
	}
	return fmt.Sprintf("wimfs: %v", err)
}

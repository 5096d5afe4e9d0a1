package blob

import "os"

// freeLocation releases whatever OS resource a descriptor's location
// owns. Only InStagingFile and InFileOnDisk own a scratch file on disk;
// the others are either borrowed (InArchive) or garbage-collected memory
// (InAttachedBuffer).
func freeLocation(b *Descriptor) error {
	switch b.Location.Kind {
	case InStagingFile, InFileOnDisk:
		if b.Location.StagingPath == "" {
			return nil
		}
		if err := os.Remove(b.Location.StagingPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

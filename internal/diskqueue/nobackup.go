package diskqueue

import "github.com/eventcore/sdk-core/internal/nobackup"

// markNoBackup marks path excluded from OS backup where the platform
// supports it. Queued records are exactly the kind of regenerable local
// cache that should never round-trip through a device backup.
func markNoBackup(path string) {
	nobackup.Mark(path)
}

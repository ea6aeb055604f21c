package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// staleLockAge is how old a lock file must be before it is presumed left
// behind by a crashed run and broken.
const staleLockAge = 10 * time.Minute

// setupLock is an exclusive on-disk lock over one deployment directory.
type setupLock struct {
	path string
}

// acquireLock takes the provisioning lock for dir. A lock older than
// staleLockAge is broken and re-taken.
func acquireLock(dir string) (*setupLock, error) {
	path := filepath.Join(dir, LockFileName)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			f.Close()
			return &setupLock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		info, statErr := os.Stat(path)
		if statErr != nil {
			continue // holder released between our attempts
		}
		if time.Since(info.ModTime()) < staleLockAge {
			if pid, ok := lockHolderPid(path); ok {
				return nil, fmt.Errorf("%w: held by pid %d since %s",
					ErrSetupLocked, pid, info.ModTime().UTC().Format(time.RFC3339))
			}
			return nil, fmt.Errorf("%w: lock held since %s",
				ErrSetupLocked, info.ModTime().UTC().Format(time.RFC3339))
		}
		os.Remove(path)
	}

	return nil, ErrSetupLocked
}

// release removes the lock file.
func (l *setupLock) release() {
	os.Remove(l.path)
}

// lockHolderPid parses the holder pid out of a lock file, for diagnostics.
func lockHolderPid(path string) (int, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0, false
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, false
	}
	return pid, true
}

package installer

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// staleLockAge is how old a lock file must be before a new run assumes
// its owner died and steals it.
const staleLockAge = 10 * time.Minute

// configLock is the advisory lock file guarding one settings document.
// It is held for the full duration of an Orchestrator run so concurrent
// invocations targeting the same configuration serialize rather than
// race. Nothing below this layer is safe against two processes writing
// the same path simultaneously.
type configLock struct {
	path string
}

// acquireLock creates <configPath>.lock exclusively. A lock left behind
// by a crashed process is stolen once it is old enough.
func acquireLock(configPath string) (*configLock, error) {
	path := configPath + ".lock"

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%s\n", strconv.Itoa(os.Getpid()))
			f.Close()
			return &configLock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("creating lock file %s: %w", path, err)
		}

		info, statErr := os.Stat(path)
		if statErr == nil && time.Since(info.ModTime()) > staleLockAge {
			os.Remove(path) // stale; steal it on the next attempt
			continue
		}
		return nil, fmt.Errorf("another installation is already running against %s (lock: %s)", configPath, path)
	}
	return nil, fmt.Errorf("could not acquire lock %s", path)
}

// release removes the lock file.
func (l *configLock) release() {
	os.Remove(l.path)
}

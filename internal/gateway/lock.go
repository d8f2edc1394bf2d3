package gateway

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/aoe-sh/gateway/internal/clock"
)

// InstanceLock holds the single-instance flock for one gateway process.
// The kernel drops the lock when the process exits; Release only tidies
// up early.
type InstanceLock struct {
	path string
	file *os.File
}

// AcquireInstanceLock takes an exclusive non-blocking flock on path and
// stamps it with the holder's pid. A second gateway on the same lock
// file fails immediately instead of double-polling the bot.
func AcquireInstanceLock(path string) (*InstanceLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("another gateway process is already running (lock=%s)", path)
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := fmt.Fprintf(f, "pid=%d started_at=%s\n", os.Getpid(), clock.NowISO()); err != nil {
		f.Close()
		return nil, err
	}
	return &InstanceLock{path: path, file: f}, nil
}

// Release drops the flock and closes the file. Safe on nil.
func (l *InstanceLock) Release() {
	if l == nil || l.file == nil {
		return
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}

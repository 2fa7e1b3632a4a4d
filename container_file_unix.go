//go:build unix

package vdisk

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// lock takes an exclusive, non-blocking advisory flock on the underlying
// file descriptor: two separate OS processes opening the same image file
// fail fast instead of racing silently. It does nothing for two goroutines
// inside one process sharing a *Disk, which remains the caller's
// responsibility.
func (c *FileContainer) lock() error {
	if err := unix.Flock(int(c.f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return fmt.Errorf("vdisk: image already locked by another process: %w", err)
	}
	c.locked = true
	return nil
}

func (c *FileContainer) unlock() {
	if !c.locked {
		return
	}
	unix.Flock(int(c.f.Fd()), unix.LOCK_UN)
	c.locked = false
}

//go:build unix && !linux && !darwin

package dirty

import (
	"golang.org/x/sys/unix"
)

func (t *Tracker) flushRanges(data []byte) error {
	return unix.Msync(data, unix.MS_SYNC)
}

func fdatasync(fd int, _ bool) error {
	return unix.Fsync(fd)
}

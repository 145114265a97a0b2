//go:build linux

package protocol

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mapFile memory-maps a file read-only. The descriptor is closed before
// returning; the mapping keeps the pages alive.
func mapFile(path string, size int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if size == 0 {
		// Zero-length mmap is an error; an empty body needs no mapping.
		return []byte{}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return data, nil
}

// unmapFile releases a mapping created by mapFile.
func unmapFile(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = unix.Munmap(data)
}

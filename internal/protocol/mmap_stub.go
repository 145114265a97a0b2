//go:build !linux

package protocol

import "errors"

// The engine's I/O path is Linux-only; on other platforms file bodies fall
// back to the inline error content.
func mapFile(path string, size int64) ([]byte, error) {
	return nil, errors.New("mmap unsupported on this platform")
}

func unmapFile(data []byte) {}

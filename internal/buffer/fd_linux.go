//go:build linux

package buffer

import (
	"sync"

	"golang.org/x/sys/unix"
)

// scratchSize bounds how much a single scatter read can overflow past the
// buffer's writable tail. 64 KiB matches the largest TCP read the kernel
// will typically hand back in one go.
const scratchSize = 65536

var scratchPool = sync.Pool{
	New: func() any {
		s := make([]byte, scratchSize)
		return &s
	},
}

// ReadFrom performs one scatter read from fd into two segments: the buffer's
// writable tail and a pooled 64 KiB scratch region. Bytes landing in the
// scratch region are appended afterwards, so a burst larger than the current
// capacity is still absorbed in a single syscall without pre-reserving large
// per-connection buffers.
func (b *Buffer) ReadFrom(fd int) (int, error) {
	scratch := scratchPool.Get().(*[]byte)
	defer scratchPool.Put(scratch)

	writable := b.Writable()
	iovs := [2][]byte{b.writableSlice(), *scratch}
	n, err := unix.Readv(fd, iovs[:])
	if err != nil {
		return 0, err
	}
	if n <= writable {
		b.AdvanceWrite(n)
	} else {
		b.writePos = len(b.buf)
		b.Append((*scratch)[:n-writable])
	}
	return n, nil
}

// WriteTo performs one linear write of the readable region to fd and
// consumes whatever was accepted.
func (b *Buffer) WriteTo(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	if err != nil {
		return 0, err
	}
	b.Consume(n)
	return n, nil
}

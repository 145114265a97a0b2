//go:build linux

package server

import (
	"io"
	"sync/atomic"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/goceleris/celeris/internal/buffer"
	"github.com/goceleris/celeris/internal/protocol"
)

// conn is the per-connection state: socket, buffers, parser, response and
// the in-flight flag the reactor consults before committing a close.
type conn struct {
	fd   int
	peer string
	root string
	et   bool

	in  *buffer.Buffer
	out *buffer.Buffer

	parser  *protocol.Parser
	resp    protocol.Response
	fileOff int

	keepAlive bool

	// inflight is true while a worker owns the connection. Set on the
	// reactor goroutine before submit, cleared by the worker as its last
	// store before rearming or requesting close.
	inflight atomic.Bool
}

func newConn(fd int, peer, root string, et bool, hook protocol.AuthFunc) *conn {
	return &conn{
		fd:     fd,
		peer:   peer,
		root:   root,
		et:     et,
		in:     buffer.New(),
		out:    buffer.New(),
		parser: protocol.NewParser(hook),
	}
}

// read drains the socket into the input buffer via the scatter read,
// looping until EAGAIN in edge-triggered mode. Returns io.EOF when the peer
// closed.
func (c *conn) read() (int, error) {
	total := 0
	for {
		n, err := c.in.ReadFrom(c.fd)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			return total, io.EOF
		}
		total += n
		if !c.et {
			return total, nil
		}
	}
}

// write pushes the response head and the mapped file body with one writev
// per round, advancing whichever segment finishes. It stops at EAGAIN
// (returning nil with bytes still pending) or when everything is out.
func (c *conn) write() (int, error) {
	total := 0
	for c.toWrite() > 0 {
		var iovs [][]byte
		if c.out.Readable() > 0 {
			iovs = append(iovs, c.out.Peek())
		}
		if body := c.resp.File(); c.fileOff < len(body) {
			iovs = append(iovs, body[c.fileOff:])
		}

		n, err := unix.Writev(c.fd, iovs)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				return total, nil
			}
			return total, err
		}

		head := n
		if r := c.out.Readable(); head > r {
			head = r
		}
		c.out.Consume(head)
		c.fileOff += n - head
		total += n
	}
	return total, nil
}

// toWrite returns the bytes still owed to the peer.
func (c *conn) toWrite() int {
	pending := c.out.Readable()
	if body := c.resp.File(); c.fileOff < len(body) {
		pending += len(body) - c.fileOff
	}
	return pending
}

// process feeds buffered bytes to the parser and, once a request completes
// or fails, assembles the response. It reports whether the connection now
// wants writability.
func (c *conn) process() bool {
	if c.in.Readable() == 0 {
		return false
	}
	code := -1
	switch c.parser.Feed(c.in) {
	case protocol.NeedMore:
		return false
	case protocol.Done:
		c.keepAlive = c.parser.KeepAlive()
	case protocol.Error:
		code = 400
		c.keepAlive = false
	}

	c.resp.Init(c.root, c.parser.Path(), c.keepAlive, code)
	if seen, ok := c.parser.AuthResult(); seen && ok {
		c.resp.SetCookie("session=" + uuid.NewString() + "; Path=/; HttpOnly")
	}
	c.resp.Make(c.out)
	c.fileOff = 0
	return true
}

// resetForKeepAlive prepares for the next request on the same socket. The
// input buffer is kept: it may already hold bytes of the next request.
func (c *conn) resetForKeepAlive() {
	c.resp.Unmap()
	c.fileOff = 0
	c.keepAlive = false
	c.parser.Reset()
}

// close releases the file mapping and the socket.
func (c *conn) close() {
	c.resp.Unmap()
	unix.Close(c.fd)
}

package protocol

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// appender is the slice of the connection write buffer the builder emits
// into.
type appender interface {
	Append(p []byte)
	AppendString(s string)
}

var statusText = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	500: "Internal Server Error",
}

// errorPages maps error codes to their on-disk page.
var errorPages = map[int]string{
	400: "/400.html",
	403: "/403.html",
	404: "/404.html",
	500: "/500.html",
}

var suffixType = map[string]string{
	".html":  "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":   "application/rtf",
	".pdf":   "application/pdf",
	".word":  "application/msword",
	".png":   "image/png",
	".gif":   "image/gif",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".au":    "audio/basic",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".avi":   "video/x-msvideo",
	".gz":    "application/x-gzip",
	".tar":   "application/x-tar",
	".css":   "text/css",
	".js":    "text/javascript",
}

// Response resolves a request path against the document root and assembles
// the status line, headers and body. File bodies are memory-mapped and
// written by the connection as a second iovec; the mapping belongs to the
// connection until fully written or the connection closes.
type Response struct {
	code      int
	keepAlive bool
	root      string
	path      string
	cookie    string

	file     []byte // mmap'd body, nil when the body is inline
	fileSize int64
}

// Init prepares the builder for one response. code is -1 when the parser
// succeeded and the status should be derived from the filesystem.
func (r *Response) Init(root, path string, keepAlive bool, code int) {
	if r.file != nil {
		r.Unmap()
	}
	r.code = code
	r.keepAlive = keepAlive
	r.root = root
	r.path = path
	r.cookie = ""
	r.fileSize = 0
}

// SetCookie adds a Set-Cookie header to the response.
func (r *Response) SetCookie(v string) {
	r.cookie = v
}

// Code returns the resolved status code.
func (r *Response) Code() int { return r.code }

// File returns the memory-mapped body, or nil.
func (r *Response) File() []byte { return r.file }

// Make resolves the target and emits the response head (and, for error
// bodies, the body itself) into out.
func (r *Response) Make(out appender) {
	info, err := os.Stat(filepath.Join(r.root, r.path))
	switch {
	case err != nil || info.IsDir():
		r.code = 404
	case info.Mode().Perm()&0o004 == 0:
		r.code = 403
	case r.code == -1:
		r.code = 200
	}
	r.errorPage()

	r.addStatusLine(out)
	r.addHeaders(out)
	r.addContent(out)
}

// Unmap releases the mapped file body. Safe to call repeatedly.
func (r *Response) Unmap() {
	if r.file == nil {
		return
	}
	unmapFile(r.file)
	r.file = nil
	r.fileSize = 0
}

// errorPage swaps the target for the code's error page when one is mapped,
// falling back to 404 if the page itself is missing.
func (r *Response) errorPage() {
	page, ok := errorPages[r.code]
	if !ok {
		return
	}
	r.path = page
	info, err := os.Stat(filepath.Join(r.root, r.path))
	if err != nil {
		r.code = 404
		return
	}
	r.fileSize = info.Size()
}

func (r *Response) addStatusLine(out appender) {
	status, ok := statusText[r.code]
	if !ok {
		r.code = 400
		status = statusText[400]
	}
	out.AppendString(fmt.Sprintf("HTTP/1.1 %d %s\r\n", r.code, status))
}

func (r *Response) addHeaders(out appender) {
	if r.keepAlive {
		out.AppendString("Connection: keep-alive\r\n")
		out.AppendString("Keep-Alive: max=6, timeout=120\r\n")
	} else {
		out.AppendString("Connection: close\r\n")
	}
	if r.cookie != "" {
		out.AppendString("Set-Cookie: " + r.cookie + "\r\n")
	}
	out.AppendString("Content-Type: " + r.fileType() + "\r\n")
}

// addContent maps the target file read-only and records its length; on any
// failure it falls back to an inline error body.
func (r *Response) addContent(out appender) {
	target := filepath.Join(r.root, r.path)
	info, err := os.Stat(target)
	if err != nil {
		r.ErrorContent(out, "File Not Found!")
		return
	}
	data, err := mapFile(target, info.Size())
	if err != nil {
		r.ErrorContent(out, "File Not Found!")
		return
	}
	r.file = data
	r.fileSize = info.Size()
	out.AppendString(fmt.Sprintf("Content-Length: %d\r\n\r\n", r.fileSize))
}

// ErrorContent emits a generated error HTML body, used when no error page
// file exists on disk.
func (r *Response) ErrorContent(out appender, message string) {
	status, ok := statusText[r.code]
	if !ok {
		status = "Bad Request"
	}
	var b strings.Builder
	b.WriteString("<html><title>Error</title>")
	b.WriteString("<body bgcolor=\"ffffff\">")
	fmt.Fprintf(&b, "%d : %s\n", r.code, status)
	fmt.Fprintf(&b, "<p>%s</p>", message)
	b.WriteString("<hr><em>celeris</em></body></html>")

	body := b.String()
	out.AppendString(fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body)))
	out.AppendString(body)
}

func (r *Response) fileType() string {
	if t, ok := suffixType[strings.ToLower(filepath.Ext(r.path))]; ok {
		return t
	}
	return "text/plain"
}

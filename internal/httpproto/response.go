package httpproto

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/kfcemployee/cinder/internal/buffer"
	"github.com/kfcemployee/cinder/internal/config"
)

var statusText = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
}

// errorPages maps a status code to its canonical error page.
var errorPages = map[int]string{
	400: "/400.html",
	403: "/403.html",
	404: "/404.html",
}

// Responder builds an HTTP/1.1 response and owns the mmap'd file body
// behind it: the mapping must outlive every pending write, so it's
// released only via Unmap, called at the start of Build, from the
// connection's close path, and when the connection replaces this
// Responder with the one for its next request.
type Responder struct {
	root      string
	path      string
	keepAlive bool
	code      int

	mapped []byte // nil when no file body is mapped
	file   *os.File
}

// NewResponder prepares a response for the given root-relative path.
func NewResponder(root, path string, keepAlive bool, code int) *Responder {
	return &Responder{root: root, path: path, keepAlive: keepAlive, code: code}
}

// FilePtr / FileLen expose the mapped body for scatter-gather writing.
func (r *Responder) FilePtr() []byte { return r.mapped }
func (r *Responder) FileLen() int    { return len(r.mapped) }

// Code reports the finalized status code.
func (r *Responder) Code() int { return r.code }

// Build resolves root+path, stats and maps the target file, rewriting to
// a canonical error page on 400/403/404, and writes the status line and
// headers into out. It returns an error only if the file cannot be
// opened or mapped; the mapped body (if any) is available via
// FilePtr/FileLen afterward.
func (r *Responder) Build(out *buffer.Buffer) error {
	r.Unmap()

	full := filepath.Join(r.root, filepath.Clean("/"+r.path))
	info, err := os.Stat(full)
	switch {
	case err != nil:
		r.code = 404
	case info.IsDir():
		r.code = 404
	case info.Mode().Perm()&0o004 == 0: // "other" read bit
		r.code = 403
	case r.code == 0:
		r.code = 200
	}

	if page, ok := errorPages[r.code]; ok && r.path != page {
		r.path = page
		full = filepath.Join(r.root, filepath.Clean("/"+r.path))
		info, err = os.Stat(full)
		if err != nil || info.IsDir() {
			// Even the canonical error page is missing: fall back to an
			// empty body rather than fail Build itself.
			return r.writeHeaders(out, 0)
		}
	}

	if err := r.mapFile(full, int(info.Size())); err != nil {
		return err
	}
	return r.writeHeaders(out, int(info.Size()))
}

func (r *Responder) mapFile(full string, size int) error {
	if size == 0 {
		return nil
	}
	f, err := os.Open(full)
	if err != nil {
		return err
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		f.Close()
		return err
	}
	r.file = f
	r.mapped = data
	return nil
}

func (r *Responder) writeHeaders(out *buffer.Buffer, bodyLen int) error {
	reason, ok := statusText[r.code]
	if !ok {
		reason = "Internal Server Error"
		r.code = 500
	}

	out.Append([]byte(fmt.Sprintf("HTTP/1.1 %d %s\r\n", r.code, reason)))
	if r.keepAlive {
		out.Append([]byte("Connection: keep-alive\r\n"))
		out.Append([]byte(fmt.Sprintf("keep-alive: max=%d, timeout=%d\r\n", config.KeepAliveMax, config.KeepAliveTimeoutSeconds)))
	} else {
		out.Append([]byte("Connection: close\r\n"))
	}
	out.Append([]byte("Content-type: " + mimeFor(r.path) + "\r\n"))
	out.Append([]byte("Content-length: " + strconv.Itoa(bodyLen) + "\r\n\r\n"))
	return nil
}

// ErrorBody writes a minimal inline response with no mapped file body,
// used as the fallback when Build returns an error.
func ErrorBody(out *buffer.Buffer, code int, keepAlive bool, message string) {
	body := []byte(message)
	reason, ok := statusText[code]
	if !ok {
		reason = "Bad Request"
	}
	out.Append([]byte(fmt.Sprintf("HTTP/1.1 %d %s\r\n", code, reason)))
	if keepAlive {
		out.Append([]byte("Connection: keep-alive\r\n"))
	} else {
		out.Append([]byte("Connection: close\r\n"))
	}
	out.Append([]byte("Content-type: text/plain\r\n"))
	out.Append([]byte("Content-length: " + strconv.Itoa(len(body)) + "\r\n\r\n"))
	out.Append(body)
}

// Unmap releases the mapping. It is idempotent.
func (r *Responder) Unmap() {
	if r.mapped != nil {
		unix.Munmap(r.mapped)
		r.mapped = nil
	}
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
}

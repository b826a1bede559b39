// Package archive wraps a zip stream that is written incrementally while a
// client drains it. Entries arrive from concurrent fetches; the writer
// serializes entry framing internally so producers never interleave.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"
)

// Mode selects how entries are stored inside the zip.
type Mode string

const (
	// ModeStore writes entries uncompressed, trading size for throughput.
	ModeStore Mode = "store"
	// ModeDeflate compresses entries, trading CPU for a smaller archive.
	ModeDeflate Mode = "deflate"
)

// ErrClosed indicates AddEntry was called after Finalize or Abort
var ErrClosed = errors.New("archive already finalized")

// Writer produces a zip byte stream entry by entry. It is owned by exactly
// one batch session and writes directly to the live response.
type Writer struct {
	mu        sync.Mutex
	zw        *zip.Writer
	flusher   http.Flusher
	method    uint16
	used      map[string]int
	finalized bool
	aborted   bool
}

func NewWriter(out io.Writer, mode Mode) *Writer {
	method := zip.Deflate
	if mode == ModeStore {
		method = zip.Store
	}
	w := &Writer{
		zw:     zip.NewWriter(out),
		method: method,
		used:   make(map[string]int),
	}
	if f, ok := out.(http.Flusher); ok {
		w.flusher = f
	}
	return w
}

// AddEntry frames name and drains src into the archive. Duplicate names get
// a numeric suffix so two candidates with the same display key cannot
// collide. A read error from src truncates this entry only; the archive
// stays valid for entries added afterwards.
func (w *Writer) AddEntry(name string, src io.Reader) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized || w.aborted {
		return 0, ErrClosed
	}

	hdr := &zip.FileHeader{
		Name:     w.dedupe(name),
		Method:   w.method,
		Modified: time.Now(),
	}

	entry, err := w.zw.CreateHeader(hdr)
	if err != nil {
		return 0, fmt.Errorf("create entry %s: %w", hdr.Name, err)
	}

	n, err := io.Copy(entry, src)
	if err != nil {
		return n, fmt.Errorf("write entry %s: %w", hdr.Name, err)
	}

	// Push the entry's bytes out so the client sees progress between
	// fetch groups instead of one burst at the end.
	if err := w.zw.Flush(); err != nil {
		return n, fmt.Errorf("flush entry %s: %w", hdr.Name, err)
	}

	return n, nil
}

// Flush pushes buffered response bytes to the client when the output is an
// http.ResponseWriter; a no-op otherwise. It takes the entry mutex, so a
// flush never interleaves with concurrent entry writes. Safe to call from
// any goroutine.
func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized || w.aborted || w.flusher == nil {
		return
	}
	w.flusher.Flush()
}

// Finalize writes the central directory and ends the stream. Safe to call
// more than once; a no-op after Abort.
func (w *Writer) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized || w.aborted {
		return nil
	}
	w.finalized = true

	if err := w.zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

// Abort stops the writer without flushing the central directory. The peer
// is gone, so the truncated stream is never read. Idempotent.
func (w *Writer) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized || w.aborted {
		return
	}
	w.aborted = true
}

func (w *Writer) dedupe(name string) string {
	seen := w.used[name]
	w.used[name] = seen + 1
	if seen == 0 {
		return name
	}

	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for {
		candidate := fmt.Sprintf("%s_%d%s", base, seen, ext)
		if w.used[candidate] == 0 {
			w.used[candidate] = 1
			return candidate
		}
		seen++
	}
}

package batch

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Candidate is one record selected for inclusion in a batch download.
type Candidate struct {
	ID         string
	DisplayKey string
	SourceURL  string
}

// Outcome tags how a single candidate resolved. Each candidate resolves
// exactly once per run; there are no automatic retries inside a batch.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailed
	OutcomeSkipped
)

// Result records the resolution of one candidate.
type Result struct {
	Candidate Candidate
	Outcome   Outcome
	Bytes     int64
	Err       error
}

// Fetcher opens a remote image as a byte stream.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// ArchiveWriter accepts named entries and ends the stream on demand.
type ArchiveWriter interface {
	AddEntry(name string, src io.Reader) (int64, error)
	Finalize() error
	Abort()
}

// Flusher pushes buffered response bytes to the client. Used for the
// keep-alive heartbeat so idle proxies do not drop the connection while a
// slow group is still fetching. Implementations must be safe to call
// concurrently with ArchiveWriter.AddEntry; the heartbeat does not wait
// for in-flight entries.
type Flusher interface {
	Flush()
}

// Logger is the slice of the leveled logger the session needs.
type Logger interface {
	Info(f string, v ...any)
	Warn(f string, v ...any)
}

// Options tune one batch run.
type Options struct {
	// GroupSize bounds concurrent fetches. Groups run sequentially;
	// members within a group run concurrently.
	GroupSize int
	// GroupPause is a short gap between groups so a large batch does not
	// saturate the outbound link.
	GroupPause time.Duration
	// KeepAlive is the heartbeat interval; 0 disables it.
	KeepAlive time.Duration
	// Deadline caps the whole run; 0 disables it.
	Deadline time.Duration
}

// Session is the single-use state of one in-flight batch download. It owns
// the archive writer and every fetch stream it opens, and is the one place
// the success/failed/skipped tallies live.
type Session struct {
	candidates []Candidate
	writer     ArchiveWriter
	fetcher    Fetcher
	flusher    Flusher
	log        Logger
	opts       Options

	aborted atomic.Bool
	done    atomic.Bool

	mu        sync.Mutex
	succeeded int
	failed    int
	skipped   int
}

func NewSession(candidates []Candidate, writer ArchiveWriter, fetcher Fetcher, log Logger, opts Options) *Session {
	if opts.GroupSize <= 0 {
		opts.GroupSize = 5
	}
	return &Session{
		candidates: candidates,
		writer:     writer,
		fetcher:    fetcher,
		log:        log,
		opts:       opts,
	}
}

// SetFlusher attaches the flush hook used between groups and by the
// keep-alive heartbeat. Optional.
func (s *Session) SetFlusher(f Flusher) {
	s.flusher = f
}

// Abort requests cooperative cancellation: in-flight fetches drain or fail
// naturally, no new group starts, and Finalize is replaced by Abort.
// Idempotent and safe from any goroutine.
func (s *Session) Abort() {
	s.aborted.Store(true)
}

// Aborted reports whether the run was cancelled.
func (s *Session) Aborted() bool {
	return s.aborted.Load()
}

// Counts returns the per-outcome tallies so far.
func (s *Session) Counts() (succeeded, failed, skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.succeeded, s.failed, s.skipped
}

func (s *Session) record(res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch res.Outcome {
	case OutcomeSuccess:
		s.succeeded++
	case OutcomeFailed:
		s.failed++
	case OutcomeSkipped:
		s.skipped++
	}
}

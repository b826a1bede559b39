package batch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/passportvault/passportvault/internal/domain"
)

// knownImageExtensions are the suffixes we trust from a source URL. Anything
// else falls back to .jpg.
var knownImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// Run drains the candidate list in fixed-size groups, fanning each group's
// fetches out concurrently and feeding successful streams into the archive
// writer. It blocks until every candidate has resolved, then finalizes the
// archive, or aborts it if the run was cancelled.
//
// Per-item failures are absorbed into the tallies and never returned: a
// batch with some dead images still yields a valid zip of the rest.
func (s *Session) Run(ctx context.Context) error {
	defer s.done.Store(true)

	if s.opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Deadline)
		defer cancel()
	}

	if s.opts.KeepAlive > 0 && s.flusher != nil {
		stop := s.startHeartbeat()
		defer stop()
	}

	for start := 0; start < len(s.candidates); start += s.opts.GroupSize {
		// Abort flag and context are checked once per group boundary:
		// members already in flight drain naturally, no new group starts.
		if s.checkAbort(ctx) {
			break
		}

		end := start + s.opts.GroupSize
		if end > len(s.candidates) {
			end = len(s.candidates)
		}
		group := s.candidates[start:end]

		var wg sync.WaitGroup
		for _, cand := range group {
			wg.Add(1)
			go func(c Candidate) {
				defer wg.Done()
				s.record(s.processCandidate(ctx, c))
			}(cand)
		}
		wg.Wait()

		if s.flusher != nil {
			s.flusher.Flush()
		}

		if end < len(s.candidates) && s.opts.GroupPause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.opts.GroupPause):
			}
		}
	}

	succeeded, failed, skipped := s.Counts()

	if s.checkAbort(ctx) {
		s.writer.Abort()
		s.log.Warn("batch aborted: %d ok, %d failed, %d skipped of %d",
			succeeded, failed, skipped, len(s.candidates))
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrAborted
	}

	if err := s.writer.Finalize(); err != nil {
		s.writer.Abort()
		return fmt.Errorf("finalize batch archive: %w", err)
	}

	s.log.Info("batch complete: %d ok, %d failed, %d skipped of %d",
		succeeded, failed, skipped, len(s.candidates))
	return nil
}

// ErrAborted indicates the session was cancelled before finalizing
var ErrAborted = errors.New("batch download aborted")

// processCandidate resolves exactly one candidate. The fetch stream is
// either fully drained into the archive or closed on the spot, never left
// half-consumed.
func (s *Session) processCandidate(ctx context.Context, cand Candidate) Result {
	if s.aborted.Load() || ctx.Err() != nil {
		return Result{Candidate: cand, Outcome: OutcomeSkipped, Err: ctx.Err()}
	}

	if cand.SourceURL == "" {
		return Result{Candidate: cand, Outcome: OutcomeSkipped}
	}

	body, err := s.fetcher.Fetch(ctx, cand.SourceURL)
	if err != nil {
		s.log.Warn("fetch failed for %s: %v", cand.DisplayKey, err)
		return Result{Candidate: cand, Outcome: OutcomeFailed, Err: err}
	}
	defer body.Close()

	// Re-check after the fetch: the client may have vanished while we
	// were waiting on the remote host.
	if s.aborted.Load() || ctx.Err() != nil {
		return Result{Candidate: cand, Outcome: OutcomeSkipped, Err: ctx.Err()}
	}

	name := cand.DisplayKey + extensionFor(cand.SourceURL)

	n, err := s.writer.AddEntry(name, body)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Result{Candidate: cand, Outcome: OutcomeSkipped, Err: err}
		}
		s.log.Warn("archive entry failed for %s: %v", name, err)
		return Result{Candidate: cand, Outcome: OutcomeFailed, Bytes: n, Err: err}
	}

	return Result{Candidate: cand, Outcome: OutcomeSuccess, Bytes: n}
}

func (s *Session) checkAbort(ctx context.Context) bool {
	if ctx.Err() != nil {
		s.aborted.Store(true)
	}
	return s.aborted.Load()
}

// startHeartbeat flushes the response periodically while the run is alive,
// keeping intermediary proxies from closing an idle connection. Purely a
// liveness measure; it adds no archive bytes.
func (s *Session) startHeartbeat() func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.opts.KeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if s.done.Load() || s.aborted.Load() {
					return
				}
				s.flusher.Flush()
			}
		}
	}()
	return func() { close(stop) }
}

// extensionFor derives the archive entry extension from the URL path,
// defaulting to .jpg for anything unrecognized.
func extensionFor(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".jpg"
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if knownImageExtensions[ext] {
		return ext
	}
	return ".jpg"
}

// CandidatesFor maps student records onto batch candidates, using the
// matric number as the archive entry name.
func CandidatesFor(students []domain.Student) []Candidate {
	out := make([]Candidate, 0, len(students))
	for _, st := range students {
		out = append(out, Candidate{
			ID:         st.ID,
			DisplayKey: st.MatricNumber,
			SourceURL:  st.PassportURL,
		})
	}
	return out
}

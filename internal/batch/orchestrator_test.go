package batch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/passportvault/passportvault/internal/archive"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}

// fakeFetcher serves canned bytes per URL and instruments concurrency.
type fakeFetcher struct {
	mu          sync.Mutex
	images      map[string]string
	failures    map[string]error
	delay       time.Duration
	calls       int
	inFlight    int
	maxInFlight int
	onCall      func(n int)
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	n := f.calls
	hook := f.onCall
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}

	if err, ok := f.failures[url]; ok {
		return nil, err
	}
	if content, ok := f.images[url]; ok {
		return io.NopCloser(strings.NewReader(content)), nil
	}
	return nil, errors.New("no such image")
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recordingWriter captures writer calls without producing real zip bytes.
type recordingWriter struct {
	mu        sync.Mutex
	entries   []string
	finalized bool
	aborted   bool
}

func (w *recordingWriter) AddEntry(name string, src io.Reader) (int64, error) {
	n, err := io.Copy(io.Discard, src)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, name)
	return n, err
}

func (w *recordingWriter) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finalized = true
	return nil
}

func (w *recordingWriter) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.aborted = true
}

type countingFlusher struct {
	mu    sync.Mutex
	count int
}

func (f *countingFlusher) Flush() {
	f.mu.Lock()
	f.count++
	f.mu.Unlock()
}

func zipEntryNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestRunPartialFailureStillYieldsValidArchive(t *testing.T) {
	fetcher := &fakeFetcher{
		images: map[string]string{
			"http://img/phy1.jpg": "one",
			"http://img/phy2.jpg": "two",
		},
		failures: map[string]error{
			"http://img/phy3.jpg": errors.New("fetch timed out"),
		},
	}

	candidates := []Candidate{
		{ID: "1", DisplayKey: "PHY001", SourceURL: "http://img/phy1.jpg"},
		{ID: "2", DisplayKey: "PHY002", SourceURL: "http://img/phy2.jpg"},
		{ID: "3", DisplayKey: "PHY003", SourceURL: "http://img/phy3.jpg"},
	}

	var buf bytes.Buffer
	writer := archive.NewWriter(&buf, archive.ModeDeflate)
	session := NewSession(candidates, writer, fetcher, nopLogger{}, Options{GroupSize: 5})

	if err := session.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	succeeded, failed, skipped := session.Counts()
	if succeeded != 2 || failed != 1 || skipped != 0 {
		t.Errorf("counts = (%d, %d, %d), want (2, 1, 0)", succeeded, failed, skipped)
	}

	names := zipEntryNames(t, buf.Bytes())
	if len(names) != 2 {
		t.Fatalf("archive has %d entries, want 2: %v", len(names), names)
	}
	for _, name := range names {
		if name != "PHY001.jpg" && name != "PHY002.jpg" {
			t.Errorf("unexpected entry %s", name)
		}
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	images := make(map[string]string)
	var candidates []Candidate
	for i := 0; i < 10; i++ {
		url := "http://img/" + string(rune('a'+i)) + ".jpg"
		images[url] = "x"
		candidates = append(candidates, Candidate{DisplayKey: string(rune('A' + i)), SourceURL: url})
	}

	fetcher := &fakeFetcher{images: images, delay: 20 * time.Millisecond}
	writer := &recordingWriter{}
	session := NewSession(candidates, writer, fetcher, nopLogger{}, Options{GroupSize: 3})

	if err := session.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if fetcher.maxInFlight > 3 {
		t.Errorf("max concurrent fetches = %d, want <= 3", fetcher.maxInFlight)
	}
	if fetcher.callCount() != 10 {
		t.Errorf("fetch calls = %d, want 10", fetcher.callCount())
	}
	if !writer.finalized {
		t.Error("writer was not finalized")
	}
}

func TestRunAbortStopsAtGroupBoundary(t *testing.T) {
	images := map[string]string{
		"http://img/1.jpg": "x", "http://img/2.jpg": "x",
		"http://img/3.jpg": "x", "http://img/4.jpg": "x",
		"http://img/5.jpg": "x", "http://img/6.jpg": "x",
	}
	var candidates []Candidate
	for i := 1; i <= 6; i++ {
		candidates = append(candidates, Candidate{
			DisplayKey: "S" + string(rune('0'+i)),
			SourceURL:  "http://img/" + string(rune('0'+i)) + ".jpg",
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Simulate the client disconnecting while the first group is in flight.
	fetcher := &fakeFetcher{
		images: images,
		onCall: func(n int) {
			if n == 2 {
				cancel()
			}
		},
	}
	writer := &recordingWriter{}
	session := NewSession(candidates, writer, fetcher, nopLogger{}, Options{GroupSize: 2})

	err := session.Run(ctx)
	if err == nil {
		t.Fatal("Run should report the aborted batch")
	}

	if !writer.aborted {
		t.Error("writer.Abort was not invoked")
	}
	if writer.finalized {
		t.Error("writer must not be finalized after abort")
	}
	if got := fetcher.callCount(); got > 2 {
		t.Errorf("fetches continued past the group boundary: %d calls", got)
	}
}

func TestRunSkipsCandidatesWithoutSource(t *testing.T) {
	fetcher := &fakeFetcher{images: map[string]string{"http://img/ok.jpg": "x"}}
	writer := &recordingWriter{}

	session := NewSession([]Candidate{
		{DisplayKey: "HASIMG", SourceURL: "http://img/ok.jpg"},
		{DisplayKey: "NOIMG", SourceURL: ""},
	}, writer, fetcher, nopLogger{}, Options{GroupSize: 5})

	if err := session.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	succeeded, failed, skipped := session.Counts()
	if succeeded != 1 || failed != 0 || skipped != 1 {
		t.Errorf("counts = (%d, %d, %d), want (1, 0, 1)", succeeded, failed, skipped)
	}
	if fetcher.callCount() != 1 {
		t.Errorf("fetch calls = %d, want 1", fetcher.callCount())
	}
}

func TestRunSuffixesDuplicateDisplayKeys(t *testing.T) {
	fetcher := &fakeFetcher{images: map[string]string{
		"http://img/a.jpg": "a",
		"http://img/b.jpg": "b",
	}}

	var buf bytes.Buffer
	writer := archive.NewWriter(&buf, archive.ModeDeflate)

	// Duplicate display keys within one batch must not collide.
	session := NewSession([]Candidate{
		{DisplayKey: "SAME", SourceURL: "http://img/a.jpg"},
		{DisplayKey: "SAME", SourceURL: "http://img/b.jpg"},
	}, writer, fetcher, nopLogger{}, Options{GroupSize: 1})

	if err := session.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	names := zipEntryNames(t, buf.Bytes())
	if len(names) != 2 {
		t.Fatalf("archive has %d entries, want 2", len(names))
	}
	seen := map[string]bool{}
	for _, n := range names {
		if seen[n] {
			t.Errorf("duplicate entry name %s", n)
		}
		seen[n] = true
	}
	if !seen["SAME.jpg"] || !seen["SAME_1.jpg"] {
		t.Errorf("unexpected entry names: %v", names)
	}
}

func TestRunFlushesBetweenGroups(t *testing.T) {
	fetcher := &fakeFetcher{images: map[string]string{
		"http://img/a.jpg": "a",
		"http://img/b.jpg": "b",
		"http://img/c.jpg": "c",
	}}
	writer := &recordingWriter{}
	flusher := &countingFlusher{}

	session := NewSession([]Candidate{
		{DisplayKey: "A", SourceURL: "http://img/a.jpg"},
		{DisplayKey: "B", SourceURL: "http://img/b.jpg"},
		{DisplayKey: "C", SourceURL: "http://img/c.jpg"},
	}, writer, fetcher, nopLogger{}, Options{GroupSize: 1})
	session.SetFlusher(flusher)

	if err := session.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	flusher.mu.Lock()
	defer flusher.mu.Unlock()
	if flusher.count < 3 {
		t.Errorf("flush count = %d, want >= 3 (one per group)", flusher.count)
	}
}

// dripFetcher serves bodies one byte at a time so archive writes are still
// in flight while the heartbeat ticks.
type dripFetcher struct {
	size  int
	pause time.Duration
}

func (f dripFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	return &dripBody{remaining: f.size, pause: f.pause}, nil
}

type dripBody struct {
	remaining int
	pause     time.Duration
}

func (b *dripBody) Read(p []byte) (int, error) {
	if b.remaining == 0 {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	time.Sleep(b.pause)
	p[0] = 'x'
	b.remaining--
	return 1, nil
}

func (b *dripBody) Close() error { return nil }

func TestRunHeartbeatOverlapsSlowEntries(t *testing.T) {
	fetcher := dripFetcher{size: 30, pause: time.Millisecond}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writer := archive.NewWriter(w, archive.ModeStore)
		session := NewSession([]Candidate{
			{DisplayKey: "SLOW1", SourceURL: "http://img/slow1.jpg"},
			{DisplayKey: "SLOW2", SourceURL: "http://img/slow2.jpg"},
		}, writer, fetcher, nopLogger{}, Options{GroupSize: 2, KeepAlive: time.Millisecond})
		session.SetFlusher(writer)

		if err := session.Run(r.Context()); err != nil {
			t.Errorf("Run: %v", err)
		}
	}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	names := zipEntryNames(t, data)
	if len(names) != 2 {
		t.Fatalf("archive has %d entries, want 2: %v", len(names), names)
	}
	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}
	if !seen["SLOW1.jpg"] || !seen["SLOW2.jpg"] {
		t.Errorf("unexpected entry names: %v", names)
	}
}

func TestExtensionFor(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"http://cdn.example.com/passports/ABC123.png", ".png"},
		{"http://cdn.example.com/passports/ABC123.JPEG", ".jpeg"},
		{"http://cdn.example.com/passports/ABC123.jpg?v=2", ".jpg"},
		{"http://cdn.example.com/passports/ABC123", ".jpg"},
		{"http://cdn.example.com/passports/ABC123.pdf", ".jpg"},
		{"://not-a-url", ".jpg"},
	}

	for _, tc := range cases {
		if got := extensionFor(tc.url); got != tc.want {
			t.Errorf("extensionFor(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

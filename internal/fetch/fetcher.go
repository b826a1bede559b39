package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// ErrTimeout indicates the connect+transfer deadline was exceeded
var ErrTimeout = errors.New("fetch timed out")

// ErrTooLarge indicates the remote object exceeds the configured size cap
var ErrTooLarge = errors.New("remote object too large")

// ErrBadStatus indicates a non-2xx response from the remote host
var ErrBadStatus = errors.New("unexpected response status")

// Fetcher opens remote passport images as byte streams with a bounded
// timeout and size cap. One outbound connection per Fetch call; the caller
// owns closing the returned stream.
type Fetcher struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
}

func New(timeout time.Duration, maxBytes int64) *Fetcher {
	// Based on http.DefaultTransport, with tighter dial/TLS deadlines.
	// Compression is disabled: the bytes go straight into a zip entry, so
	// decoding gzip first would waste CPU on both ends.
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   4 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true,
	}

	return &Fetcher{
		client:   &http.Client{Transport: transport},
		timeout:  timeout,
		maxBytes: maxBytes,
	}
}

// Fetch opens the URL and returns its body. The deadline covers the whole
// transfer: reads from the returned stream fail once it passes.
func (f *Fetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, url)
		}
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: %d from %s", ErrBadStatus, resp.StatusCode, url)
	}

	if resp.ContentLength > f.maxBytes {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: %d bytes from %s", ErrTooLarge, resp.ContentLength, url)
	}

	return &boundedBody{body: resp.Body, cancel: cancel, remaining: f.maxBytes}, nil
}

// boundedBody enforces the size cap on chunked responses that carry no
// Content-Length, and releases the request context when closed.
type boundedBody struct {
	body      io.ReadCloser
	cancel    context.CancelFunc
	remaining int64
}

func (b *boundedBody) Read(p []byte) (int, error) {
	if b.remaining < 0 {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > b.remaining+1 {
		p = p[:b.remaining+1]
	}
	n, err := b.body.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 {
		return n, ErrTooLarge
	}
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: mid-transfer", ErrTimeout)
	}
	return n, err
}

func (b *boundedBody) Close() error {
	err := b.body.Close()
	b.cancel()
	return err
}

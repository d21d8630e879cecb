package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/academia-ai/tutor/internal/version"
)

const (
	mimeJSON          = "application/json"
	headerContentType = "Content-Type"

	defaultTimeout = 60 * time.Second
	maxErrorBody   = 512
)

// Option customises an adapter at construction time.
type Option func(*adapterOptions)

type adapterOptions struct {
	httpClient *http.Client
	timeout    time.Duration
	baseURL    string
}

// WithTimeout bounds how long the adapter waits for the response headers and,
// once the body is streaming, for each next piece of it. A reply that keeps
// producing data is never cut off.
func WithTimeout(d time.Duration) Option {
	return func(o *adapterOptions) { o.timeout = d }
}

// WithHTTPClient replaces the adapter's HTTP client (tests, proxies).
func WithHTTPClient(c *http.Client) Option {
	return func(o *adapterOptions) { o.httpClient = c }
}

// WithBaseURL overrides the vendor endpoint.
func WithBaseURL(u string) Option {
	return func(o *adapterOptions) { o.baseURL = u }
}

func buildOptions(defaultBase string, opts []Option) adapterOptions {
	o := adapterOptions{timeout: defaultTimeout, baseURL: defaultBase}
	for _, fn := range opts {
		fn(&o)
	}
	if o.httpClient == nil {
		// No Client.Timeout: it would also cap the body of a long stream.
		o.httpClient = &http.Client{}
	}
	o.baseURL = strings.TrimRight(o.baseURL, "/")
	return o
}

func (o adapterOptions) transport(provider string) httpTransport {
	return httpTransport{provider: provider, client: o.httpClient, idle: o.timeout}
}

// httpTransport is the shared request plumbing of all adapters.
type httpTransport struct {
	provider string
	client   *http.Client
	idle     time.Duration // max silence before headers or between body reads; 0 disables
}

// postJSON marshals payload, sends it and returns the response when the status is 2xx.
// Caller is responsible for closing the returned body.
func (t httpTransport) postJSON(ctx context.Context, url string, headers map[string]string, payload any) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", t.provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", t.provider, err)
	}
	req.Header.Set(headerContentType, mimeJSON)
	return t.do(req, headers)
}

// get sends a GET and returns the body when the status is 2xx.
func (t httpTransport) get(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", t.provider, err)
	}
	return t.do(req, headers)
}

func (t httpTransport) do(req *http.Request, headers map[string]string) (io.ReadCloser, error) {
	req.Header.Set("User-Agent", version.UserAgent())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	ctx, cancel := context.WithCancel(req.Context())
	wd := newWatchdog(t.idle, cancel)
	resp, err := t.client.Do(req.WithContext(ctx))
	if err != nil {
		wd.stop()
		cancel()
		return nil, transportError(t.provider, req.URL.Path, wd.explain(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer cancel()
		defer wd.stop()
		defer resp.Body.Close() //nolint:errcheck
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, newStatusError(t.provider, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	wd.kick()
	return &watchedBody{body: resp.Body, wd: wd, cancel: cancel}, nil
}

// errStalled reports a provider that stopped sending data.
var errStalled = errors.New("provider stopped responding")

// watchdog cancels a request after a period without progress.
type watchdog struct {
	idle  time.Duration
	timer *time.Timer
	fired atomic.Bool
}

func newWatchdog(idle time.Duration, cancel context.CancelFunc) *watchdog {
	wd := &watchdog{idle: idle}
	if idle > 0 {
		wd.timer = time.AfterFunc(idle, func() {
			wd.fired.Store(true)
			cancel()
		})
	}
	return wd
}

// kick restarts the silence window.
func (w *watchdog) kick() {
	if w.timer != nil && !w.fired.Load() {
		w.timer.Reset(w.idle)
	}
}

func (w *watchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

// explain replaces the cancellation caused by the watchdog with a timeout error.
func (w *watchdog) explain(err error) error {
	if err != nil && w.fired.Load() {
		return fmt.Errorf("%w: no data for %s: %w", errStalled, w.idle, context.DeadlineExceeded)
	}
	return err
}

// watchedBody kicks the watchdog on every read that makes progress.
type watchedBody struct {
	body   io.ReadCloser
	wd     *watchdog
	cancel context.CancelFunc
}

func (b *watchedBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if n > 0 {
		b.wd.kick()
	}
	if err != nil && err != io.EOF {
		err = b.wd.explain(err)
	}
	return n, err
}

func (b *watchedBody) Close() error {
	b.wd.stop()
	b.cancel()
	return b.body.Close()
}

// readSSE calls fn with the payload of every "data:" line of a server-sent event stream
// until fn asks to stop, the stream ends, or ctx is cancelled.
func readSSE(ctx context.Context, body io.Reader, fn func(data []byte) (stop bool)) error {
	reader := bufio.NewReader(body)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data != "" && fn([]byte(data)) {
				return nil
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// emit sends a chunk unless the consumer has gone away.
func emit(ctx context.Context, out chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

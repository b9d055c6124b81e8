package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/joshuapare/flashdm/pkg/types"
)

// DefaultChunkSize matches the receive buffer of the device network stack.
const DefaultChunkSize = 1536

// HTTPOption configures an HTTPClient.
type HTTPOption func(*httpOptions)

type httpOptions struct {
	chunkSize    int
	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
	userAgent    string
	logger       *slog.Logger
}

// WithChunkSize sets the size of the chunks handed to the stream engine.
func WithChunkSize(n int) HTTPOption {
	return func(o *httpOptions) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithRetry sets the retry policy for connecting and sending the request.
func WithRetry(maxRetries int, waitMin, waitMax time.Duration) HTTPOption {
	return func(o *httpOptions) {
		o.retryMax = maxRetries
		o.retryWaitMin = waitMin
		o.retryWaitMax = waitMax
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(o *httpOptions) { o.userAgent = ua }
}

// WithHTTPLogger routes retry diagnostics to l.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(o *httpOptions) { o.logger = l }
}

type chunkResult struct {
	data []byte
	err  error
}

// HTTPClient is a Client that GETs the blob over HTTP(S).
type HTTPClient struct {
	opts   httpOptions
	client *retryablehttp.Client

	ep        Endpoint
	connected bool
	resp      *http.Response
	cancel    context.CancelFunc
	results   chan chunkResult
	done      chan struct{}
	eof       bool
	closeOnce sync.Once
}

// NewHTTPClient creates a client. Each client serves a single download.
func NewHTTPClient(opts ...HTTPOption) *HTTPClient {
	o := httpOptions{
		chunkSize:    DefaultChunkSize,
		retryMax:     3,
		retryWaitMin: 500 * time.Millisecond,
		retryWaitMax: 5 * time.Second,
		userAgent:    "flashdm/1.0",
	}
	for _, opt := range opts {
		opt(&o)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = o.retryMax
	rc.RetryWaitMin = o.retryWaitMin
	rc.RetryWaitMax = o.retryWaitMax
	rc.Logger = nil
	if o.logger != nil {
		rc.Logger = o.logger
	}

	return &HTTPClient{opts: o, client: rc, done: make(chan struct{})}
}

// HTTPFactory returns a Factory producing clients configured with opts.
func HTTPFactory(opts ...HTTPOption) Factory {
	return func() Client { return NewHTTPClient(opts...) }
}

// Connect records the endpoint. The connection itself is opened by
// SendRequest so retries cover both steps.
func (c *HTTPClient) Connect(_ context.Context, ep Endpoint) error {
	if ep.Protocol != "http" && ep.Protocol != "https" {
		return types.Errorf(types.ErrKindNotSupported, "blob protocol %q", ep.Protocol)
	}
	c.ep = ep
	c.connected = true
	return nil
}

// SendRequest issues the GET and starts reading the body in chunks.
func (c *HTTPClient) SendRequest(ctx context.Context) error {
	if !c.connected {
		return types.Errorf(types.ErrKindArgument, "blob request before connect")
	}
	if c.resp != nil {
		return types.Errorf(types.ErrKindBusy, "blob request already sent")
	}

	reqCtx, cancel := context.WithCancel(ctx)
	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodGet,
		c.ep.Protocol+"://"+c.ep.Host+"/"+c.ep.Resource, nil)
	if err != nil {
		cancel()
		return types.Wrap(types.ErrKindArgument, "build blob request", err)
	}
	req.Header.Set("User-Agent", c.opts.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		return types.Wrap(types.ErrKindSystem, "blob request "+c.ep.String(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		cancel()
		kind := types.ErrKindSystem
		if resp.StatusCode == http.StatusNotFound {
			kind = types.ErrKindNotFound
		}
		return types.Errorf(kind, "blob request %s: %s", c.ep.String(), resp.Status)
	}

	c.resp = resp
	c.cancel = cancel
	c.results = make(chan chunkResult, 1)
	go c.pump(resp.Body)
	return nil
}

// pump reads the body one chunk at a time until EOF, an error, or Close.
func (c *HTTPClient) pump(body io.Reader) {
	defer close(c.results)
	for {
		chunk := make([]byte, c.opts.chunkSize)
		n, err := io.ReadFull(body, chunk)
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		select {
		case c.results <- chunkResult{data: chunk[:n], err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// TotalSize implements Client.
func (c *HTTPClient) TotalSize() int64 {
	if c.resp == nil {
		return -1
	}
	return c.resp.ContentLength
}

// NextChunk implements Client. A chunk that does not arrive within timeout
// aborts the transfer.
func (c *HTTPClient) NextChunk(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if c.results == nil {
		return nil, types.Errorf(types.ErrKindArgument, "blob chunk before request")
	}
	if c.eof {
		return nil, io.EOF
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r, ok := <-c.results:
		if !ok {
			c.eof = true
			return nil, io.EOF
		}
		if errors.Is(r.err, io.EOF) {
			c.eof = true
			return r.data, io.EOF
		}
		if r.err != nil {
			return nil, types.Wrap(types.ErrKindSystem, "blob read "+c.ep.String(), r.err)
		}
		return r.data, nil
	case <-timer.C:
		c.abort()
		return nil, types.Wrap(types.ErrKindTimeout, fmt.Sprintf("blob chunk after %s", timeout), types.ErrTimeout)
	case <-ctx.Done():
		c.abort()
		return nil, ctx.Err()
	}
}

func (c *HTTPClient) abort() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.cancel != nil {
			c.cancel()
		}
		if c.resp != nil {
			_ = c.resp.Body.Close()
		}
	})
}

// Close tears the connection down. It is safe to call more than once.
func (c *HTTPClient) Close() error {
	c.abort()
	return nil
}

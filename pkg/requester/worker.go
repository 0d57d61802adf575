package requester

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"l7agent/pkg/randurl"
)

const (
	// DefaultTimeout bounds the send and the response headers of one request
	DefaultTimeout = 10 * time.Second
	// DefaultDrainTimeout bounds reading one response body
	DefaultDrainTimeout = 60 * time.Second
)

var (
	errSendTimeout  = errors.New("request timed out")
	errDrainTimeout = errors.New("response drain timed out")
)

// Sender sends a single request. *http.Client and the pooled clients of
// package client satisfy it.
type Sender interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request is the immutable definition of the requests a worker fires
type Request struct {
	Method string
	// URL is used verbatim unless Template is set
	URL      string
	Template *randurl.Template
	Header   http.Header
	Body     []byte

	Timeout      time.Duration
	DrainTimeout time.Duration
}

func (r *Request) timeout() time.Duration {
	if r.Timeout <= 0 {
		return DefaultTimeout
	}
	return r.Timeout
}

func (r *Request) drainTimeout() time.Duration {
	if r.DrainTimeout <= 0 {
		return DefaultDrainTimeout
	}
	return r.DrainTimeout
}

// Describe returns the URL, or the template text in random mode
func (r *Request) Describe() string {
	if r.Template != nil {
		return r.Template.Raw()
	}
	return r.URL
}

func (r *Request) target(rng *rand.Rand) string {
	if r.Template != nil {
		return r.Template.Generate(rng)
	}
	return r.URL
}

func (r *Request) build(ctx context.Context, rng *rand.Rand) (*http.Request, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.target(rng), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if r.Header != nil {
		req.Header = r.Header.Clone()
	}
	return req, nil
}

// Worker is one fire loop bound to one sender and one request definition
type Worker struct {
	sender   Sender
	request  *Request
	stats    *Statistics
	shutdown *Shutdown
	rng      *rand.Rand
}

// NewWorker creates a worker. Every worker owns its random source.
func NewWorker(sender Sender, request *Request, stats *Statistics, shutdown *Shutdown) *Worker {
	return &Worker{
		sender:   sender,
		request:  request,
		stats:    stats,
		shutdown: shutdown,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// Run fires requests until shutdown is triggered. It never stops because of a
// failed request and always returns nil, so it can be handed to an errgroup.
func (w *Worker) Run() error {
	for {
		if w.shutdown.Triggered() {
			return nil
		}
		w.fire()
		runtime.Gosched()
	}
}

func (w *Worker) fire() {
	ctx, cancel := context.WithCancelCause(w.shutdown.Context())
	defer cancel(nil)

	req, err := w.request.build(ctx, w.rng)
	if err != nil {
		w.stats.RecordFailure()
		return
	}

	sendTimer := time.AfterFunc(w.request.timeout(), func() { cancel(errSendTimeout) })
	resp, err := w.sender.Do(req)
	sendTimer.Stop()
	if err != nil {
		// requests interrupted by shutdown are not failures of the target
		if !w.shutdown.Triggered() {
			w.stats.RecordFailure()
		}
		return
	}

	drainTimer := time.AfterFunc(w.request.drainTimeout(), func() { cancel(errDrainTimeout) })
	n, _ := drain(resp)
	drainTimer.Stop()

	w.stats.RecordResponse(resp.StatusCode, uint64(n), errors.Is(context.Cause(ctx), errDrainTimeout))
}

// drain reads the decoded body to completion and closes it
func drain(resp *http.Response) (int64, error) {
	defer resp.Body.Close()

	body, err := decodedBody(resp)
	if err != nil {
		// undecodable payloads are still drained so the connection can be reused
		n, copyErr := io.Copy(io.Discard, resp.Body)
		if copyErr != nil {
			return n, copyErr
		}
		return n, err
	}
	defer body.Close()

	return io.Copy(io.Discard, body)
}

// decodedBody wraps the body according to its Content-Encoding. The transport
// runs with compression handling disabled, so encodings negotiated through
// Accept-Encoding arrive untouched.
func decodedBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip body: %w", err)
		}
		return zr, nil
	case "deflate":
		br := bufio.NewReader(resp.Body)
		if isZlibHeader(br) {
			zr, err := zlib.NewReader(br)
			if err != nil {
				return nil, fmt.Errorf("failed to open deflate body: %w", err)
			}
			return zr, nil
		}
		// some servers send raw deflate without the zlib wrapper
		return flate.NewReader(br), nil
	default:
		return io.NopCloser(resp.Body), nil
	}
}

func isZlibHeader(br *bufio.Reader) bool {
	hdr, err := br.Peek(2)
	if err != nil {
		return false
	}
	return hdr[0]&0x0f == 8 && (uint16(hdr[0])<<8|uint16(hdr[1]))%31 == 0
}

// SendOnce fires a single request and returns the status code and decoded body.
// Unlike the fire loop it reports failures to the caller instead of counting
// them.
func SendOnce(ctx context.Context, sender Sender, request *Request) (int, []byte, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	req, err := request.build(ctx, rng)
	if err != nil {
		return 0, nil, err
	}

	sendTimer := time.AfterFunc(request.timeout(), func() { cancel(errSendTimeout) })
	resp, err := sender.Do(req)
	sendTimer.Stop()
	if err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, errSendTimeout) {
			return 0, nil, fmt.Errorf("failed to send request: %w", cause)
		}
		return 0, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	drainTimer := time.AfterFunc(request.drainTimeout(), func() { cancel(errDrainTimeout) })
	defer drainTimer.Stop()

	body, err := decodedBody(resp)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	defer body.Close()

	content, err := io.ReadAll(body)
	if err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, errDrainTimeout) {
			err = cause
		}
		return resp.StatusCode, content, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, content, nil
}

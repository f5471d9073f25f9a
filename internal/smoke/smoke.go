// Package smoke probes a running server the way a deployment check would:
// health, the event stream, message posting and an optional JSON-RPC round
// trip.
package smoke

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Result is the outcome of one check.
type Result struct {
	Name       string        `json:"name"`
	Passed     bool          `json:"passed"`
	Message    string        `json:"message"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
}

type Report struct {
	BaseURL string   `json:"base_url"`
	Results []Result `json:"results"`
	Passed  int      `json:"passed"`
	Failed  int      `json:"failed"`
}

func (r Report) OK() bool { return r.Failed == 0 }

type Options struct {
	BaseURL string
	// Wait bounds how long wait_healthy polls.
	Wait time.Duration
	// Timeout applies to each plain HTTP request.
	Timeout      time.Duration
	PollInterval time.Duration
	FailFast     bool
	// Full adds the initialize/tools/list round trip.
	Full bool
	// Client is used for plain requests. The event stream always uses its
	// own client without a timeout.
	Client *http.Client
}

func (o Options) withDefaults() Options {
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.BaseURL == "" {
		o.BaseURL = "http://localhost:8000"
	}
	if o.Wait <= 0 {
		o.Wait = 60 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Client == nil {
		o.Client = &http.Client{}
	}
	return o
}

type check struct {
	name string
	run  func(ctx context.Context) (string, error)
}

// Runner executes the checks in order and shares the open stream between
// them.
type Runner struct {
	opts   Options
	stream *eventStream
}

func New(opts Options) *Runner {
	return &Runner{opts: opts.withDefaults()}
}

func (r *Runner) checks() []check {
	list := []check{
		{"wait_healthy", r.waitHealthy},
		{"health", r.health},
		{"sse_stream", r.sseStream},
		{"messages_json", r.messagesJSON},
		{"messages_multipart", r.messagesMultipart},
	}
	if r.opts.Full {
		list = append(list, check{"rpc_roundtrip", r.rpcRoundTrip})
	}
	return append(list, check{"invalid_endpoint", r.invalidEndpoint})
}

// Run executes every check and returns the report. With FailFast it stops
// after the first failure.
func (r *Runner) Run(ctx context.Context) Report {
	defer r.closeStream()

	rep := Report{BaseURL: r.opts.BaseURL}
	for _, c := range r.checks() {
		start := time.Now()
		msg, err := c.run(ctx)
		res := Result{Name: c.name, Passed: err == nil, Message: msg}
		if err != nil {
			res.Message = err.Error()
		}
		res.Duration = time.Since(start)
		res.DurationMS = res.Duration.Milliseconds()
		rep.Results = append(rep.Results, res)

		if res.Passed {
			rep.Passed++
			continue
		}
		rep.Failed++
		if r.opts.FailFast {
			break
		}
	}
	return rep
}

func (r *Runner) closeStream() {
	if r.stream != nil {
		r.stream.Close()
		r.stream = nil
	}
}

var errNoSession = errors.New("no open stream session (sse_stream failed)")

func (r *Runner) url(path string) string { return r.opts.BaseURL + path }

func (r *Runner) do(ctx context.Context, method, path, contentType string, body string) (int, http.Header, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.url(path), rd)
	if err != nil {
		return 0, nil, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := r.opts.Client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()
	b, err := readAllLimited(resp.Body)
	if err != nil {
		return resp.StatusCode, resp.Header, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, resp.Header, b, nil
}

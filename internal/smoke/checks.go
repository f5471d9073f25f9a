package smoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
)

const maxBodyBytes = 1 << 20

func readAllLimited(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBodyBytes))
}

const pingMessage = `{"jsonrpc":"2.0","method":"ping","id":1}`

func decodeJSON(body []byte) (any, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("response body is not valid JSON: %w", err)
	}
	return doc, nil
}

func pathEq(doc any, expr string, want any) error {
	got, err := jsonpath.Get(expr, doc)
	if err != nil {
		return fmt.Errorf("jsonpath %q: %w", expr, err)
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		return fmt.Errorf("jsonpath %q: expected %v, got %v", expr, want, got)
	}
	return nil
}

func pathExists(doc any, expr string) error {
	got, err := jsonpath.Get(expr, doc)
	if err != nil {
		return fmt.Errorf("jsonpath %q: %w", expr, err)
	}
	if got == nil {
		return fmt.Errorf("jsonpath %q: expected value to exist", expr)
	}
	if s, ok := got.(string); ok && s == "" {
		return fmt.Errorf("jsonpath %q: expected value to exist, got empty", expr)
	}
	return nil
}

func (r *Runner) waitHealthy(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Wait)
	defer cancel()

	start := time.Now()
	t := time.NewTicker(r.opts.PollInterval)
	defer t.Stop()

	var last error
	for attempt := 1; ; attempt++ {
		status, _, body, err := r.do(ctx, http.MethodGet, "/health", "", "")
		switch {
		case err != nil:
			last = err
		case status != http.StatusOK:
			last = fmt.Errorf("status %d", status)
		default:
			doc, derr := decodeJSON(body)
			if derr == nil {
				derr = pathEq(doc, "$.status", "healthy")
			}
			if derr == nil {
				return fmt.Sprintf("healthy after %d attempt(s) in %s", attempt, time.Since(start).Round(time.Millisecond)), nil
			}
			last = derr
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("not healthy within %s: %v", r.opts.Wait, last)
		case <-t.C:
		}
	}
}

func (r *Runner) health(ctx context.Context) (string, error) {
	status, _, body, err := r.do(ctx, http.MethodGet, "/health", "", "")
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("expected status 200, got %d", status)
	}
	doc, err := decodeJSON(body)
	if err != nil {
		return "", err
	}
	if err := pathEq(doc, "$.status", "healthy"); err != nil {
		return "", err
	}
	for _, expr := range []string{"$.server", "$.version", "$.transport"} {
		if err := pathExists(doc, expr); err != nil {
			return "", err
		}
	}
	server, _ := jsonpath.Get("$.server", doc)
	version, _ := jsonpath.Get("$.version", doc)
	return fmt.Sprintf("%v %v", server, version), nil
}

func (r *Runner) sseStream(ctx context.Context) (string, error) {
	s, err := openStream(ctx, r.url("/sse"), r.opts.Timeout)
	if err != nil {
		return "", err
	}
	r.stream = s
	return "session " + s.SessionID, nil
}

func (r *Runner) postMessage(ctx context.Context, contentType, body string) error {
	if r.stream == nil {
		return errNoSession
	}
	status, _, resp, err := r.do(ctx, http.MethodPost, r.stream.Endpoint, contentType, body)
	if err != nil {
		return err
	}
	if status != http.StatusAccepted {
		return fmt.Errorf("expected status 202, got %d: %s", status, strings.TrimSpace(string(resp)))
	}
	return nil
}

func (r *Runner) messagesJSON(ctx context.Context) (string, error) {
	if err := r.postMessage(ctx, "application/json", pingMessage); err != nil {
		return "", err
	}
	return "202 Accepted", nil
}

func (r *Runner) messagesMultipart(ctx context.Context) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("data", pingMessage); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	if err := r.postMessage(ctx, mw.FormDataContentType(), buf.String()); err != nil {
		return "", err
	}
	return "202 Accepted", nil
}

func (r *Runner) call(ctx context.Context, id, method string, params any) (any, error) {
	msg := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		msg["params"] = params
	}
	b, _ := json.Marshal(msg)
	if err := r.postMessage(ctx, "application/json", string(b)); err != nil {
		return nil, err
	}
	data, err := r.stream.WaitFor(ctx, id, r.opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	doc, err := decodeJSON(data)
	if err != nil {
		return nil, err
	}
	if e, _ := jsonpath.Get("$.error.message", doc); e != nil {
		return nil, fmt.Errorf("%s: rpc error: %v", method, e)
	}
	return doc, nil
}

func (r *Runner) rpcRoundTrip(ctx context.Context) (string, error) {
	if r.stream == nil {
		return "", errNoSession
	}
	doc, err := r.call(ctx, "smoke-init", "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "browsermcp-smoke", "version": "1.0"},
	})
	if err != nil {
		return "", err
	}
	if err := pathExists(doc, "$.result.protocolVersion"); err != nil {
		return "", err
	}
	if err := r.postMessage(ctx, "application/json", `{"jsonrpc":"2.0","method":"notifications/initialized"}`); err != nil {
		return "", err
	}

	doc, err = r.call(ctx, "smoke-tools", "tools/list", nil)
	if err != nil {
		return "", err
	}
	tools, err := jsonpath.Get("$.result.tools", doc)
	if err != nil {
		return "", fmt.Errorf("jsonpath %q: %w", "$.result.tools", err)
	}
	list, _ := tools.([]any)
	if len(list) == 0 {
		return "", fmt.Errorf("tools/list returned no tools")
	}
	return fmt.Sprintf("initialize ok, %d tools", len(list)), nil
}

func (r *Runner) invalidEndpoint(ctx context.Context) (string, error) {
	status, _, _, err := r.do(ctx, http.MethodGet, "/invalid", "", "")
	if err != nil {
		return "", err
	}
	if status != http.StatusNotFound {
		return "", fmt.Errorf("expected status 404, got %d", status)
	}
	return "404 Not Found", nil
}

package smoke

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

type sseEvent struct {
	Name string
	Data string
}

// eventStream keeps one GET /sse open and collects its message events.
type eventStream struct {
	SessionID string
	Endpoint  string

	cancel context.CancelFunc
	body   interface{ Close() error }

	mu      sync.Mutex
	pending []string
	notify  chan struct{}
	done    chan struct{}
	err     error
}

func openStream(ctx context.Context, url string, timeout time.Duration) (*eventStream, error) {
	sctx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)

	req, err := http.NewRequestWithContext(sctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// the stream outlives any request timeout, so only the header wait is bounded
	timer := time.AfterFunc(timeout, cancel)
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		timer.Stop()
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		timer.Stop()
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		timer.Stop()
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("expected content-type text/event-stream, got %q", ct)
	}

	rd := bufio.NewReader(resp.Body)
	first, err := readEvent(rd)
	timer.Stop()
	if err != nil {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("read endpoint event: %w", err)
	}
	if first.Name != "endpoint" {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("expected first event %q, got %q", "endpoint", first.Name)
	}
	_, sid, ok := strings.Cut(first.Data, "session_id=")
	if !ok || sid == "" {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("endpoint event has no session_id: %q", first.Data)
	}

	s := &eventStream{
		SessionID: sid,
		Endpoint:  first.Data,
		cancel: func() {
			stop()
			cancel()
		},
		body:   resp.Body,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.readLoop(rd)
	return s, nil
}

// readEvent returns the next event, skipping comment lines.
func readEvent(rd *bufio.Reader) (sseEvent, error) {
	var ev sseEvent
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			return ev, err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if ev.Name != "" || ev.Data != "" {
				return ev, nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			ev.Data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}

func (s *eventStream) readLoop(rd *bufio.Reader) {
	defer close(s.done)
	for {
		ev, err := readEvent(rd)
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
		if ev.Name != "message" {
			continue
		}
		s.mu.Lock()
		s.pending = append(s.pending, ev.Data)
		s.mu.Unlock()
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

// take removes and returns the first pending message whose id equals id.
func (s *eventStream) take(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, data := range s.pending {
		var msg struct {
			ID json.RawMessage `json:"id"`
		}
		if json.Unmarshal([]byte(data), &msg) != nil {
			continue
		}
		var got string
		if json.Unmarshal(msg.ID, &got) != nil {
			got = string(msg.ID)
		}
		if got == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return data, true
		}
	}
	return "", false
}

var errStreamClosed = errors.New("event stream closed")

// WaitFor blocks until a message with the given id arrives.
func (s *eventStream) WaitFor(ctx context.Context, id string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		if data, ok := s.take(id); ok {
			return []byte(data), nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("no response with id %q: %w", id, ctx.Err())
		case <-s.done:
			if data, ok := s.take(id); ok {
				return []byte(data), nil
			}
			return nil, errStreamClosed
		case <-s.notify:
		}
	}
}

func (s *eventStream) Close() {
	s.cancel()
	_ = s.body.Close()
	<-s.done
}

// Package stdio serves MCP over newline-delimited JSON on a pair of streams.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"browsermcp/internal/infra/logging"
	"browsermcp/internal/mcp"
)

// SessionID is the implicit session every stdio message belongs to.
const SessionID = "stdio"

const maxLineBytes = 8 << 20

// Handler is the part of mcp.Server the loop needs.
type Handler interface {
	Handle(ctx context.Context, sessionID string, raw []byte) *mcp.Response
}

// Serve reads one message per line from in and writes one response per line
// to out. It returns nil on EOF and ctx.Err() when the context ends first.
func Serve(ctx context.Context, in io.Reader, out io.Writer, h Handler) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), maxLineBytes)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			select {
			case lines <- append([]byte(nil), line...):
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	w := &lineWriter{w: out}
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				wg.Wait()
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("read stdin: %w", err)
					}
				default:
				}
				logging.Info("stdio input closed")
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp := h.Handle(ctx, SessionID, line)
				if resp == nil {
					return
				}
				if err := w.write(mcp.Marshal(resp)); err != nil && !errors.Is(err, io.ErrClosedPipe) {
					logging.Warn("stdio write failed", "error", err)
				}
			}()
		}
	}
}

type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) write(msg []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(append(msg, '\n')); err != nil {
		return err
	}
	return nil
}

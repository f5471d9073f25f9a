// Package display runs the virtual X server and the optional VNC server that
// a headful Chrome needs inside a container.
package display

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"browsermcp/internal/config"
	"browsermcp/internal/domain"
	"browsermcp/internal/infra/logging"
)

// Supervisor owns one child process.
type Supervisor struct {
	Name string
	Path string
	Args []string

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func NewSupervisor(name, path string, args ...string) *Supervisor {
	return &Supervisor{Name: name, Path: path, Args: args}
}

// Start launches the process. It is killed when ctx ends.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return fmt.Errorf("%s already started", s.Name)
	}

	cmd := exec.CommandContext(ctx, s.Path, s.Args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	cmd.WaitDelay = 3 * time.Second
	if err := cmd.Start(); err != nil {
		return &domain.OpError{Op: "display.Start", Kind: domain.KindProcess, Path: s.Path, Err: err}
	}
	s.cmd = cmd
	s.done = make(chan struct{})
	logging.Info("process started", "name", s.Name, "pid", cmd.Process.Pid, "args", strings.Join(s.Args, " "))

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	}()
	return nil
}

// Wait blocks until the process exits and returns its exit error.
func (s *Supervisor) Wait() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return fmt.Errorf("%s not started", s.Name)
	}
	<-done
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return &domain.OpError{Op: "display.Wait", Kind: domain.KindProcess, Path: s.Path, Err: s.err}
	}
	return nil
}

// Stop interrupts the process and waits for it. Safe to call more than once.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	select {
	case <-done:
		return
	default:
	}
	_ = cmd.Process.Signal(os.Interrupt)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		_ = cmd.Process.Kill()
		<-done
	}
	logging.Info("process stopped", "name", s.Name)
}

// Exited reports whether the process has ended.
func (s *Supervisor) Exited() bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// XvfbArgs builds the arguments for the virtual framebuffer.
func XvfbArgs(cfg config.DisplayConfig) []string {
	return []string{cfg.Display, "-screen", "0", cfg.Screen, "-nolisten", "tcp"}
}

// X11VNCArgs builds the arguments for the VNC server. Without a password
// clients connect unauthenticated.
func X11VNCArgs(cfg config.DisplayConfig) []string {
	args := []string{"-display", cfg.Display, "-forever", "-shared", "-rfbport", fmt.Sprint(cfg.VNCPort)}
	if cfg.VNCPassword != "" {
		return append(args, "-passwd", cfg.VNCPassword)
	}
	return append(args, "-nopw")
}

// SocketPath maps a display such as ":99" to its X11 unix socket.
func SocketPath(display string) string {
	n := strings.TrimPrefix(display, ":")
	if i := strings.IndexByte(n, '.'); i >= 0 {
		n = n[:i]
	}
	return filepath.Join("/tmp/.X11-unix", "X"+n)
}

// ErrSocketTimeout means the X server never created its socket.
var ErrSocketTimeout = errors.New("display socket did not appear")

// WaitForSocket polls for path until it exists, ctx ends or timeout passes.
func WaitForSocket(ctx context.Context, path string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return &domain.OpError{Op: "display.WaitForSocket", Kind: domain.KindProcess, Path: path, Err: ErrSocketTimeout}
		case <-t.C:
		}
	}
}

// Stack is the X server plus the optional VNC server.
type Stack struct {
	cfg  config.DisplayConfig
	Xvfb *Supervisor
	VNC  *Supervisor
}

func NewStack(cfg config.DisplayConfig) *Stack {
	s := &Stack{cfg: cfg, Xvfb: NewSupervisor("xvfb", cfg.XvfbPath, XvfbArgs(cfg)...)}
	if cfg.EnableVNC {
		s.VNC = NewSupervisor("x11vnc", cfg.X11VNCPath, X11VNCArgs(cfg)...)
	}
	return s
}

// Start brings up Xvfb, waits for its socket, exports DISPLAY and then starts
// VNC when enabled.
func (s *Stack) Start(ctx context.Context, socketTimeout time.Duration) error {
	if err := s.Xvfb.Start(ctx); err != nil {
		return err
	}
	if err := WaitForSocket(ctx, SocketPath(s.cfg.Display), socketTimeout); err != nil {
		s.Xvfb.Stop()
		return err
	}
	if err := os.Setenv("DISPLAY", s.cfg.Display); err != nil {
		return err
	}
	if s.VNC != nil {
		if err := s.VNC.Start(ctx); err != nil {
			s.Xvfb.Stop()
			return err
		}
	}
	return nil
}

// Supervisors lists the started processes.
func (s *Stack) Supervisors() []*Supervisor {
	out := []*Supervisor{s.Xvfb}
	if s.VNC != nil {
		out = append(out, s.VNC)
	}
	return out
}

func (s *Stack) Stop() {
	if s.VNC != nil {
		s.VNC.Stop()
	}
	s.Xvfb.Stop()
}

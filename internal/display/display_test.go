package display

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"browsermcp/internal/config"
	"browsermcp/internal/domain"
)

func TestArgs(t *testing.T) {
	cfg := config.Defaults().Display
	assert.Equal(t, []string{":99", "-screen", "0", "1920x1080x24", "-nolisten", "tcp"}, XvfbArgs(cfg))
	assert.Equal(t, []string{"-display", ":99", "-forever", "-shared", "-rfbport", "5900", "-nopw"}, X11VNCArgs(cfg))

	cfg.VNCPassword = "secret"
	args := X11VNCArgs(cfg)
	assert.Equal(t, []string{"-passwd", "secret"}, args[len(args)-2:])
}

func TestSocketPath(t *testing.T) {
	assert.Equal(t, "/tmp/.X11-unix/X99", SocketPath(":99"))
	assert.Equal(t, "/tmp/.X11-unix/X1", SocketPath(":1.0"))
}

func TestWaitForSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "X5")
	go func() {
		time.Sleep(150 * time.Millisecond)
		_ = os.WriteFile(path, nil, 0o600)
	}()
	require.NoError(t, WaitForSocket(context.Background(), path, 2*time.Second))

	err := WaitForSocket(context.Background(), filepath.Join(t.TempDir(), "never"), 200*time.Millisecond)
	assert.ErrorIs(t, err, ErrSocketTimeout)
	assert.True(t, domain.IsKind(err, domain.KindProcess))
}

func lookPath(t *testing.T, name string) string {
	t.Helper()
	p, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available", name)
	}
	return p
}

func TestSupervisor_StartWaitStop(t *testing.T) {
	s := NewSupervisor("sleep", lookPath(t, "sleep"), "30")
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "second start must fail")
	assert.False(t, s.Exited())

	s.Stop()
	assert.True(t, s.Exited())
	assert.Error(t, s.Wait(), "interrupted process reports an exit error")
	s.Stop()
}

func TestSupervisor_CleanExit(t *testing.T) {
	s := NewSupervisor("true", lookPath(t, "true"))
	require.NoError(t, s.Start(context.Background()))
	assert.NoError(t, s.Wait())
}

func TestSupervisor_MissingBinary(t *testing.T) {
	s := NewSupervisor("nope", filepath.Join(t.TempDir(), "missing-binary"))
	err := s.Start(context.Background())
	assert.True(t, domain.IsKind(err, domain.KindProcess))
	assert.Error(t, s.Wait())
}

func TestNewStack_VNCOptional(t *testing.T) {
	cfg := config.Defaults().Display
	assert.Len(t, NewStack(cfg).Supervisors(), 1)
	cfg.EnableVNC = true
	assert.Len(t, NewStack(cfg).Supervisors(), 2)
}

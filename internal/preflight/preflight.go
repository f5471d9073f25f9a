// Package preflight holds the container start checks: mounts, LLM keys and
// the optional switch to an unprivileged user.
package preflight

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"browsermcp/internal/config"
	"browsermcp/internal/domain"
	"browsermcp/internal/infra/logging"
)

const probeName = ".browsermcp-write-probe"

// CheckMounts verifies that every path exists, is a directory and accepts a
// new file. It stops at the first failing path.
func CheckMounts(paths ...string) error {
	for _, p := range paths {
		if err := checkMount(p); err != nil {
			return err
		}
		logging.Debug("mount ok", "path", p)
	}
	return nil
}

func checkMount(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &domain.OpError{Op: "preflight.CheckMounts", Kind: domain.KindMount, Path: path, Err: domain.ErrMountMissing}
		}
		return &domain.OpError{Op: "preflight.CheckMounts", Kind: domain.KindMount, Path: path, Err: fmt.Errorf("%w: %v", domain.ErrMountMissing, err)}
	}
	if !fi.IsDir() {
		return &domain.OpError{Op: "preflight.CheckMounts", Kind: domain.KindMount, Path: path, Err: fmt.Errorf("%w: not a directory", domain.ErrMountMissing)}
	}

	probe := filepath.Join(path, probeName)
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return &domain.OpError{Op: "preflight.CheckMounts", Kind: domain.KindMount, Path: path, Err: fmt.Errorf("%w: %v", domain.ErrMountNotWritable, err)}
	}
	_ = f.Close()
	if err := os.Remove(probe); err != nil {
		return &domain.OpError{Op: "preflight.CheckMounts", Kind: domain.KindMount, Path: path, Err: fmt.Errorf("%w: %v", domain.ErrMountNotWritable, err)}
	}
	return nil
}

// CheckLLMKeys logs which keys are present. Having none is not fatal: the
// server runs, only agent-backed clients will fail.
func CheckLLMKeys(llm config.LLMConfig) error {
	keys := llm.Configured()
	if len(keys) == 0 {
		logging.Warn("no LLM API key configured", "error", domain.ErrNoLLMKey,
			"expected", "OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY or BROWSER_USE_API_KEY")
		return domain.ErrNoLLMKey
	}
	logging.Info("LLM API keys configured", "keys", keys)
	return nil
}

// Run performs the mount and key checks. Only the mount check can fail it.
func Run(cfg config.Config) error {
	if err := CheckMounts(cfg.Mounts.DataDir, cfg.Mounts.DownloadsDir); err != nil {
		return err
	}
	_ = CheckLLMKeys(cfg.LLM)
	return nil
}

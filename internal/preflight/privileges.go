package preflight

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"browsermcp/internal/domain"
	"browsermcp/internal/infra/logging"
)

// ChownTree changes the owner of root and everything below it.
func ChownTree(root string, uid, gid int) error {
	return filepath.WalkDir(root, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := os.Lchown(path, uid, gid); err != nil {
			return &domain.OpError{Op: "preflight.ChownTree", Kind: domain.KindMount, Path: path, Err: err}
		}
		return nil
	})
}

// DropPrivileges hands the mounts to uid:gid and switches the process to
// that user. It does nothing unless running as root with both ids set.
func DropPrivileges(uid, gid int, paths ...string) (bool, error) {
	if os.Geteuid() != 0 || uid <= 0 || gid <= 0 {
		return false, nil
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := ChownTree(p, uid, gid); err != nil {
			return false, err
		}
	}
	// group first, setuid would remove the right to change it
	if err := syscall.Setgroups([]int{gid}); err != nil {
		return false, &domain.OpError{Op: "preflight.DropPrivileges", Kind: domain.KindProcess, Err: fmt.Errorf("setgroups: %w", err)}
	}
	if err := syscall.Setgid(gid); err != nil {
		return false, &domain.OpError{Op: "preflight.DropPrivileges", Kind: domain.KindProcess, Err: fmt.Errorf("setgid: %w", err)}
	}
	if err := syscall.Setuid(uid); err != nil {
		return false, &domain.OpError{Op: "preflight.DropPrivileges", Kind: domain.KindProcess, Err: fmt.Errorf("setuid: %w", err)}
	}
	logging.Info("dropped privileges", "uid", uid, "gid", gid)
	return true, nil
}

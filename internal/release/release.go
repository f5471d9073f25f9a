// Package release checks that a checkout carries the files a deployable
// release needs.
package release

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStatus is the state of one required file.
type FileStatus struct {
	Path    string `json:"path"`
	Present bool   `json:"present"`
	Problem string `json:"problem,omitempty"`
}

type Result struct {
	Root  string       `json:"root"`
	Files []FileStatus `json:"files"`
}

// Missing lists the paths that failed the check.
func (r Result) Missing() []string {
	var out []string
	for _, f := range r.Files {
		if !f.Present {
			out = append(out, f.Path)
		}
	}
	return out
}

func (r Result) OK() bool { return len(r.Missing()) == 0 }

// Err returns nil when every file is present.
func (r Result) Err() error {
	missing := r.Missing()
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("release check failed: %d missing file(s): %s", len(missing), strings.Join(missing, ", "))
}

// Check verifies that every required file exists under root, is a regular
// file and is not empty.
func Check(root string, required []string) Result {
	res := Result{Root: root}
	for _, rel := range required {
		res.Files = append(res.Files, checkFile(root, rel))
	}
	return res
}

func checkFile(root, rel string) FileStatus {
	st := FileStatus{Path: rel}
	fi, err := os.Stat(filepath.Join(root, rel))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		st.Problem = "missing"
	case err != nil:
		st.Problem = err.Error()
	case !fi.Mode().IsRegular():
		st.Problem = "not a regular file"
	case fi.Size() == 0:
		st.Problem = "empty"
	default:
		st.Present = true
	}
	return st
}

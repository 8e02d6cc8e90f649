package sandbox

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/dshills/plugforge/internal/plugin/security"
)

// scopedFiles is the file capability of one run. Every operation is
// rate limited and resolved through the permission checker.
type scopedFiles struct {
	dir     string
	checker *security.PermissionChecker
	monitor *security.ResourceMonitor
}

func newScopedFiles(pluginID, dir string, monitor *security.ResourceMonitor, caps []security.Capability) *scopedFiles {
	checker := security.NewPermissionChecker(pluginID, dir)
	checker.GrantAll(caps)
	return &scopedFiles{dir: checker.Workspace(), checker: checker, monitor: monitor}
}

func (f *scopedFiles) resolve(name string, write bool) (string, error) {
	if !f.monitor.TryFileOp() {
		return "", ErrFileRateLimit
	}
	if write {
		return f.checker.ResolveWrite(name)
	}
	return f.checker.ResolveRead(name)
}

func (f *scopedFiles) ReadFile(name string) ([]byte, error) {
	path, err := f.resolve(name, false)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (f *scopedFiles) WriteFile(name string, data []byte) error {
	path, err := f.resolve(name, true)
	if err != nil {
		return err
	}
	if !f.monitor.AllowWrite(int64(len(data))) {
		return ErrFileTooLarge
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (f *scopedFiles) AppendFile(name string, data []byte) error {
	path, err := f.resolve(name, true)
	if err != nil {
		return err
	}
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	if !f.monitor.AllowWrite(size + int64(len(data))) {
		return ErrFileTooLarge
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func (f *scopedFiles) Remove(name string) error {
	path, err := f.resolve(name, true)
	if err != nil {
		return err
	}
	if path == f.dir {
		return fmt.Errorf("remove %s: cannot remove the workspace", name)
	}
	return os.Remove(path)
}

func (f *scopedFiles) Exists(name string) bool {
	path, err := f.resolve(name, false)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// List returns every file below the workspace as a sorted, slash-separated
// relative path.
func (f *scopedFiles) List() ([]string, error) {
	if !f.monitor.TryFileOp() {
		return nil, ErrFileRateLimit
	}

	var out []string
	err := filepath.WalkDir(f.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.dir, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (f *scopedFiles) Dir() string {
	return f.dir
}

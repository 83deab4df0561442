// Package sysconfig edits shell-style environment files such as
// /etc/sysconfig/dirsrv.
package sysconfig

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"gopkg.in/ini.v1"
)

func init() {
	// KEY=value without padding, as the service scripts source the file.
	ini.PrettyFormat = false
	ini.PrettyEqual = false
}

var loadOptions = ini.LoadOptions{
	IgnoreInlineComment:     true,
	PreserveSurroundedQuote: true,
}

// Editor rewrites KEY=value files on a vfs.FileSystem.
type Editor struct {
	fs vfs.FileSystem
}

// NewEditor creates an Editor.
func NewEditor(fs vfs.FileSystem) *Editor {
	return &Editor{fs: fs}
}

// ReplaceVariables sets every key of vars in path, keeping comments and
// unrelated keys. A missing file is created. The previous values of keys
// that were already set are returned.
func (e *Editor) ReplaceVariables(path string, vars map[string]string) (map[string]string, error) {
	data, err := vfs.ReadFile(e.fs, path)
	if err != nil && !errors.Is(err, vfs.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg, err := ini.LoadSources(loadOptions, data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	section := cfg.Section(ini.DefaultSection)

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	old := make(map[string]string)
	for _, k := range keys {
		if section.HasKey(k) {
			old[k] = section.Key(k).String()
			section.Key(k).SetValue(vars[k])
			continue
		}
		if _, err := section.NewKey(k, vars[k]); err != nil {
			return nil, fmt.Errorf("setting %s: %w", k, err)
		}
	}

	var buf bytes.Buffer
	if _, err := cfg.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", path, err)
	}

	perm := os.FileMode(0o644)
	if fi, err := e.fs.Stat(path); err == nil {
		perm = fi.Mode().Perm()
	}
	if err := vfs.WriteFile(e.fs, path, buf.Bytes(), perm); err != nil {
		return nil, fmt.Errorf("writing %s: %w", path, err)
	}
	return old, nil
}

// Lookup returns the value of key in path.
func (e *Editor) Lookup(path, key string) (string, bool, error) {
	data, err := vfs.ReadFile(e.fs, path)
	if err != nil {
		if errors.Is(err, vfs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	cfg, err := ini.LoadSources(loadOptions, data)
	if err != nil {
		return "", false, fmt.Errorf("parsing %s: %w", path, err)
	}
	section := cfg.Section(ini.DefaultSection)
	if !section.HasKey(key) {
		return "", false, nil
	}
	return section.Key(key).String(), true, nil
}

var _ ports.SysconfigEditor = (*Editor)(nil)

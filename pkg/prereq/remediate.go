package prereq

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ormasoftchile/phonon/pkg/runner"
)

// Remediation is the outcome of one remediation attempt for one item.
type Remediation struct {
	Item     string   `json:"item"`
	Argv     []string `json:"argv,omitempty"`
	ExitCode int      `json:"exit_code"`
	// Output is the failed command's stdout/stderr, verbatim.
	Output string `json:"output,omitempty"`
	// Present is the result of the re-check that follows the install.
	Present bool   `json:"present"`
	Err     string `json:"error,omitempty"`
}

// Succeeded reports whether the install ran cleanly and the re-check found
// the resource.
func (r *Remediation) Succeeded() bool {
	return r.Err == "" && r.ExitCode == 0 && r.Present
}

// Remediate installs one missing requirement and re-runs its check. It never
// returns an error: every failure is recorded in the result so that callers
// can continue with other items.
func (v *Verifier) Remediate(ctx context.Context, name string) *Remediation {
	rem := &Remediation{Item: name}
	r, ok := v.Requirement(name)
	if !ok {
		rem.Err = fmt.Sprintf("unknown prerequisite %q", name)
		return rem
	}

	var (
		res *runner.Result
		err error
	)
	switch r.Kind {
	case KindCode:
		var path string
		path, err = v.LocateConfig(r.ConfigFile)
		if err != nil {
			rem.Err = err.Error()
			return rem
		}
		v.log.Info("installing code", "item", name, "config", path)
		res, err = v.client.InstallCode(ctx, path)
	case KindLibrary:
		lib, fn, ver := pseudoArgs(r)
		v.log.Info("installing pseudopotentials", "item", name, "library", lib, "functional", fn, "version", ver)
		res, err = v.client.InstallPseudo(ctx, lib, fn, ver)
	default:
		rem.Err = fmt.Sprintf("unknown prerequisite kind %q", r.Kind)
		return rem
	}
	if err != nil {
		rem.Err = err.Error()
		return rem
	}

	rem.Argv = res.Argv
	rem.ExitCode = res.ExitCode
	if !res.OK() {
		rem.Output = res.Output()
		v.log.Warn("remediation command failed", "item", name, "exit_code", res.ExitCode)
		return rem
	}

	item, err := v.Check(ctx, name)
	if err != nil {
		rem.Err = fmt.Sprintf("re-check: %s", err)
		return rem
	}
	rem.Present = item.Present
	if !item.Present {
		rem.Output = res.Output()
	}
	return rem
}

// LocateConfig finds a code configuration file. Absolute paths are used as
// is; otherwise the name (or doublestar pattern) is matched under each search
// directory, first directory first, lexically first match within it.
func (v *Verifier) LocateConfig(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("no configuration file configured")
	}
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("configuration file: %w", err)
		}
		return name, nil
	}

	pattern := filepath.ToSlash(name)
	if !doublestar.ValidatePattern(pattern) {
		return "", fmt.Errorf("invalid configuration file pattern %q", name)
	}
	for _, dir := range v.searchDirs {
		matches, err := doublestar.Glob(os.DirFS(dir), "**/"+pattern, doublestar.WithFilesOnly())
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return "", fmt.Errorf("search %s: %w", dir, err)
		}
		if len(matches) == 0 {
			continue
		}
		sort.Strings(matches)
		return filepath.Join(dir, filepath.FromSlash(matches[0])), nil
	}
	return "", fmt.Errorf("configuration file %q not found in %v", name, v.searchDirs)
}

// Package artifact renders validated calculation parameters into an
// executable AiiDA submission script.
package artifact

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/ormasoftchile/phonon/pkg/params"
)

const (
	// LastPKFile holds the PK of the most recently dispatched calculation.
	LastPKFile = "last_calculation_pid.txt"

	maxNameCollisions = 100

	blockStart = "# >>> phonon parameters"
	blockEnd   = "# <<< phonon parameters"
	pyNone     = "None"
)

// GeneratedArtifact is a script written to disk. Content is exactly the
// bytes at Path.
type GeneratedArtifact struct {
	Path         string                        `json:"path"`
	ManifestPath string                        `json:"manifest_path"`
	Content      []byte                        `json:"-"`
	Parameters   *params.CalculationParameters `json:"parameters"`
	Digest       string                        `json:"digest"`
	CreatedAt    time.Time                     `json:"created_at"`
	Template     string                        `json:"template"`
}

// Manifest is the sidecar record written next to each script.
type Manifest struct {
	Script     string                        `json:"script"`
	Template   string                        `json:"template"`
	Parameters *params.CalculationParameters `json:"parameters"`
	Digest     string                        `json:"blake3"`
	CreatedAt  time.Time                     `json:"created_at"`
}

// Options configures a Generator.
type Options struct {
	Dir    string           // output directory; "." if empty
	Now    func() time.Time // clock used for file names
	Logger *slog.Logger
}

// Generator writes artifacts into a directory.
type Generator struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

// NewGenerator creates a generator.
func NewGenerator(opts Options) *Generator {
	g := &Generator{dir: opts.Dir, now: opts.Now, logger: opts.Logger}
	if g.dir == "" {
		g.dir = "."
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Dir returns the output directory.
func (g *Generator) Dir() string { return g.dir }

// Generate renders p through tmpl (the embedded default if nil) and writes
// the script and its manifest. Existing files are never overwritten: when the
// timestamped name is taken, a numeric suffix is added (_2, _3, ...). If the
// manifest cannot be written the script is removed again.
func (g *Generator) Generate(p *params.CalculationParameters, tmpl *Template) (*GeneratedArtifact, error) {
	if p == nil {
		return nil, errors.New("generate: nil parameters")
	}
	if tmpl == nil {
		tmpl = DefaultTemplate()
	}
	content, err := Render(p, tmpl)
	if err != nil {
		return nil, err
	}

	created := g.now()
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	var name, path string
	for n := 1; ; n++ {
		name = numbered(FileName(p.Material, created), n)
		path = filepath.Join(g.dir, name)
		err := writeExclusive(path, content, 0o755)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) || n == maxNameCollisions {
			return nil, err
		}
	}

	sum := blake3.Sum256(content)
	digest := hex.EncodeToString(sum[:])
	art := &GeneratedArtifact{
		Path:         path,
		ManifestPath: path + ".manifest.json",
		Content:      content,
		Parameters:   p,
		Digest:       digest,
		CreatedAt:    created.UTC(),
		Template:     tmpl.Name,
	}
	manifest, err := json.MarshalIndent(Manifest{
		Script:     name,
		Template:   tmpl.Name,
		Parameters: p,
		Digest:     digest,
		CreatedAt:  art.CreatedAt,
	}, "", "  ")
	if err == nil {
		err = writeExclusive(art.ManifestPath, append(manifest, '\n'), 0o644)
	}
	if err != nil {
		if rerr := os.Remove(path); rerr != nil {
			g.logger.Warn("remove script without manifest", "path", path, "error", rerr)
		}
		return nil, fmt.Errorf("manifest: %w", err)
	}

	g.logger.Info("artifact written", "path", path, "blake3", digest)
	return art, nil
}

// Render produces the script content for p. It has no side effects and
// includes no timestamp, so equal parameters give byte-identical output.
func Render(p *params.CalculationParameters, tmpl *Template) ([]byte, error) {
	data, err := literals(p)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tmpl.tmpl.Execute(&buf, data); err != nil {
		return nil, &TemplateError{Template: tmpl.Name, Err: err}
	}
	out := buf.Bytes()

	// The rendered parameter block must read back to p.
	back, err := ParseParameters(out)
	if err != nil {
		return nil, &TemplateError{Template: tmpl.Name, Err: err}
	}
	if !equalParameters(back, p) {
		return nil, &TemplateError{Template: tmpl.Name, Err: errors.New("parameter block does not reproduce the parameters")}
	}
	return out, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// FileName returns phonon_calculation_<material>_<YYYYMMDD_HHMMSS>.py.
func FileName(material string, t time.Time) string {
	m := strings.Trim(unsafeName.ReplaceAllString(material, "_"), "_")
	if m == "" {
		m = "material"
	}
	return fmt.Sprintf("phonon_calculation_%s_%s.py", m, t.Format("20060102_150405"))
}

// numbered adds _n before the extension of name; n == 1 leaves it as is.
func numbered(name string, n int) string {
	if n <= 1 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
}

// RecordPK writes pk to LastPKFile in the directory of script, replacing
// any earlier record, and returns the file's path.
func RecordPK(script string, pk int) (string, error) {
	path := filepath.Join(filepath.Dir(script), LastPKFile)
	if err := os.WriteFile(path, []byte(strconv.Itoa(pk)+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("record pk: %w", err)
	}
	return path, nil
}

// ParseParameters reads the fenced parameter block of a generated script.
func ParseParameters(content []byte) (*params.CalculationParameters, error) {
	values := make(map[string]string)
	inBlock, closed := false, false
	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case strings.TrimSpace(line) == blockStart:
			inBlock = true
			continue
		case strings.TrimSpace(line) == blockEnd:
			if inBlock {
				closed = true
			}
			inBlock = false
			continue
		}
		if !inBlock {
			continue
		}
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan script: %w", err)
	}
	if !closed {
		return nil, errors.New("parameter block not found")
	}

	var p params.CalculationParameters
	var kind string
	targets := map[string]any{
		"material":         &p.Material,
		"structure_kind":   &kind,
		"structure_source": &p.Structure.Source,
		"protocol":         &p.Protocol,
		"kpoints":          &p.KPoints,
		"supercell":        &p.Supercell,
		"pw_code":          &p.PWCode,
		"phonopy_code":     &p.PhonopyCode,
		"convergence":      &p.Convergence,
		"qpath":            &p.QPath,
	}
	for _, f := range Fields {
		raw, ok := values[f]
		if !ok {
			return nil, fmt.Errorf("parameter block: missing %s", f)
		}
		if raw == pyNone {
			continue
		}
		if err := json.Unmarshal([]byte(raw), targets[f]); err != nil {
			return nil, fmt.Errorf("parameter block: %s: %w", f, err)
		}
	}
	p.Structure.Kind = params.StructureKind(kind)
	return &p, nil
}

// literals renders each field as a Python literal.
func literals(p *params.CalculationParameters) (map[string]string, error) {
	vals := map[string]any{
		"material":         p.Material,
		"structure_kind":   string(p.Structure.Kind),
		"structure_source": p.Structure.Source,
		"protocol":         string(p.Protocol),
		"kpoints":          p.KPoints,
		"supercell":        p.Supercell,
		"pw_code":          p.PWCode,
		"phonopy_code":     p.PhonopyCode,
		"convergence":      nil,
		"qpath":            nil,
	}
	if len(p.Convergence) > 0 {
		vals["convergence"] = p.Convergence
	}
	if len(p.QPath) > 0 {
		vals["qpath"] = p.QPath
	}

	out := make(map[string]string, len(vals))
	for k, v := range vals {
		if v == nil {
			out[k] = pyNone
			continue
		}
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		out[k] = strings.TrimSpace(buf.String())
	}
	return out, nil
}

func equalParameters(a, b *params.CalculationParameters) bool {
	x, err1 := json.Marshal(a)
	y, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && bytes.Equal(x, y)
}

func writeExclusive(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("refusing to overwrite %s: %w", path, err)
		}
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	// umask may have narrowed the mode.
	return os.Chmod(path, perm)
}

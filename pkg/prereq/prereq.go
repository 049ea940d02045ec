// Package prereq checks that the external codes and pseudopotential
// libraries a phonon calculation needs are installed, and remediates the ones
// that are missing.
package prereq

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ormasoftchile/phonon/pkg/aiida"
	"github.com/ormasoftchile/phonon/pkg/eval"
	"github.com/ormasoftchile/phonon/pkg/runner"
)

// Kind distinguishes the two families of prerequisites.
type Kind string

const (
	KindCode    Kind = "code"
	KindLibrary Kind = "pseudopotential-library"
)

// Requirement is one external resource that must be present.
type Requirement struct {
	Name string `yaml:"name" json:"name" jsonschema:"minLength=1"`
	Kind Kind   `yaml:"kind" json:"kind" jsonschema:"enum=code,enum=pseudopotential-library"`
	// Match is the substring whose presence in the listing output marks the
	// resource as installed.
	Match string `yaml:"match" json:"match" jsonschema:"minLength=1"`

	// ConfigFile names the code configuration used by remediation. It may be
	// a doublestar pattern and is searched for under the configured
	// directories.
	ConfigFile string `yaml:"config_file,omitempty" json:"config_file,omitempty"`

	// Library, Functional and Version parametrize pseudopotential installs.
	Library    string `yaml:"library,omitempty"    json:"library,omitempty"`
	Functional string `yaml:"functional,omitempty" json:"functional,omitempty"`
	Version    string `yaml:"version,omitempty"    json:"version,omitempty"`
}

// DefaultRequirements returns the two codes and the pseudopotential family
// a vibroscopy phonon workflow needs.
func DefaultRequirements() []Requirement {
	return []Requirement{
		{Name: "pw", Kind: KindCode, Match: "pw-", ConfigFile: "pw-7.3.yaml"},
		{Name: "phonopy", Kind: KindCode, Match: "phonopy", ConfigFile: "phonopy.yaml"},
		{Name: "PBEsol", Kind: KindLibrary, Match: "PBEsol", Library: "sssp", Functional: "PBEsol", Version: "1.3"},
	}
}

// Item is the verification result for one requirement. Immutable once read.
type Item struct {
	Name    string `json:"name"`
	Kind    Kind   `json:"kind"`
	Present bool   `json:"present"`
	// Remediation is the command that would install the resource; empty
	// when present.
	Remediation string `json:"remediation,omitempty"`
}

// Absent filters items down to the missing ones.
func Absent(items []Item) []Item {
	var out []Item
	for _, it := range items {
		if !it.Present {
			out = append(out, it)
		}
	}
	return out
}

// Verifier runs the fixed sequence of listing checks.
type Verifier struct {
	client     *aiida.Client
	reqs       []Requirement
	searchDirs []string
	log        *slog.Logger

	mu      sync.Mutex
	listing []string
}

// Config configures a Verifier.
type Config struct {
	Requirements []Requirement
	// SearchDirs are the directories searched for code configuration files.
	SearchDirs []string
	Logger     *slog.Logger
}

// New creates a verifier. Empty requirements fall back to DefaultRequirements.
func New(client *aiida.Client, cfg Config) *Verifier {
	reqs := cfg.Requirements
	if len(reqs) == 0 {
		reqs = DefaultRequirements()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	dirs := cfg.SearchDirs
	if len(dirs) == 0 {
		dirs = []string{"."}
	}
	return &Verifier{client: client, reqs: reqs, searchDirs: dirs, log: log}
}

// Requirements returns the configured requirement set.
func (v *Verifier) Requirements() []Requirement {
	out := make([]Requirement, len(v.reqs))
	copy(out, v.reqs)
	return out
}

// Requirement looks up a requirement by name.
func (v *Verifier) Requirement(name string) (Requirement, bool) {
	for _, r := range v.reqs {
		if r.Name == name {
			return r, true
		}
	}
	return Requirement{}, false
}

// Listing returns the code labels seen by the most recent code listing.
func (v *Verifier) Listing() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.listing))
	copy(out, v.listing)
	return out
}

// Verify runs every listing command once and classifies each requirement.
// A listing command that cannot run is a *ConfigurationError; an absent
// resource is a normal result.
func (v *Verifier) Verify(ctx context.Context) ([]Item, error) {
	outputs := make(map[Kind]string)
	for _, kind := range []Kind{KindCode, KindLibrary} {
		if !v.needs(kind) {
			continue
		}
		out, err := v.list(ctx, kind)
		if err != nil {
			return nil, err
		}
		outputs[kind] = out
	}

	items := make([]Item, 0, len(v.reqs))
	for _, r := range v.reqs {
		items = append(items, v.classify(r, outputs[r.Kind]))
	}
	v.log.Info("verified prerequisites", "total", len(items), "absent", len(Absent(items)))
	return items, nil
}

// Check re-runs the single listing that covers the named requirement.
func (v *Verifier) Check(ctx context.Context, name string) (Item, error) {
	r, ok := v.Requirement(name)
	if !ok {
		return Item{}, fmt.Errorf("unknown prerequisite %q", name)
	}
	out, err := v.list(ctx, r.Kind)
	if err != nil {
		return Item{}, err
	}
	return v.classify(r, out), nil
}

func (v *Verifier) needs(kind Kind) bool {
	for _, r := range v.reqs {
		if r.Kind == kind {
			return true
		}
	}
	return false
}

func (v *Verifier) list(ctx context.Context, kind Kind) (string, error) {
	var (
		res  *runner.Result
		err  error
		argv []string
	)
	switch kind {
	case KindCode:
		argv = v.client.Commands().ListCodes
		res, err = v.client.ListCodes(ctx)
	case KindLibrary:
		argv = v.client.Commands().ListPseudos
		res, err = v.client.ListPseudos(ctx)
	default:
		return "", fmt.Errorf("unknown prerequisite kind %q", kind)
	}
	dep := aiida.Base(argv)
	if err != nil {
		return "", &ConfigurationError{Dependency: dep, Err: err}
	}
	if !res.OK() {
		return "", &ConfigurationError{Dependency: dep, ExitCode: res.ExitCode, Output: res.Output()}
	}
	if kind == KindCode {
		v.mu.Lock()
		v.listing = aiida.ParseCodeLabels(res.Stdout)
		v.mu.Unlock()
	}
	return res.Stdout, nil
}

func (v *Verifier) classify(r Requirement, listing string) Item {
	it := Item{Name: r.Name, Kind: r.Kind, Present: strings.Contains(listing, r.Match)}
	if !it.Present {
		it.Remediation = v.describeRemediation(r)
	}
	return it
}

func (v *Verifier) describeRemediation(r Requirement) string {
	var (
		argv []string
		err  error
	)
	cmds := v.client.Commands()
	switch r.Kind {
	case KindCode:
		argv, err = eval.ResolveArgv(cmds.InstallCode, map[string]any{"config": r.ConfigFile})
	case KindLibrary:
		lib, fn, ver := pseudoArgs(r)
		argv, err = eval.ResolveArgv(cmds.InstallPseudo, map[string]any{"library": lib, "functional": fn, "version": ver})
	}
	if err != nil {
		return ""
	}
	return strings.Join(argv, " ")
}

func pseudoArgs(r Requirement) (library, functional, version string) {
	library, functional, version = r.Library, r.Functional, r.Version
	if library == "" {
		library = "sssp"
	}
	if functional == "" {
		functional = r.Match
	}
	if version == "" {
		version = "1.3"
	}
	return library, functional, version
}

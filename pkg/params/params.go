// Package params turns free-form answers into validated phonon calculation
// parameters.
package params

import (
	"fmt"
	"sort"
	"strings"
)

// Protocol is the accuracy/runtime preset of the phonon workflow.
type Protocol string

const (
	ProtocolFast     Protocol = "fast"
	ProtocolModerate Protocol = "moderate"
	ProtocolPrecise  Protocol = "precise"
)

// Protocols lists the accepted presets.
var Protocols = []Protocol{ProtocolFast, ProtocolModerate, ProtocolPrecise}

// Valid reports whether p is an enumerated preset.
func (p Protocol) Valid() bool {
	for _, v := range Protocols {
		if p == v {
			return true
		}
	}
	return false
}

// StructureKind says where the crystal structure comes from.
type StructureKind string

const (
	StructureFile  StructureKind = "file"
	StructureFetch StructureKind = "fetch"
)

// Structure is either a file path or a database fetch request (e.g. "mp-149").
type Structure struct {
	Kind   StructureKind `json:"kind"`
	Source string        `json:"source"`
}

// Mesh is three positive integers (k-points mesh or supercell diagonal).
type Mesh [3]int

func (m Mesh) String() string {
	return fmt.Sprintf("%dx%dx%d", m[0], m[1], m[2])
}

// ConvergenceKeys are the overrides the generated script knows how to apply.
var ConvergenceKeys = []string{"conv_thr", "degauss", "ecutrho", "ecutwfc", "kpoints_distance"}

// CalculationParameters is the validated input of one phonon calculation.
// Not mutated after Collect returns it.
type CalculationParameters struct {
	Material    string             `json:"material"`
	Structure   Structure          `json:"structure"`
	Protocol    Protocol           `json:"protocol"`
	KPoints     Mesh               `json:"kpoints"`
	Supercell   Mesh               `json:"supercell"`
	PWCode      string             `json:"pw_code"`
	PhonopyCode string             `json:"phonopy_code"`
	Convergence map[string]float64 `json:"convergence,omitempty"`
	QPath       []string           `json:"qpath,omitempty"`
}

// Summary is a human-readable listing of every parameter.
func (p *CalculationParameters) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "- Material: %s\n", p.Material)
	fmt.Fprintf(&b, "- Structure: %s (%s)\n", p.Structure.Source, p.Structure.Kind)
	fmt.Fprintf(&b, "- Protocol: %s\n", p.Protocol)
	fmt.Fprintf(&b, "- K-points: %s\n", p.KPoints)
	fmt.Fprintf(&b, "- Supercell: %s\n", p.Supercell)
	fmt.Fprintf(&b, "- PW code: %s\n", p.PWCode)
	fmt.Fprintf(&b, "- Phonopy code: %s\n", p.PhonopyCode)
	if len(p.Convergence) > 0 {
		keys := make([]string, 0, len(p.Convergence))
		for k := range p.Convergence {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%g", k, p.Convergence[k])
		}
		fmt.Fprintf(&b, "- Convergence: %s\n", strings.Join(parts, ", "))
	}
	if len(p.QPath) > 0 {
		fmt.Fprintf(&b, "- Q-point path: %s\n", strings.Join(p.QPath, " → "))
	}
	return b.String()
}

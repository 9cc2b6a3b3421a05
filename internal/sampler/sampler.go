// Package sampler maps the closed set of sampler names accepted by the
// service onto concrete scheduler configurations.
package sampler

import (
	"errors"
	"fmt"
	"strings"
)

// Name identifies a sampling strategy. Only the constants below are valid.
type Name string

const (
	PNDM               Name = "PNDM"
	KLMS               Name = "KLMS"
	DDIM               Name = "DDIM"
	KEuler             Name = "K_EULER"
	KEulerAncestral    Name = "K_EULER_ANCESTRAL"
	DPMSolverMultistep Name = "DPMSolverMultistep"
)

var names = []Name{PNDM, KLMS, DDIM, KEuler, KEulerAncestral, DPMSolverMultistep}

// Names returns every accepted sampler name in a stable order.
func Names() []Name { return append([]Name(nil), names...) }

// ErrUnknownSampler is matched by errors.Is for any name outside Names().
var ErrUnknownSampler = errors.New("unknown sampler name")

// UnknownError carries the rejected name.
type UnknownError struct{ Name string }

func (e UnknownError) Error() string {
	return fmt.Sprintf("unknown sampler name %q (valid: %s)", e.Name, joinNames())
}

func (e UnknownError) Is(target error) bool { return target == ErrUnknownSampler }

func joinNames() string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = string(n)
	}
	return strings.Join(parts, ", ")
}

// Parse validates s against the closed set. Matching is exact.
func Parse(s string) (Name, error) {
	n := Name(s)
	if _, err := n.spec(); err != nil {
		return "", err
	}
	return n, nil
}

// Sampler is a scheduler ready to be attached to a pipeline variant.
type Sampler struct {
	Name   Name
	Class  string
	Config Config
}

func (s Sampler) String() string {
	if s.Name == "" {
		return s.Class
	}
	return string(s.Name)
}

// classSpec describes the concrete scheduler class behind a Name.
type classSpec struct {
	class    string
	defaults func(*Config)
}

// spec is the exhaustive name to constructor table.
func (n Name) spec() (classSpec, error) {
	switch n {
	case PNDM:
		return classSpec{class: "PNDMScheduler"}, nil
	case KLMS:
		return classSpec{class: "LMSDiscreteScheduler", defaults: func(c *Config) {
			c.setDefault("use_karras_sigmas", false)
		}}, nil
	case DDIM:
		return classSpec{class: "DDIMScheduler", defaults: func(c *Config) {
			c.setDefault("eta", 0.0)
		}}, nil
	case KEuler:
		return classSpec{class: "EulerDiscreteScheduler", defaults: func(c *Config) {
			c.setDefault("interpolation_type", "linear")
		}}, nil
	case KEulerAncestral:
		return classSpec{class: "EulerAncestralDiscreteScheduler"}, nil
	case DPMSolverMultistep:
		return classSpec{class: "DPMSolverMultistepScheduler", defaults: func(c *Config) {
			c.setDefault("solver_order", 2)
			c.setDefault("algorithm_type", "dpmsolver++")
			c.setDefault("solver_type", "midpoint")
			c.setDefault("lower_order_final", true)
		}}, nil
	default:
		return classSpec{}, UnknownError{Name: string(n)}
	}
}

// Make builds the sampler called name from base, which is normally the
// configuration of the scheduler currently attached to the target pipeline.
// base is never modified and the result shares no memory with it.
func Make(name Name, base Config) (Sampler, error) {
	sp, err := name.spec()
	if err != nil {
		return Sampler{}, err
	}
	cfg := base.Clone()
	cfg.ClassName = sp.class
	if sp.defaults != nil {
		sp.defaults(&cfg)
	}
	return Sampler{Name: name, Class: sp.class, Config: cfg}, nil
}

// FromConfig wraps the scheduler a pipeline ships with. Name is set when the
// stored class belongs to the accepted set and left empty otherwise.
func FromConfig(cfg Config) Sampler {
	s := Sampler{Class: cfg.ClassName, Config: cfg.Clone()}
	for _, n := range names {
		if sp, _ := n.spec(); sp.class == cfg.ClassName {
			s.Name = n
			break
		}
	}
	return s
}

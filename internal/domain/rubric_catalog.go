package domain

import (
	_ "embed"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed rubrics.yaml
var builtinRubrics []byte

// weightTolerance bounds floating point drift when checking weights.
const weightTolerance = 1e-9

// Catalog is an immutable set of rubrics indexed by phase.
type Catalog struct {
	rubrics map[Phase]*Rubric
}

type catalogFile struct {
	Rubrics []*Rubric `yaml:"rubrics"`
}

// LoadCatalog decodes and validates a rubric catalog from YAML.
// Every rubric must have exactly five criteria whose weights match the
// fixed criterion weights and every level must carry a descriptor.
func LoadCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode rubric catalog: %w", err)
	}

	verr := NewValidationError("rubric_catalog")
	verr.Err = ErrInvalidConfiguration
	c := &Catalog{rubrics: make(map[Phase]*Rubric, len(f.Rubrics))}
	for _, r := range f.Rubrics {
		validateRubric(r, verr)
		if _, dup := c.rubrics[r.Phase]; dup {
			verr.AddError(fmt.Sprintf("phase %d defined more than once", int(r.Phase)))
		}
		c.rubrics[r.Phase] = r
	}
	if len(c.rubrics) == 0 {
		verr.AddError("catalog defines no rubrics")
	}
	if verr.HasErrors() {
		return nil, verr
	}
	return c, nil
}

func validateRubric(r *Rubric, verr *ValidationError) {
	if err := r.Phase.Validate(); err != nil {
		verr.AddError(err.Error())
	}
	if len(r.Criteria) != CriterionCount {
		verr.AddError(fmt.Sprintf("phase %d: expected %d criteria, got %d", int(r.Phase), CriterionCount, len(r.Criteria)))
		return
	}
	var sum float64
	for i, c := range r.Criteria {
		sum += c.Weight
		if math.Abs(c.Weight-CriterionWeights[i]) > weightTolerance {
			verr.AddError(fmt.Sprintf("phase %d: %s weight %.2f, expected %.2f",
				int(r.Phase), c.ID, c.Weight, CriterionWeights[i]))
		}
		for l := LevelInitial; l <= LevelExcellent; l++ {
			if strings.TrimSpace(c.Levels[l]) == "" {
				verr.AddError(fmt.Sprintf("phase %d: %s has no descriptor for level %d", int(r.Phase), c.ID, int(l)))
			}
		}
	}
	if math.Abs(sum-1.0) > weightTolerance {
		verr.AddError(fmt.Sprintf("phase %d: weights sum to %.4f", int(r.Phase), sum))
	}
}

// Rubric returns the rubric for phase or a ValidationError if none exists.
func (c *Catalog) Rubric(p Phase) (*Rubric, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	r, ok := c.rubrics[p]
	if !ok {
		return nil, newValidationErrorf("phase", ErrInvalidPhase, "no rubric defined for phase %d", int(p))
	}
	return r, nil
}

// Phases returns the phases in the catalog in ascending order.
func (c *Catalog) Phases() []Phase {
	out := make([]Phase, 0, len(c.rubrics))
	for p := range c.rubrics {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var (
	builtinOnce    sync.Once
	builtinCatalog *Catalog
	builtinErr     error
)

// BuiltinCatalog returns the embedded four-phase catalog.
func BuiltinCatalog() (*Catalog, error) {
	builtinOnce.Do(func() {
		builtinCatalog, builtinErr = LoadCatalog(builtinRubrics)
	})
	return builtinCatalog, builtinErr
}

// MustBuiltinCatalog is BuiltinCatalog for callers that treat a broken
// embedded catalog as a programming error.
func MustBuiltinCatalog() *Catalog {
	c, err := BuiltinCatalog()
	if err != nil {
		panic(err)
	}
	return c
}

package metric

import (
	"fmt"
	"os"
	"sort"

	"healthloop/domain/core"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Registry is an immutable lookup table of metric specs. It is built once and
// injected wherever specs are needed, so tests can substitute fixtures.
type Registry struct {
	specs map[core.MetricKey]Spec
	keys  []core.MetricKey
}

// NewRegistry validates specs and builds a registry
func NewRegistry(specs []Spec) (*Registry, error) {
	v := validator.New()
	r := &Registry{specs: make(map[core.MetricKey]Spec, len(specs))}
	for _, s := range specs {
		if err := v.Struct(s); err != nil {
			return nil, fmt.Errorf("invalid metric spec %q: %w", s.Key, err)
		}
		if _, dup := r.specs[s.Key]; dup {
			return nil, fmt.Errorf("duplicate metric spec %q", s.Key)
		}
		r.specs[s.Key] = s
		r.keys = append(r.keys, s.Key)
	}
	sort.Slice(r.keys, func(i, j int) bool { return r.keys[i] < r.keys[j] })
	return r, nil
}

// Get returns the spec for key
func (r *Registry) Get(key core.MetricKey) (Spec, error) {
	s, ok := r.specs[key]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", core.ErrUnknownMetric, key)
	}
	return s, nil
}

// Keys returns all registered metric keys in sorted order
func (r *Registry) Keys() []core.MetricKey {
	out := make([]core.MetricKey, len(r.keys))
	copy(out, r.keys)
	return out
}

// Validate checks a single value against its metric's range
func (r *Registry) Validate(key core.MetricKey, value float64) error {
	s, err := r.Get(key)
	if err != nil {
		return err
	}
	return s.Validate(value)
}

type registryFile struct {
	Metrics []Spec `yaml:"metrics"`
}

// LoadYAML reads a registry definition from disk
func LoadYAML(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metric registry %s: %w", path, err)
	}
	return ParseYAML(data)
}

// ParseYAML builds a registry from YAML bytes
func ParseYAML(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse metric registry: %w", err)
	}
	if len(f.Metrics) == 0 {
		return nil, fmt.Errorf("metric registry is empty")
	}
	return NewRegistry(f.Metrics)
}

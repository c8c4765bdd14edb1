package repair

import (
	"context"
	"fmt"
)

// Registry holds the fixes offered to callers, in registration order.
type Registry struct {
	fixes []*Fix
	byKey map[string]*Fix
}

// NewRegistry builds one Fix per defect. Defect names must be unique.
func NewRegistry(deps Deps, host Host, defects ...Defect) (*Registry, error) {
	r := &Registry{byKey: make(map[string]*Fix, len(defects))}
	for _, d := range defects {
		if d.Name == "" {
			return nil, fmt.Errorf("defect without a name")
		}
		if _, dup := r.byKey[d.Name]; dup {
			return nil, fmt.Errorf("duplicate defect %q", d.Name)
		}
		for _, s := range d.Stages {
			if _, ok := stages[s]; !ok {
				return nil, fmt.Errorf("defect %q: unknown stage %q", d.Name, s)
			}
		}
		f := NewFix(d, deps, host)
		r.fixes = append(r.fixes, f)
		r.byKey[d.Name] = f
	}
	return r, nil
}

func (r *Registry) Get(name string) (*Fix, bool) {
	f, ok := r.byKey[name]
	return f, ok
}

func (r *Registry) All() []*Fix {
	out := make([]*Fix, len(r.fixes))
	copy(out, r.fixes)
	return out
}

func (r *Registry) Names() []string {
	out := make([]string, len(r.fixes))
	for i, f := range r.fixes {
		out[i] = f.Name()
	}
	return out
}

// Mandatory returns the fixes that should be applied automatically right
// now, in registration order.
func (r *Registry) Mandatory(ctx context.Context) []*Fix {
	var out []*Fix
	for _, f := range r.fixes {
		if f.IsMandatory(ctx) {
			out = append(out, f)
		}
	}
	return out
}

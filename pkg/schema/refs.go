package schema

import "encoding/json"

// RefKind discriminates input reference variants.
type RefKind int

const (
	// RefLiteral passes a constant value through unchanged.
	RefLiteral RefKind = iota
	// RefDependency reads a key from a producing step's output.
	RefDependency
	// RefJQ extracts from a producing step's output with a jq program.
	RefJQ
)

// Ref is a single input reference: a literal, a (source step, output key)
// dependency, or a (source step, jq program) extraction.
type Ref struct {
	Kind    RefKind
	Literal any
	Source  string
	Key     string
	Program string
}

// Lit builds a literal reference.
func Lit(value any) Ref {
	return Ref{Kind: RefLiteral, Literal: value}
}

// Dep builds a dependency reference on a producing step's output key.
// A missing key resolves to nil at execution time.
func Dep(source, key string) Ref {
	return Ref{Kind: RefDependency, Source: source, Key: key}
}

// JQRef builds a jq extraction over a producing step's whole output.
func JQRef(source, program string) Ref {
	return Ref{Kind: RefJQ, Source: source, Program: program}
}

// Param is one named entry of an input spec.
type Param struct {
	Name string
	Ref  Ref
}

// InputSpec is the ordered mapping from parameter name to reference.
// Order is preserved: it drives resolution order and snapshot rendering.
type InputSpec []Param

// Inputs builds an InputSpec from parameters made with In, preserving the
// given order.
func Inputs(params ...Param) InputSpec {
	return InputSpec(params)
}

// In builds a single named parameter.
func In(name string, ref Ref) Param {
	return Param{Name: name, Ref: ref}
}

// Dependencies returns the set of step ids referenced by dependency and jq
// entries, in first-appearance order.
func (s InputSpec) Dependencies() []string {
	seen := make(map[string]bool, len(s))
	var deps []string
	for _, p := range s {
		if p.Ref.Kind == RefLiteral || p.Ref.Source == "" {
			continue
		}
		if !seen[p.Ref.Source] {
			seen[p.Ref.Source] = true
			deps = append(deps, p.Ref.Source)
		}
	}
	return deps
}

// Render produces the serializable form used in snapshots: literals pass
// through, references become {"source": ..., "key"|"jq": ...} objects.
func (s InputSpec) Render() map[string]any {
	out := make(map[string]any, len(s))
	for _, p := range s {
		switch p.Ref.Kind {
		case RefDependency:
			out[p.Name] = map[string]any{"source": p.Ref.Source, "key": p.Ref.Key}
		case RefJQ:
			out[p.Name] = map[string]any{"source": p.Ref.Source, "jq": p.Ref.Program}
		default:
			out[p.Name] = p.Ref.Literal
		}
	}
	return out
}

// MarshalJSON renders the spec in its snapshot form.
func (s InputSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Render())
}

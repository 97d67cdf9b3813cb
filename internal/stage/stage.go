package stage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Stage is the coarse-grained phase an article occupies.
type Stage string

const (
	Unsubmitted       Stage = "Unsubmitted"
	Unassigned        Stage = "Unassigned"
	Assigned          Stage = "Assigned"
	UnderReview       Stage = "Under Review"
	UnderRevision     Stage = "Under Revision"
	Rejected          Stage = "Rejected"
	Accepted          Stage = "Accepted"
	EditorCopyediting Stage = "Editor Copyediting"
	AuthorCopyediting Stage = "Author Copyediting"
	FinalCopyediting  Stage = "Final Copyediting"
	Typesetting       Stage = "Typesetting"
	TypesettingPlugin Stage = "typesetting_plugin"
	Proofing          Stage = "Proofing"
	PrePublication    Stage = "pre_publication"
	Published         Stage = "Published"
	Archived          Stage = "Archived"
)

// ErrUnknownStage is returned when a stage is not part of the registry.
var ErrUnknownStage = errors.New("unknown stage")

// Definition describes one stage and the edges it contributes to the
// transition table.
type Definition struct {
	Stage    Stage
	Label    string
	Terminal bool
	// From lists stages that may transition into Stage.
	From []Stage
	// To lists stages Stage may transition to.
	To []Stage
}

type edge struct {
	from, to Stage
}

var builtins = []Definition{
	{Stage: Unsubmitted, Label: "Unsubmitted", To: []Stage{Unassigned}},
	{Stage: Unassigned, Label: "Unassigned", To: []Stage{Assigned, UnderReview, Accepted}},
	{Stage: Assigned, Label: "Assigned to Editor", To: []Stage{Unassigned, UnderReview, Accepted}},
	{Stage: UnderReview, Label: "Peer Review", To: []Stage{UnderRevision, Accepted, Assigned}},
	{Stage: UnderRevision, Label: "Revision", To: []Stage{UnderReview, Accepted}},
	{Stage: Rejected, Label: "Rejected", Terminal: true, To: []Stage{Unassigned, Archived}},
	{Stage: Accepted, Label: "Accepted", To: []Stage{EditorCopyediting, Typesetting, TypesettingPlugin, PrePublication}},
	{Stage: EditorCopyediting, Label: "Editor Copyediting", To: []Stage{AuthorCopyediting, FinalCopyediting}},
	{Stage: AuthorCopyediting, Label: "Author Copyediting", To: []Stage{EditorCopyediting, FinalCopyediting}},
	{Stage: FinalCopyediting, Label: "Final Copyediting", To: []Stage{EditorCopyediting}},
	{Stage: Typesetting, Label: "Typesetting", To: []Stage{Proofing, PrePublication}},
	{Stage: TypesettingPlugin, Label: "Typesetting", To: []Stage{PrePublication}},
	{Stage: Proofing, Label: "Proofing", To: []Stage{Typesetting, PrePublication}},
	{Stage: PrePublication, Label: "Pre Publication", To: []Stage{Published}},
	{Stage: Published, Label: "Published", Terminal: true, To: []Stage{Archived}},
	{Stage: Archived, Label: "Archived", Terminal: true},
}

// Builtins returns the built-in stage definitions.
func Builtins() []Definition {
	out := make([]Definition, len(builtins))
	copy(out, builtins)
	return out
}

// Builder collects stage definitions during start-up. Plugins register their
// stages here; Build freezes the result.
type Builder struct {
	defs  map[Stage]Definition
	order []Stage
	errs  []error
}

// NewBuilder returns a builder preloaded with the built-in stages.
func NewBuilder() *Builder {
	b := &Builder{defs: make(map[Stage]Definition)}
	for _, d := range builtins {
		b.defs[d.Stage] = d
		b.order = append(b.order, d.Stage)
	}
	return b
}

// Register adds a plugin stage. Re-registering an existing stage is an error.
func (b *Builder) Register(d Definition) error {
	name := Stage(strings.TrimSpace(string(d.Stage)))
	if name == "" {
		err := errors.New("stage name required")
		b.errs = append(b.errs, err)
		return err
	}
	if _, ok := b.defs[name]; ok {
		err := fmt.Errorf("stage %q already registered", name)
		b.errs = append(b.errs, err)
		return err
	}
	d.Stage = name
	if d.Label == "" {
		d.Label = string(name)
	}
	b.defs[name] = d
	b.order = append(b.order, name)
	return nil
}

// Build validates every edge and returns an immutable registry.
func (b *Builder) Build() (*Registry, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	r := &Registry{
		defs:  make(map[Stage]Definition, len(b.defs)),
		order: append([]Stage(nil), b.order...),
		edges: make(map[edge]struct{}),
	}
	var errs []error
	for _, name := range b.order {
		d := b.defs[name]
		r.defs[name] = d
		for _, to := range d.To {
			if _, ok := b.defs[to]; !ok {
				errs = append(errs, fmt.Errorf("stage %q: edge to %w %q", name, ErrUnknownStage, to))
				continue
			}
			r.edges[edge{from: name, to: to}] = struct{}{}
		}
		for _, from := range d.From {
			if _, ok := b.defs[from]; !ok {
				errs = append(errs, fmt.Errorf("stage %q: edge from %w %q", name, ErrUnknownStage, from))
				continue
			}
			r.edges[edge{from: from, to: name}] = struct{}{}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

// Registry is the validated, read-only set of stages known to the process.
type Registry struct {
	defs  map[Stage]Definition
	order []Stage
	edges map[edge]struct{}
}

// Default builds a registry with only the built-in stages.
func Default() *Registry {
	r, err := NewBuilder().Build()
	if err != nil {
		panic(err)
	}
	return r
}

// Valid reports whether s is a registered stage.
func (r *Registry) Valid(s Stage) bool {
	_, ok := r.defs[s]
	return ok
}

// Check returns ErrUnknownStage for unregistered stages.
func (r *Registry) Check(s Stage) error {
	if !r.Valid(s) {
		return fmt.Errorf("%w: %q", ErrUnknownStage, s)
	}
	return nil
}

// MustValid panics when s is not registered. Stored stage values outside the
// registry are programmer errors.
func (r *Registry) MustValid(s Stage) {
	if !r.Valid(s) {
		panic(fmt.Sprintf("stage registry invariant violated: %q", s))
	}
}

// IsTerminal reports whether s closes the article's workflow.
func (r *Registry) IsTerminal(s Stage) bool {
	return r.defs[s].Terminal
}

// Lookup returns the definition of s.
func (r *Registry) Lookup(s Stage) (Definition, bool) {
	d, ok := r.defs[s]
	return d, ok
}

// All returns stages in registration order.
func (r *Registry) All() []Stage {
	return append([]Stage(nil), r.order...)
}

// Terminal returns the terminal stages, sorted.
func (r *Registry) Terminal() []Stage {
	var out []Stage
	for _, s := range r.order {
		if r.defs[s].Terminal {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Allowed reports whether the transition table permits from -> to. Any
// non-terminal stage may be rejected or archived.
func (r *Registry) Allowed(from, to Stage) bool {
	if !r.Valid(from) || !r.Valid(to) {
		return false
	}
	if _, ok := r.edges[edge{from: from, to: to}]; ok {
		return true
	}
	if !r.IsTerminal(from) && (to == Rejected || to == Archived) {
		return true
	}
	return false
}

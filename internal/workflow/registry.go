package workflow

import (
	"errors"
	"fmt"
	"strings"

	"journalflow/internal/config"
	"journalflow/internal/stage"
)

// Built-in element names.
const (
	ElementReview         = "review"
	ElementCopyediting    = "copyediting"
	ElementTypesetting    = "typesetting"
	ElementPrepublication = "prepublication"
	ElementProduction     = "production"
	ElementProofing       = "proofing"
)

// DefaultOrder is used for elements added without an explicit position.
const DefaultOrder = 20

// ElementDef describes an element kind: the stage an article enters when it
// is handed to the element, the stages that count as "inside" it and its
// routing targets. URLs may contain {article_id}.
type ElementDef struct {
	Name         string
	Stage        stage.Stage
	Stages       []stage.Stage
	HandshakeURL string
	JumpURL      string
	Plugin       string
}

var baseElements = []ElementDef{
	{
		Name:         ElementReview,
		Stage:        stage.Unassigned,
		Stages:       []stage.Stage{stage.Assigned, stage.UnderReview, stage.UnderRevision, stage.Accepted},
		HandshakeURL: "/review/home/{article_id}",
		JumpURL:      "/review/article/{article_id}",
	},
	{
		Name:         ElementCopyediting,
		Stage:        stage.EditorCopyediting,
		Stages:       []stage.Stage{stage.EditorCopyediting, stage.AuthorCopyediting, stage.FinalCopyediting},
		HandshakeURL: "/copyediting/{article_id}",
		JumpURL:      "/copyediting/article/{article_id}",
	},
	{
		Name:         ElementTypesetting,
		Stage:        stage.TypesettingPlugin,
		Stages:       []stage.Stage{stage.TypesettingPlugin},
		HandshakeURL: "/typesetting/{article_id}",
		JumpURL:      "/typesetting/article/{article_id}",
	},
	{
		Name:         ElementPrepublication,
		Stage:        stage.PrePublication,
		Stages:       []stage.Stage{stage.PrePublication},
		HandshakeURL: "/publish/{article_id}",
		JumpURL:      "/publish/article/{article_id}",
	},
	{
		Name:         ElementProduction,
		Stage:        stage.Typesetting,
		Stages:       []stage.Stage{stage.Typesetting},
		HandshakeURL: "/production/{article_id}",
		JumpURL:      "/production/article/{article_id}",
	},
	{
		Name:         ElementProofing,
		Stage:        stage.Proofing,
		Stages:       []stage.Stage{stage.Proofing},
		HandshakeURL: "/proofing/{article_id}",
		JumpURL:      "/proofing/article/{article_id}",
	},
}

// BaseElements returns the built-in element definitions.
func BaseElements() []ElementDef {
	out := make([]ElementDef, len(baseElements))
	copy(out, baseElements)
	return out
}

// Registry is the immutable element catalogue and stage to element table.
type Registry struct {
	defs    map[string]ElementDef
	names   []string
	byStage map[stage.Stage]string
}

// NewRegistry combines the built-in elements with plugin elements. Every
// stage referenced must exist in stages.
func NewRegistry(stages *stage.Registry, plugins []config.Plugin) (*Registry, error) {
	r := &Registry{defs: map[string]ElementDef{}, byStage: map[stage.Stage]string{}}
	var errs []error
	add := func(def ElementDef) {
		if _, dup := r.defs[def.Name]; dup {
			errs = append(errs, fmt.Errorf("workflow element %q registered twice", def.Name))
			return
		}
		if err := stages.Check(def.Stage); err != nil {
			errs = append(errs, fmt.Errorf("workflow element %q: %w", def.Name, err))
			return
		}
		for _, s := range def.Stages {
			if err := stages.Check(s); err != nil {
				errs = append(errs, fmt.Errorf("workflow element %q: %w", def.Name, err))
				return
			}
			if owner, taken := r.byStage[s]; taken {
				errs = append(errs, fmt.Errorf("stage %q bound to both %q and %q", s, owner, def.Name))
				return
			}
		}
		r.defs[def.Name] = def
		r.names = append(r.names, def.Name)
		for _, s := range def.Stages {
			r.byStage[s] = def.Name
		}
	}
	for _, def := range baseElements {
		add(def)
	}
	for _, p := range plugins {
		for _, el := range p.Elements {
			def := ElementDef{
				Name:         strings.TrimSpace(el.Name),
				Stage:        stage.Stage(el.Stage),
				HandshakeURL: el.HandshakeURL,
				JumpURL:      el.JumpURL,
				Plugin:       p.Name,
			}
			def.Stages = append(def.Stages, def.Stage)
			for _, s := range el.Stages {
				if stage.Stage(s) != def.Stage {
					def.Stages = append(def.Stages, stage.Stage(s))
				}
			}
			add(def)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

// ElementForStage returns the element name an article in s belongs to.
func (r *Registry) ElementForStage(s stage.Stage) (string, bool) {
	name, ok := r.byStage[s]
	return name, ok
}

// Definition returns the definition of a named element.
func (r *Registry) Definition(name string) (ElementDef, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Names returns element names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// RegisterPluginStages adds the stages declared by plugins to a stage
// builder. It runs before the stage registry is built.
func RegisterPluginStages(b *stage.Builder, plugins []config.Plugin) error {
	var errs []error
	for _, p := range plugins {
		for _, st := range p.Stages {
			def := stage.Definition{
				Stage:    stage.Stage(st.Name),
				Label:    st.Label,
				Terminal: st.Terminal,
			}
			for _, from := range st.From {
				def.From = append(def.From, stage.Stage(from))
			}
			for _, to := range st.To {
				def.To = append(def.To, stage.Stage(to))
			}
			if err := b.Register(def); err != nil {
				errs = append(errs, fmt.Errorf("plugin %s: %w", p.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Registries builds the stage and element registries for a journal config.
func Registries(cfg *config.Config) (*stage.Registry, *Registry, error) {
	var plugins []config.Plugin
	if cfg != nil {
		plugins = cfg.Plugins
	}
	b := stage.NewBuilder()
	if err := RegisterPluginStages(b, plugins); err != nil {
		return nil, nil, err
	}
	stages, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	elements, err := NewRegistry(stages, plugins)
	if err != nil {
		return nil, nil, err
	}
	return stages, elements, nil
}

// Expand substitutes the article id into a handshake or jump target.
func Expand(target, articleID string) string {
	return strings.ReplaceAll(target, "{article_id}", articleID)
}

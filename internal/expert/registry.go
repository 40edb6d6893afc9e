// Package expert provides the static catalog of debate experts and the
// per-run instance configuration derived from it.
package expert

import (
	"fmt"
	"sort"
)

// Descriptor describes one expert in the catalog. Descriptors are immutable
// after registry construction.
type Descriptor struct {
	// ID is the opaque short identifier used in expert specs ("claude:2").
	ID string `yaml:"id" json:"id"`

	// DisplayName is the human-readable name used in prompts and reports.
	DisplayName string `yaml:"display_name" json:"display_name"`

	// RoleTag is a short role label ("The Architect").
	RoleTag string `yaml:"role_tag" json:"role_tag"`

	// Expertise is a one-paragraph blurb injected into prompts.
	Expertise string `yaml:"expertise" json:"expertise"`

	// RelativeCost is a non-negative relative cost; 0 means free.
	RelativeCost float64 `yaml:"relative_cost" json:"relative_cost"`

	// RelativeSpeed ranks invocation speed from 1 (slow) to 5 (fast).
	RelativeSpeed int `yaml:"relative_speed" json:"relative_speed"`

	// Specialties lists category tags this expert is strong in.
	Specialties []string `yaml:"specialties" json:"specialties"`

	// Strengths lists free-form strength cues matched against context clues.
	Strengths []string `yaml:"strengths" json:"strengths"`

	// DeepReasoning marks experts suited to high-complexity questions.
	DeepReasoning bool `yaml:"deep_reasoning" json:"deep_reasoning"`
}

// HasSpecialty reports whether the descriptor lists the given category tag.
func (d *Descriptor) HasSpecialty(category string) bool {
	for _, s := range d.Specialties {
		if s == category {
			return true
		}
	}
	return false
}

// UnknownExpertError is returned when a spec references an id not in the
// registry.
type UnknownExpertError struct {
	ID string
}

func (e *UnknownExpertError) Error() string {
	return fmt.Sprintf("unknown expert: %s", e.ID)
}

// Registry is a read-only catalog of expert descriptors. Construct it once at
// startup; it is safe for concurrent use because it is never mutated.
type Registry struct {
	experts   map[string]*Descriptor
	order     []string
	shortlist map[string][]string
}

// NewRegistry builds a registry from descriptors. Duplicate ids are an error.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	r := &Registry{
		experts:   make(map[string]*Descriptor, len(descriptors)),
		shortlist: defaultShortlists(),
	}
	for i := range descriptors {
		d := descriptors[i]
		if d.ID == "" {
			return nil, fmt.Errorf("expert descriptor %d has empty id", i)
		}
		if _, dup := r.experts[d.ID]; dup {
			return nil, fmt.Errorf("duplicate expert id: %s", d.ID)
		}
		r.experts[d.ID] = &d
		r.order = append(r.order, d.ID)
	}
	return r, nil
}

// DefaultRegistry returns the built-in catalog of CLI AI assistants.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(defaultCatalog())
	if err != nil {
		// The built-in catalog is static; a failure here is a programming error.
		panic(err)
	}
	return r
}

// Get returns the descriptor for id, or an UnknownExpertError.
func (r *Registry) Get(id string) (*Descriptor, error) {
	d, ok := r.experts[id]
	if !ok {
		return nil, &UnknownExpertError{ID: id}
	}
	return d, nil
}

// Has reports whether id is in the catalog.
func (r *Registry) Has(id string) bool {
	_, ok := r.experts[id]
	return ok
}

// All returns every descriptor in registration order.
func (r *Registry) All() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.experts[id])
	}
	return out
}

// IDs returns the sorted set of catalog ids.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.experts))
	for id := range r.experts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shortlist returns the default expert shortlist for a category. Categories
// without an explicit shortlist fall back to the full catalog order.
func (r *Registry) Shortlist(category string) []string {
	if ids, ok := r.shortlist[category]; ok {
		return append([]string(nil), ids...)
	}
	return append([]string(nil), r.order...)
}

// defaultCatalog enumerates the CLI assistants the engine knows how to drive.
func defaultCatalog() []Descriptor {
	return []Descriptor{
		{
			ID:            "claude",
			DisplayName:   "Claude Code",
			RoleTag:       "The Architect",
			Expertise:     "System architecture, security analysis, and multi-step reasoning over large codebases. Strong at weighing trade-offs and explaining the consequences of design decisions.",
			RelativeCost:  9,
			RelativeSpeed: 3,
			Specialties:   []string{"architecture", "security", "code-review", "api-design", "compliance"},
			Strengths:     []string{"trade-off analysis", "threat modeling", "refactoring plans"},
			DeepReasoning: true,
		},
		{
			ID:            "codex",
			DisplayName:   "Codex CLI",
			RoleTag:       "The Implementer",
			Expertise:     "Fast, precise code generation and debugging. Excels at turning a concrete specification into working code and at pinpointing defects from stack traces.",
			RelativeCost:  7,
			RelativeSpeed: 4,
			Specialties:   []string{"code-generation", "debugging", "testing", "algorithms"},
			Strengths:     []string{"bug localization", "test scaffolding", "idiomatic code"},
		},
		{
			ID:            "gemini",
			DisplayName:   "Gemini CLI",
			RoleTag:       "The Researcher",
			Expertise:     "Long-context research and analysis. Reads entire repositories and large documents, cross-references sources, and produces well-grounded summaries.",
			RelativeCost:  5,
			RelativeSpeed: 4,
			Specialties:   []string{"research", "documentation", "data-migration", "machine-learning", "general/analysis"},
			Strengths:     []string{"long context", "source synthesis", "comparative analysis"},
			DeepReasoning: true,
		},
		{
			ID:            "qwen",
			DisplayName:   "Qwen Code",
			RoleTag:       "The Optimizer",
			Expertise:     "Locally hosted code assistant with zero marginal cost. Good at refactoring, performance tuning, and producing several quick alternatives to compare.",
			RelativeCost:  0,
			RelativeSpeed: 5,
			Specialties:   []string{"refactoring", "performance", "code-generation", "concurrency"},
			Strengths:     []string{"hot-path optimization", "quick drafts"},
		},
		{
			ID:            "aider",
			DisplayName:   "Aider",
			RoleTag:       "The Mechanic",
			Expertise:     "Repository-aware editing driven by git. Applies surgical diffs, keeps history clean, and is effective for incremental changes across many files.",
			RelativeCost:  0,
			RelativeSpeed: 3,
			Specialties:   []string{"refactoring", "devops", "infrastructure", "backend"},
			Strengths:     []string{"surgical diffs", "incremental migration"},
		},
		{
			ID:            "opencode",
			DisplayName:   "OpenCode",
			RoleTag:       "The Generalist",
			Expertise:     "Open-source general-purpose assistant. Balanced on everyday questions, frontend work, and factual lookups; cheap enough to run speculatively.",
			RelativeCost:  0,
			RelativeSpeed: 4,
			Specialties:   []string{"frontend", "general/factual", "general/analysis", "documentation"},
			Strengths:     []string{"broad coverage"},
		},
	}
}

// defaultShortlists maps categories to the experts tried first when the
// analyzer (or its fallback) selects that category.
func defaultShortlists() map[string][]string {
	return map[string][]string{
		"architecture":     {"claude", "gemini", "codex"},
		"security":         {"claude", "gemini", "codex"},
		"code-generation":  {"codex", "qwen", "claude"},
		"code-review":      {"claude", "codex", "aider"},
		"debugging":        {"codex", "claude", "qwen"},
		"refactoring":      {"aider", "qwen", "claude"},
		"testing":          {"codex", "qwen", "opencode"},
		"performance":      {"qwen", "codex", "claude"},
		"database":         {"claude", "codex", "gemini"},
		"data-migration":   {"gemini", "claude", "aider"},
		"api-design":       {"claude", "codex", "gemini"},
		"frontend":         {"opencode", "codex", "qwen"},
		"backend":          {"aider", "codex", "claude"},
		"devops":           {"aider", "claude", "opencode"},
		"infrastructure":   {"aider", "claude", "gemini"},
		"documentation":    {"gemini", "opencode", "claude"},
		"algorithms":       {"codex", "claude", "qwen"},
		"concurrency":      {"qwen", "claude", "codex"},
		"networking":       {"claude", "codex", "aider"},
		"machine-learning": {"gemini", "claude", "codex"},
		"financial":        {"claude", "gemini", "codex"},
		"production":       {"claude", "aider", "codex"},
		"compliance":       {"claude", "gemini", "opencode"},
		"research":         {"gemini", "claude", "opencode"},
		"general/factual":  {"opencode", "gemini", "qwen"},
		"general/analysis": {"gemini", "claude", "opencode"},
	}
}

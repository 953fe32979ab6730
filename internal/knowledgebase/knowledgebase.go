// Package knowledgebase implements the scorer's injected knowledge-base
// weight: a small per-symbol bonus for core holdings or focus-list names.
// It is always constructed explicitly and passed in, never read from
// ambient state.
package knowledgebase

// Tier is the knowledge-base classification of a symbol.
type Tier int

const (
	TierNone Tier = iota
	TierFocus
	TierCore
)

// KnowledgeBase answers "how much extra weight does this symbol earn" for
// the scorer, and what tag (if any) to surface in the candidate's details.
type KnowledgeBase interface {
	ScoreBonus(symbol string) int
	Tag(symbol string) string
}

// Static is a map-backed KnowledgeBase: core holdings earn +15, focus-list
// symbols earn a smaller configurable bonus, everything else earns 0.
type Static struct {
	Core  map[string]bool
	Focus map[string]int
}

// NewStatic builds a Static knowledge base from explicit sets, never from
// environment or global state.
func NewStatic(core []string, focus map[string]int) *Static {
	s := &Static{Core: make(map[string]bool, len(core)), Focus: make(map[string]int, len(focus))}
	for _, c := range core {
		s.Core[c] = true
	}
	for k, v := range focus {
		s.Focus[k] = v
	}
	return s
}

func (s *Static) ScoreBonus(symbol string) int {
	if s.Core[symbol] {
		return 15
	}
	if v, ok := s.Focus[symbol]; ok {
		return v
	}
	return 0
}

func (s *Static) Tag(symbol string) string {
	if s.Core[symbol] {
		return "core_holding"
	}
	if _, ok := s.Focus[symbol]; ok {
		return "focus_list"
	}
	return ""
}

// Empty is a KnowledgeBase that always awards zero bonus, used when no
// knowledge base is configured.
type Empty struct{}

func (Empty) ScoreBonus(string) int { return 0 }
func (Empty) Tag(string) string     { return "" }

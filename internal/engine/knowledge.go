package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/inquestlabs/inquest-engine/internal/models"
)

// KnowledgeEntry describes one exception type: its common causes and the
// remediation templates offered when it shows up as a root cause.
type KnowledgeEntry struct {
	CommonCauses []string       `yaml:"commonCauses"`
	Fixes        []KnowledgeFix `yaml:"fixes"`
}

// KnowledgeFix is one remediation template.
type KnowledgeFix struct {
	Description string `yaml:"description"`
	Rationale   string `yaml:"rationale"`
}

// KnowledgeBase maps short exception names to remediation knowledge. The
// built-in table can be extended or overridden by a YAML overlay.
type KnowledgeBase struct {
	entries map[string]KnowledgeEntry
}

// NewKnowledgeBase returns the built-in table, extended by the overlay at
// path when one is configured.
func NewKnowledgeBase(overlayPath string) (*KnowledgeBase, error) {
	kb := &KnowledgeBase{entries: builtinKnowledge()}

	if overlayPath != "" {
		data, err := os.ReadFile(overlayPath)
		if err != nil {
			return nil, fmt.Errorf("read knowledge overlay: %w", err)
		}
		var overlay map[string]KnowledgeEntry
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			return nil, fmt.Errorf("parse knowledge overlay: %w", err)
		}
		for name, entry := range overlay {
			kb.entries[name] = entry
		}
	}
	return kb, nil
}

// Lookup returns the knowledge entry for a short exception name.
func (kb *KnowledgeBase) Lookup(exceptionShort string) (KnowledgeEntry, bool) {
	entry, ok := kb.entries[exceptionShort]
	return entry, ok
}

// Suggest converts the entry for an exception into fix suggestions. Unknown
// exceptions yield a single generic suggestion.
func (kb *KnowledgeBase) Suggest(exceptionShort string) []models.FixSuggestion {
	entry, ok := kb.entries[exceptionShort]
	if !ok {
		return []models.FixSuggestion{{
			Description: "Review the changed lines flagged by the correlation",
			Rationale:   "no specific remediation knowledge exists for " + exceptionShort,
		}}
	}
	fixes := make([]models.FixSuggestion, 0, len(entry.Fixes))
	for _, fix := range entry.Fixes {
		fixes = append(fixes, models.FixSuggestion{
			Description: fix.Description,
			Rationale:   fix.Rationale,
		})
	}
	return fixes
}

func builtinKnowledge() map[string]KnowledgeEntry {
	return map[string]KnowledgeEntry{
		"NullPointerException": {
			CommonCauses: []string{
				"a null guard removed in a recent change",
				"an optional unwrapped without a presence check",
				"an upstream response field that became nullable",
			},
			Fixes: []KnowledgeFix{
				{
					Description: "Reintroduce the null check before the dereference",
					Rationale:   "the correlated change removed or weakened a guard on this path",
				},
				{
					Description: "Make the field non-nullable at the type level",
					Rationale:   "compile-time nullability prevents the class of failure outright",
				},
			},
		},
		"IllegalStateException": {
			CommonCauses: []string{
				"an operation invoked outside its expected lifecycle phase",
				"a precondition that a recent change stopped establishing",
			},
			Fixes: []KnowledgeFix{
				{
					Description: "Re-establish the precondition before the failing call",
					Rationale:   "the state the operation requires is no longer guaranteed at the call site",
				},
			},
		},
		"IllegalArgumentException": {
			CommonCauses: []string{
				"validation tightened without updating callers",
				"a caller passing a newly rejected value",
			},
			Fixes: []KnowledgeFix{
				{
					Description: "Align caller input with the tightened validation",
					Rationale:   "the argument contract changed in the correlated deployment",
				},
			},
		},
		"RuntimeException": {
			CommonCauses: []string{
				"a checked failure rethrown as unchecked in a recent change",
			},
			Fixes: []KnowledgeFix{
				{
					Description: "Handle the underlying cause instead of rethrowing",
					Rationale:   "wrapping hides the original failure from recovery paths",
				},
			},
		},
		"NoSuchElementException": {
			CommonCauses: []string{
				"an empty collection or absent optional accessed unconditionally",
				"a lookup whose fallback was removed",
			},
			Fixes: []KnowledgeFix{
				{
					Description: "Guard the access with an emptiness or presence check",
					Rationale:   "the access assumes an element that production data does not always supply",
				},
			},
		},
	}
}

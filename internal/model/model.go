// Package model holds the fixed table of backend variants offered to
// presentation layers. The table is informational: variants outside it are
// still passed to the backend, which decides whether they are valid.
package model

// Default is the variant used when a request names none.
const Default = "haiku"

// Variant is a backend model selector and its human-readable label.
type Variant struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

var variants = []Variant{
	{ID: "haiku", Label: "Haiku (fastest, cheapest)"},
	{ID: "sonnet", Label: "Sonnet (balanced)"},
	{ID: "opus", Label: "Opus (most capable)"},
}

// Variants returns a copy of the variant table in display order.
func Variants() []Variant {
	out := make([]Variant, len(variants))
	copy(out, variants)
	return out
}

// Lookup returns the label for id and whether id is a known variant.
func Lookup(id string) (string, bool) {
	for _, v := range variants {
		if v.ID == id {
			return v.Label, true
		}
	}
	return "", false
}

// Resolve returns id, or fallback when id is empty. Unknown ids are returned
// unchanged.
func Resolve(id, fallback string) string {
	if id != "" {
		return id
	}
	if fallback != "" {
		return fallback
	}
	return Default
}

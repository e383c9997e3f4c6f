// Package template turns conversation histories into family-specific
// prompt strings.
//
// A family is a prompt grammar shared by a group of model checkpoints.
// The set of families is a closed enumeration: every model resolves to
// exactly one family, with a guaranteed default arm for anything unknown.
package template

import (
	"strings"

	"inferd/internal/core"
)

// Family names a prompt grammar convention.
type Family string

const (
	FamilyMistral  Family = "mistral"
	FamilyLlama    Family = "llama"
	FamilyDeepseek Family = "deepseek"
	FamilyPhi      Family = "phi"
	FamilyGemma    Family = "gemma"
	FamilyTeuken   Family = "teuken"
	FamilyDefault  Family = "default"
)

// keywordTable maps model-name substrings to families. Order matters:
// the first match wins, so more specific keywords come first.
var keywordTable = []struct {
	keyword string
	family  Family
}{
	{"mixtral", FamilyMistral},
	{"mistral", FamilyMistral},
	{"deepseek", FamilyDeepseek},
	{"llama", FamilyLlama},
	{"phi", FamilyPhi},
	{"gemma", FamilyGemma},
	{"teuken", FamilyTeuken},
}

// Resolve determines the prompt family for a model. Precedence: explicit
// per-model override, then the declared family label, then a
// case-insensitive keyword match against the model name/path, then the
// generic default grammar.
func Resolve(spec *core.ModelSpec) Family {
	if spec == nil {
		return FamilyDefault
	}
	if f := parseFamily(spec.FamilyOverride); f != "" {
		return f
	}
	if f := parseFamily(spec.Family); f != "" {
		return f
	}
	name := strings.ToLower(spec.ID)
	for _, entry := range keywordTable {
		if strings.Contains(name, entry.keyword) {
			return entry.family
		}
	}
	return FamilyDefault
}

// parseFamily maps a label to a known family, or "" when unrecognized.
// Unknown labels fall through to the next resolution step rather than
// silently becoming the default.
func parseFamily(label string) Family {
	switch Family(strings.ToLower(strings.TrimSpace(label))) {
	case FamilyMistral:
		return FamilyMistral
	case FamilyLlama:
		return FamilyLlama
	case FamilyDeepseek:
		return FamilyDeepseek
	case FamilyPhi:
		return FamilyPhi
	case FamilyGemma:
		return FamilyGemma
	case FamilyTeuken:
		return FamilyTeuken
	case FamilyDefault:
		return FamilyDefault
	}
	return ""
}

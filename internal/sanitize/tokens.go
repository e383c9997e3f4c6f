// Package sanitize cleans raw model output: it strips leaked template
// control tokens, suppresses prompt echo, and repairs known degenerate
// output shapes. Every function here is pure.
package sanitize

import (
	"strings"

	"inferd/internal/template"
)

// familyTokens lists the control/turn tokens of each family's grammar.
var familyTokens = map[template.Family][]string{
	template.FamilyMistral: {
		"<s>", "</s>", "[INST]", "[/INST]",
	},
	template.FamilyLlama: {
		"<|begin_of_text|>", "<|start_header_id|>", "<|end_header_id|>", "<|eot_id|>",
	},
	template.FamilyDeepseek: {
		"<｜begin▁of▁sentence｜>", "<｜end▁of▁sentence｜>", "<｜User｜>", "<｜Assistant｜>",
	},
	template.FamilyPhi: {
		"<|user|>", "<|assistant|>", "<|system|>", "<|end|>",
	},
	template.FamilyGemma: {
		"<start_of_turn>", "<end_of_turn>", "<bos>", "<eos>",
	},
	template.FamilyTeuken: {},
	template.FamilyDefault: {
		"### System:", "### User:", "### Assistant:",
	},
}

// crossFamilyTokens are stripped regardless of family. Models fine-tuned
// on mixed corpora leak tokens from grammars they were never prompted
// with, so cleanup is deliberately broader than the active family.
var crossFamilyTokens = []string{
	"<|im_start|>", "<|im_end|>",
	"<|endoftext|>",
	"<|eot_id|>", "<|begin_of_text|>",
	"<|end|>",
	"[INST]", "[/INST]", "<s>", "</s>",
	"<start_of_turn>", "<end_of_turn>",
	"<｜end▁of▁sentence｜>",
}

// StripControlTokens removes the family's own control tokens plus the
// generic cross-family set from text.
func StripControlTokens(family template.Family, text string) string {
	for _, tok := range familyTokens[family] {
		text = strings.ReplaceAll(text, tok, "")
	}
	for _, tok := range crossFamilyTokens {
		text = strings.ReplaceAll(text, tok, "")
	}
	return text
}

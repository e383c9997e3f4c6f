package template

import (
	"log/slog"
	"strings"

	"inferd/internal/core"
)

// turn is a normalized non-system message: role plus extracted text.
type turn struct {
	role core.Role
	text string
}

// Format renders a conversation into the family's prompt grammar.
//
// The system prompt arrives already finalized. For every family except
// the default and teuken grammars it is folded into the first user turn,
// never emitted standalone. Only text content participates; non-text
// parts are ignored. An empty history still yields a syntactically valid
// prompt positioned at the generation point.
//
// Format never fails: an internal fault is recovered and the generic
// default grammar is substituted.
func Format(family Family, messages []core.Message, systemPrompt string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("prompt formatter panicked, falling back to default grammar",
				"family", family,
				"panic", r,
			)
			turns, system := normalize(messages, systemPrompt)
			out = formatDefault(turns, system)
		}
	}()

	turns, system := normalize(messages, systemPrompt)

	switch family {
	case FamilyMistral:
		return formatMistral(foldSystem(turns, system))
	case FamilyLlama:
		return formatLlama(foldSystem(turns, system))
	case FamilyDeepseek:
		return formatDeepseek(foldSystem(turns, system))
	case FamilyPhi:
		return formatPhi(foldSystem(turns, system))
	case FamilyGemma:
		return formatGemma(foldSystem(turns, system))
	case FamilyTeuken:
		return formatTeuken(turns, system)
	default:
		return formatDefault(turns, system)
	}
}

// normalize extracts text turns and merges system-role history messages
// (truncation notices, summary checkpoints) into the finalized system
// prompt.
func normalize(messages []core.Message, systemPrompt string) ([]turn, string) {
	var systems []string
	if systemPrompt != "" {
		systems = append(systems, systemPrompt)
	}
	turns := make([]turn, 0, len(messages))
	for _, m := range messages {
		if m.Role == core.RoleSystem {
			if t := m.Text(); t != "" {
				systems = append(systems, t)
			}
			continue
		}
		turns = append(turns, turn{role: m.Role, text: m.Text()})
	}
	return turns, strings.Join(systems, "\n\n")
}

// foldSystem merges the system content into the first user turn,
// synthesizing one when the history is empty or starts with an
// assistant turn.
func foldSystem(turns []turn, system string) []turn {
	if system == "" {
		return turns
	}
	for i := range turns {
		if turns[i].role == core.RoleUser {
			folded := make([]turn, len(turns))
			copy(folded, turns)
			folded[i].text = system + "\n\n" + folded[i].text
			return folded
		}
	}
	return append([]turn{{role: core.RoleUser, text: system}}, turns...)
}

func formatMistral(turns []turn) string {
	var b strings.Builder
	b.WriteString("<s>")
	if len(turns) == 0 {
		b.WriteString("[INST] [/INST]")
		return b.String()
	}
	for _, t := range turns {
		switch t.role {
		case core.RoleUser:
			b.WriteString("[INST] ")
			b.WriteString(t.text)
			b.WriteString(" [/INST]")
		case core.RoleAssistant:
			b.WriteString(" ")
			b.WriteString(t.text)
			b.WriteString("</s><s>")
		}
	}
	return b.String()
}

func formatLlama(turns []turn) string {
	var b strings.Builder
	b.WriteString("<|begin_of_text|>")
	for _, t := range turns {
		b.WriteString("<|start_header_id|>")
		b.WriteString(string(t.role))
		b.WriteString("<|end_header_id|>\n\n")
		b.WriteString(t.text)
		b.WriteString("<|eot_id|>")
	}
	b.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")
	return b.String()
}

func formatDeepseek(turns []turn) string {
	var b strings.Builder
	b.WriteString("<｜begin▁of▁sentence｜>")
	for _, t := range turns {
		switch t.role {
		case core.RoleUser:
			b.WriteString("<｜User｜>")
			b.WriteString(t.text)
		case core.RoleAssistant:
			b.WriteString("<｜Assistant｜>")
			b.WriteString(t.text)
			b.WriteString("<｜end▁of▁sentence｜>")
		}
	}
	b.WriteString("<｜Assistant｜>")
	return b.String()
}

func formatPhi(turns []turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString("<|")
		b.WriteString(string(t.role))
		b.WriteString("|>\n")
		b.WriteString(t.text)
		b.WriteString("<|end|>\n")
	}
	b.WriteString("<|assistant|>\n")
	return b.String()
}

func formatGemma(turns []turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString("<start_of_turn>")
		b.WriteString(gemmaRole(t.role))
		b.WriteString("\n")
		b.WriteString(t.text)
		b.WriteString("<end_of_turn>\n")
	}
	b.WriteString("<start_of_turn>model\n")
	return b.String()
}

func gemmaRole(r core.Role) string {
	if r == core.RoleAssistant {
		return "model"
	}
	return "user"
}

// formatTeuken is the fixed-prefix grammar: the system content is its own
// leading block rather than being folded into the first user turn.
func formatTeuken(turns []turn, system string) string {
	var b strings.Builder
	if system != "" {
		b.WriteString("System: ")
		b.WriteString(system)
		b.WriteString("\n")
	}
	for _, t := range turns {
		if t.role == core.RoleAssistant {
			b.WriteString("Assistant: ")
		} else {
			b.WriteString("User: ")
		}
		b.WriteString(t.text)
		b.WriteString("\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}

func formatDefault(turns []turn, system string) string {
	var b strings.Builder
	if system != "" {
		b.WriteString("### System:\n")
		b.WriteString(system)
		b.WriteString("\n\n")
	}
	for _, t := range turns {
		if t.role == core.RoleAssistant {
			b.WriteString("### Assistant:\n")
		} else {
			b.WriteString("### User:\n")
		}
		b.WriteString(t.text)
		b.WriteString("\n\n")
	}
	b.WriteString("### Assistant:\n")
	return b.String()
}

package template

import "inferd/internal/core"

// placeholderText is the neutral content of an inserted alternation
// repair turn.
const placeholderText = "Okay."

// EnforceAlternation repairs a history so that user and assistant turns
// strictly alternate, inserting neutral placeholder turns wherever two
// consecutive non-system turns share a role. Some local backends reject
// non-alternating input outright, so the repair runs on the structured
// turns before formatting, never on the formatted string.
//
// System messages are transparent: they neither break nor satisfy
// alternation.
func EnforceAlternation(messages []core.Message) []core.Message {
	out := make([]core.Message, 0, len(messages))
	var prev core.Role
	for _, m := range messages {
		if m.Role == core.RoleSystem {
			out = append(out, m)
			continue
		}
		if m.Role == prev {
			out = append(out, core.Message{Role: opposite(prev), Content: placeholderText})
		}
		out = append(out, m)
		prev = m.Role
	}
	return out
}

func opposite(r core.Role) core.Role {
	if r == core.RoleUser {
		return core.RoleAssistant
	}
	return core.RoleUser
}

package stream

import "regexp"

// terminationPattern is one known-bad continuation signature. A match in
// the trailing buffer means the model has entered a degenerate output
// mode and generation should stop softly.
type terminationPattern struct {
	name string
	re   *regexp.Regexp
}

// terminationPatterns is the fixed anomaly table checked against the
// trailing buffer when guarding is enabled. These fire on cross-family
// token contamination, looping apology phrases, turn-bracket runs, and
// self-dialog (the model inventing the user's next turn).
var terminationPatterns = []terminationPattern{
	{"chatml-contamination", regexp.MustCompile(`<\|im_(start|end)\|>`)},
	{"turn-bracket-run", regexp.MustCompile(`(\[INST\][ \t]*){2,}|(\[/INST\][ \t]*){2,}`)},
	{"empty-instruction-block", regexp.MustCompile(`\[INST\][ \t]*\[/INST\]`)},
	{"header-run", regexp.MustCompile(`(<\|start_header_id\|>[a-z]*){2,}`)},
	{"apology-loop", regexp.MustCompile(`(?i)(i apologize[,.!]?[ \t]*){3,}|(i'm sorry[,.!]?[ \t]*){3,}`)},
	{"self-dialog", regexp.MustCompile(`(?m)\n(User|Human):[ \t]`)},
	{"endoftext-leak", regexp.MustCompile(`<\|endoftext\|>`)},
}

// matchTermination returns the name of the first matching termination
// pattern, or "".
func matchTermination(buffer string) string {
	for _, p := range terminationPatterns {
		if p.re.MatchString(buffer) {
			return p.name
		}
	}
	return ""
}

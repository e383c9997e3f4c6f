package stream

import (
	"strings"
	"sync"

	"inferd/internal/core"
	"inferd/internal/sanitize"
	"inferd/internal/template"
)

// minTrailingWindow keeps the trailing buffer large enough for the
// termination-pattern table even when stop sequences are short or absent.
const minTrailingWindow = 256

// Config controls how a session guards its stream.
type Config struct {
	// StopSequences end generation cleanly when they appear in output.
	StopSequences []string

	// GuardAnomalies enables the termination-pattern check.
	GuardAnomalies bool

	// SanitizeCodeSpans enables token-level tag stripping on complete
	// code-fence/inline-code spans. Tokens outside spans are always
	// forwarded unchanged; the full per-family sanitizer never runs
	// mid-stream, as it would corrupt multi-token code blocks.
	SanitizeCodeSpans bool

	Family          template.Family
	LastUserMessage string
}

// Session is the per-request streaming state: the bounded trailing
// buffer, the raw accumulator, and the terminal verdict. It is allocated
// at dispatch start and discarded at the first terminal transition;
// nothing in it is ever shared between requests.
type Session struct {
	ID string

	mu       sync.Mutex
	cfg      Config
	trailing []byte
	maxTrail int
	raw      strings.Builder
	verdict  Verdict
	matched  string

	// code-span filter state
	inSpan  bool
	fence   string
	spanBuf strings.Builder
}

// NewSession creates the streaming state for one request. The trailing
// buffer is sized to roughly twice the longest stop sequence so matches
// split across token boundaries are still caught.
func NewSession(id string, cfg Config) *Session {
	maxTrail := minTrailingWindow
	for _, stop := range cfg.StopSequences {
		if n := 2 * len(stop); n > maxTrail {
			maxTrail = n
		}
	}
	return &Session{
		ID:       id,
		cfg:      cfg,
		maxTrail: maxTrail,
	}
}

// Wrap returns a guarded token callback around onToken. The guarded
// callback consumes one raw token at a time from whichever backend is
// streaming, stops forwarding at the first terminal condition, and
// accumulates the raw response text.
func (s *Session) Wrap(onToken core.TokenFunc) core.TokenFunc {
	return func(token string) {
		s.mu.Lock()
		if s.verdict.Terminal() {
			s.mu.Unlock()
			return
		}

		s.appendTrailing(token)

		if stop := s.stopHit(); stop != "" {
			s.verdict = VerdictStopSequence
			s.matched = stop
			s.mu.Unlock()
			return
		}
		if s.cfg.GuardAnomalies {
			if name := matchTermination(string(s.trailing)); name != "" {
				s.verdict = VerdictAnomaly
				s.matched = name
				s.mu.Unlock()
				return
			}
		}

		s.raw.WriteString(token)
		outs := s.filter(token)
		s.mu.Unlock()

		// Forward outside the lock: the sink may block briefly and must
		// never hold up a concurrent cancel.
		for _, out := range outs {
			if out != "" {
				onToken(out)
			}
		}
	}
}

// Terminate records a terminal verdict for the session. The first
// terminal transition wins; later calls are no-ops. Used by the router
// for cancellation and transport failures.
func (s *Session) Terminate(v Verdict, detail string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.verdict.Terminal() || !v.Terminal() {
		return false
	}
	s.verdict = v
	s.matched = detail
	return true
}

// Verdict returns the session's current verdict.
func (s *Session) Verdict() Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verdict
}

// Matched returns the stop sequence or pattern name that terminated the
// stream, if any.
func (s *Session) Matched() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matched
}

// Raw returns the raw accumulated response text. This is what gets
// persisted.
func (s *Session) Raw() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raw.String()
}

// Sanitized computes the cleaned response from the accumulated raw text.
// Only meaningful once the stream has fully ended; it is never persisted,
// only surfaced in the terminal notification.
func (s *Session) Sanitized() string {
	s.mu.Lock()
	family := s.cfg.Family
	raw := s.raw.String()
	lastUser := s.cfg.LastUserMessage
	s.mu.Unlock()
	return sanitize.Sanitize(family, raw, sanitize.Options{LastUserMessage: lastUser})
}

// Drain returns any code-span text still buffered by the token filter.
// Called once when the stream ends so an unterminated fence is not lost.
func (s *Session) Drain() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inSpan {
		return ""
	}
	s.inSpan = false
	out := s.spanBuf.String()
	s.spanBuf.Reset()
	return out
}

// appendTrailing adds the token to the bounded trailing buffer.
func (s *Session) appendTrailing(token string) {
	s.trailing = append(s.trailing, token...)
	if len(s.trailing) > s.maxTrail {
		s.trailing = s.trailing[len(s.trailing)-s.maxTrail:]
	}
}

// stopHit returns the stop sequence the buffer's tail matches, or "".
func (s *Session) stopHit() string {
	tail := string(s.trailing)
	for _, stop := range s.cfg.StopSequences {
		if stop != "" && strings.HasSuffix(tail, stop) {
			return stop
		}
	}
	return ""
}

// filter decides what to forward for one accepted token. Without span
// sanitization the token passes through unchanged. With it, code spans
// are buffered until their closing fence and then tag-stripped as a
// whole.
func (s *Session) filter(token string) []string {
	if !s.cfg.SanitizeCodeSpans {
		return []string{token}
	}

	var out []string
	rest := token
	for rest != "" {
		if !s.inSpan {
			idx := strings.Index(rest, "`")
			if idx < 0 {
				out = append(out, rest)
				break
			}
			out = append(out, rest[:idx])
			if strings.HasPrefix(rest[idx:], "```") {
				s.fence = "```"
			} else {
				s.fence = "`"
			}
			s.inSpan = true
			s.spanBuf.Reset()
			s.spanBuf.WriteString(s.fence)
			rest = rest[idx+len(s.fence):]
			continue
		}

		idx := strings.Index(rest, s.fence)
		if idx < 0 {
			s.spanBuf.WriteString(rest)
			break
		}
		s.spanBuf.WriteString(rest[:idx])
		s.spanBuf.WriteString(s.fence)
		out = append(out, sanitize.StripControlTokens(s.cfg.Family, s.spanBuf.String()))
		s.inSpan = false
		s.spanBuf.Reset()
		rest = rest[idx+len(s.fence):]
	}
	return out
}

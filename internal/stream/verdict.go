// Package stream guards a backend's raw token stream: it detects stop
// sequences and degenerate output mid-stream, accumulates the raw and
// sanitized response texts, and enforces a single terminal transition
// per request.
package stream

// Verdict is the terminal classification of a stream session.
type Verdict int

const (
	// VerdictContinue means the stream is still live.
	VerdictContinue Verdict = iota
	// VerdictStopSequence means a configured stop sequence was hit. This
	// is a successful, non-error termination.
	VerdictStopSequence
	// VerdictAnomaly means a known-bad continuation pattern matched.
	// Soft error: partial content is kept and flagged.
	VerdictAnomaly
	// VerdictTransportError means the backend failed mid-stream.
	VerdictTransportError
	// VerdictCancelled means the caller cancelled the request.
	VerdictCancelled
)

func (v Verdict) String() string {
	switch v {
	case VerdictContinue:
		return "continue"
	case VerdictStopSequence:
		return "stop-sequence-hit"
	case VerdictAnomaly:
		return "anomaly-detected"
	case VerdictTransportError:
		return "transport-error"
	case VerdictCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the verdict ends the session.
func (v Verdict) Terminal() bool {
	return v != VerdictContinue
}

// Clean reports whether accumulated content should be persisted under
// this verdict. Stop sequences and guard trips keep their content;
// transport failures do not. Cancellation keeps content but is resolved
// by the router as aborted rather than completed.
func (v Verdict) Clean() bool {
	return v == VerdictStopSequence || v == VerdictAnomaly
}

// Package router orchestrates a single chat completion from validation
// through dispatch, streaming and terminal delivery. Each request moves
// through a fixed set of states and ends in exactly one of completed,
// aborted or failed; requests that reach the streaming state always
// produce exactly one terminal sink event.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"inferd/internal/catalog"
	"inferd/internal/contextwin"
	"inferd/internal/core"
	"inferd/internal/observability"
	"inferd/internal/sink"
	"inferd/internal/stream"
	"inferd/internal/template"
)

// LocalProviderType is the provider label that marks a model as served
// by the local backend rather than a remote API.
const LocalProviderType = "ollama"

// summarizeThresholdPercent is the fill level at which opportunistic
// summarization kicks in, well before hard validation fails.
const summarizeThresholdPercent = 70

// persistTimeout bounds the final message store write. Persistence runs
// on a background context so a disconnected client cannot abort it.
const persistTimeout = 5 * time.Second

// Publisher receives per-request streaming events. *sink.Broker is the
// production implementation.
type Publisher interface {
	Token(key sink.Key, token string)
	Complete(key sink.Key, ev sink.Event)
	Error(key sink.Key, message string)
}

// Config wires a Router's collaborators.
type Config struct {
	Models     core.ModelLookup
	Windows    core.ContextSource
	Active     *catalog.ActiveModel
	Local      core.Dispatcher            // nil when no local backend is configured
	External   map[string]core.Dispatcher // provider type -> dispatcher
	Keys       map[string]string          // provider type -> server-side credential
	Store      core.MessageStore          // nil disables persistence
	Sink       Publisher
	Summarizer *contextwin.Summarizer
	Metrics    *observability.Metrics

	// GuardAnomalies enables the runaway-generation patterns on every
	// streaming session.
	GuardAnomalies bool
	// SanitizeCodeSpans strips control tokens inside inline and fenced
	// code spans as they stream.
	SanitizeCodeSpans bool
}

// Router validates, formats and dispatches prompt requests.
type Router struct {
	models     core.ModelLookup
	windows    core.ContextSource
	active     *catalog.ActiveModel
	local      core.Dispatcher
	external   map[string]core.Dispatcher
	keys       map[string]string
	store      core.MessageStore
	sink       Publisher
	summarizer *contextwin.Summarizer
	metrics    *observability.Metrics
	cancels    *CancelRegistry

	guardAnomalies    bool
	sanitizeCodeSpans bool
}

// New builds a Router from cfg.
func New(cfg Config) *Router {
	return &Router{
		models:            cfg.Models,
		windows:           cfg.Windows,
		active:            cfg.Active,
		local:             cfg.Local,
		external:          cfg.External,
		keys:              cfg.Keys,
		store:             cfg.Store,
		sink:              cfg.Sink,
		summarizer:        cfg.Summarizer,
		metrics:           cfg.Metrics,
		cancels:           NewCancelRegistry(),
		guardAnomalies:    cfg.GuardAnomalies,
		sanitizeCodeSpans: cfg.SanitizeCodeSpans,
	}
}

// Cancel aborts the in-flight request identified by messageID. It
// reports whether a live request was found; cancelling an already
// finished or unknown request is a no-op.
func (r *Router) Cancel(messageID string) bool {
	return r.cancels.Cancel(messageID)
}

// InFlight reports the number of requests currently streaming.
func (r *Router) InFlight() int {
	return r.cancels.Len()
}

// Route runs one prompt request to a terminal state. Failures before
// any token has been requested are returned directly without touching
// the sink; once dispatch starts, the outcome is delivered as a single
// terminal sink event and Route returns nil for every outcome except a
// transport failure.
func (r *Router) Route(ctx context.Context, req *core.PromptRequest) error {
	log := slog.With("message_id", req.MessageID, "model", req.ModelID)

	spec, ok := r.models.Get(req.ModelID)
	if !ok {
		return core.NewModelUnavailableError(req.ModelID, "not in model catalog")
	}

	// Validating.
	window := r.windows.WindowFor(req.ModelID)
	messages := req.Messages

	if req.Summarize && r.summarizer != nil && r.active != nil {
		if snap, live := r.active.Snapshot(); live {
			if contextwin.EstimateTokens(messages)*100 >= window*summarizeThresholdPercent {
				messages = r.summarizer.Summarize(ctx, messages, snap.Spec.ID)
			}
		}
	}

	decision := contextwin.Validate(messages, window)
	if decision.IsTooLong {
		if !req.AutoTruncate {
			return core.NewContextOverflowError(decision.EstimatedTokens, window)
		}
		messages = contextwin.Truncate(messages, window)
		decision = contextwin.Validate(messages, window)
		if decision.IsTooLong {
			return core.NewContextOverflowError(decision.EstimatedTokens, window)
		}
		log.Info("history truncated to fit context window",
			"estimated_tokens", decision.EstimatedTokens, "window", window)
	}

	// Formatting.
	family := template.Resolve(spec)
	isLocal := spec.Provider == LocalProviderType
	if isLocal {
		messages = template.EnforceAlternation(messages)
	}
	systemPrompt := ""
	if req.SystemPrompt != nil {
		systemPrompt = *req.SystemPrompt
	}
	prompt := template.Format(family, messages, systemPrompt)

	// Dispatching.
	dispatcher, credential, err := r.resolveDispatcher(spec, req)
	if err != nil {
		return err
	}

	params := req.Params
	lastUser := lastUserText(req.Messages)
	if wantsStructuredOutput(lastUser) {
		params = tightenForStructured(params)
	}

	// Streaming.
	key := sink.Key{ConversationID: req.ConversationID, MessageID: req.MessageID}
	session := stream.NewSession(req.MessageID, stream.Config{
		StopSequences:     params.Stop,
		GuardAnomalies:    r.guardAnomalies,
		SanitizeCodeSpans: r.sanitizeCodeSpans,
		Family:            family,
		LastUserMessage:   lastUser,
	})

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.cancels.register(req.MessageID, handle{cancel: cancel, session: session})
	defer r.cancels.unregister(req.MessageID)

	forward := session.Wrap(func(token string) {
		r.sink.Token(key, token)
		r.metrics.ObserveToken()
	})
	onToken := func(token string) {
		forward(token)
		if session.Verdict().Terminal() {
			cancel()
		}
	}

	start := time.Now()
	result, dispatchErr := dispatcher.Dispatch(dctx, &core.DispatchRequest{
		Credential: credential,
		ModelID:    req.ModelID,
		Prompt:     prompt,
		Params:     params,
	}, onToken)
	elapsed := time.Since(start)

	// A context error with no guard verdict means the caller went away
	// mid-stream. Fold it into the cancelled outcome so the partial
	// content is kept.
	if dispatchErr != nil && errors.Is(dispatchErr, context.Canceled) &&
		!session.Verdict().Terminal() {
		session.Terminate(stream.VerdictCancelled, "context cancelled")
	}

	if pending := session.Drain(); pending != "" && !session.Verdict().Terminal() {
		r.sink.Token(key, pending)
	}

	return r.finish(log, key, req, spec, session, result, dispatchErr, elapsed)
}

// finish delivers the single terminal event for a request that reached
// the streaming state and records its outcome.
func (r *Router) finish(log *slog.Logger, key sink.Key, req *core.PromptRequest,
	spec *core.ModelSpec, session *stream.Session, result *core.DispatchResult,
	dispatchErr error, elapsed time.Duration) error {

	verdict := session.Verdict()
	usage := r.usageFor(req, session, result)

	switch {
	case verdict == stream.VerdictCancelled:
		r.persist(log, req.MessageID, session.Raw())
		r.sink.Complete(key, sink.Event{
			Sanitized: session.Sanitized(),
			Usage:     usage,
			ElapsedMs: elapsed.Milliseconds(),
			Aborted:   true,
		})
		r.metrics.ObserveRequest(spec.Provider, "aborted", elapsed)
		log.Info("request aborted", "elapsed_ms", elapsed.Milliseconds())
		return nil

	case verdict.Clean():
		degraded := verdict == stream.VerdictAnomaly
		r.persist(log, req.MessageID, session.Raw())
		r.sink.Complete(key, sink.Event{
			Sanitized: session.Sanitized(),
			Usage:     usage,
			ElapsedMs: elapsed.Milliseconds(),
			Degraded:  degraded,
			Reason:    session.Matched(),
		})
		outcome := "completed"
		if degraded {
			outcome = "degraded"
			log.Warn("generation guard tripped", "pattern", session.Matched())
		}
		r.metrics.ObserveRequest(spec.Provider, outcome, elapsed)
		return nil

	case dispatchErr != nil:
		session.Terminate(stream.VerdictTransportError, dispatchErr.Error())
		var infErr *core.InferenceError
		if !errors.As(dispatchErr, &infErr) {
			infErr = core.NewProviderTransportError(spec.Provider, dispatchErr.Error(), dispatchErr)
		}
		r.sink.Error(key, infErr.Message)
		r.metrics.ObserveRequest(spec.Provider, "failed", elapsed)
		log.Error("dispatch failed", "error", dispatchErr)
		return infErr

	default:
		// Upstream closed the stream without tripping a stop sequence
		// or guard pattern. Treat it as a natural completion.
		r.persist(log, req.MessageID, session.Raw())
		r.sink.Complete(key, sink.Event{
			Sanitized: session.Sanitized(),
			Usage:     usage,
			ElapsedMs: elapsed.Milliseconds(),
		})
		r.metrics.ObserveRequest(spec.Provider, "completed", elapsed)
		return nil
	}
}

// resolveDispatcher picks the backend and credential for spec. Local
// models must match the currently loaded snapshot; external models need
// a server-side key or a caller-supplied one.
func (r *Router) resolveDispatcher(spec *core.ModelSpec, req *core.PromptRequest) (core.Dispatcher, string, error) {
	if spec.Provider == LocalProviderType {
		if r.local == nil {
			return nil, "", core.NewModelUnavailableError(req.ModelID, "no local backend configured")
		}
		if r.active == nil {
			return nil, "", core.NewModelUnavailableError(req.ModelID, "no model loaded")
		}
		snap, live := r.active.Snapshot()
		if !live || snap.Spec.ID != req.ModelID {
			return nil, "", core.NewModelUnavailableError(req.ModelID, "not the active local model")
		}
		return r.local, "", nil
	}

	dispatcher, ok := r.external[spec.Provider]
	if !ok {
		return nil, "", core.NewModelUnavailableError(req.ModelID, "no dispatcher for provider "+spec.Provider)
	}
	credential := r.keys[spec.Provider]
	if credential == "" {
		credential = req.APIKey
	}
	if credential == "" {
		return nil, "", core.NewProviderAuthError(spec.Provider, "no credential configured")
	}
	return dispatcher, credential, nil
}

// persist writes the final assistant content. It runs on a fresh
// context so a cancelled request context cannot drop the write, and is
// called at most once per request.
func (r *Router) persist(log *slog.Logger, messageID, content string) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if found, err := r.store.Update(ctx, messageID, content, false); err != nil {
		log.Warn("message persistence failed", "error", err)
	} else if !found {
		log.Warn("message row missing during persistence")
	}
}

// usageFor prefers provider-reported usage and falls back to the char
// estimate when the backend reported nothing.
func (r *Router) usageFor(req *core.PromptRequest, session *stream.Session, result *core.DispatchResult) *core.Usage {
	if result != nil && result.Usage != nil {
		return result.Usage
	}
	prompt := contextwin.EstimateTokens(req.Messages)
	completion := (len(session.Raw()) + contextwin.CharsPerToken - 1) / contextwin.CharsPerToken
	return &core.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// lastUserText returns the text of the newest user turn, or "".
func lastUserText(messages []core.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == core.RoleUser {
			return messages[i].Text()
		}
	}
	return ""
}

// structuredMarkers are phrases that signal the caller expects machine
// parseable output rather than prose.
var structuredMarkers = []string{
	"respond with json", "reply with json", "answer in json",
	"output json", "return json", "as a json", "in json format",
	"valid json only", "json object", "json array",
}

// wantsStructuredOutput reports whether the last user turn asks for
// JSON output.
func wantsStructuredOutput(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range structuredMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// tightenForStructured lowers sampling freedom for requests that expect
// machine parseable output. Caller-supplied values win.
func tightenForStructured(params core.Params) core.Params {
	if params.Temperature == nil {
		t := 0.2
		params.Temperature = &t
	}
	if params.RepeatPenalty == nil {
		p := 1.15
		params.RepeatPenalty = &p
	}
	for _, stop := range []string{"\n\n\n"} {
		if !containsString(params.Stop, stop) {
			params.Stop = append(params.Stop, stop)
		}
	}
	return params
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

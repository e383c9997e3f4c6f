// Package ollama integrates the local Ollama backend. Prompts are
// already fully templated by the time they reach this package, so
// generation goes through the native raw-mode endpoint rather than the
// OpenAI compatibility layer.
package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"inferd/internal/core"
	"inferd/internal/llmclient"
	"inferd/internal/providers"
)

const (
	// ProviderType is the catalog label for locally served models.
	ProviderType = "ollama"

	defaultBaseURL = "http://localhost:11434"

	// scanBufferSize bounds a single NDJSON line. Generation chunks are
	// tiny but model listings can carry large metadata blobs.
	scanBufferSize = 1 << 20
)

func init() {
	providers.Register(ProviderType, func(opts providers.Options) (core.Dispatcher, error) {
		if opts.HTTPClient != nil {
			return NewWithHTTPClient(opts.HTTPClient, opts.BaseURL), nil
		}
		return New(opts.BaseURL), nil
	})
}

// Client talks to one Ollama instance.
type Client struct {
	client *llmclient.Client
}

// New builds a client on the default streaming transport. An empty
// baseURL targets the standard local port.
func New(baseURL string) *Client {
	return NewWithHTTPClient(llmclient.NewHTTPClient(nil), baseURL)
}

// NewWithHTTPClient builds a client on a caller-supplied http.Client.
func NewWithHTTPClient(httpClient *http.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	cfg := llmclient.DefaultConfig(ProviderType, baseURL)
	// The local daemon either answers or it doesn't; retry storms just
	// pile up generation jobs.
	cfg.MaxRetries = 0
	return &Client{client: llmclient.NewWithHTTPClient(httpClient, cfg, setHeaders)}
}

func setHeaders(req *http.Request) {
	if requestID := core.GetRequestID(req.Context()); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
}

// Name implements core.Dispatcher.
func (c *Client) Name() string { return ProviderType }

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Raw     bool            `json:"raw"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options,omitempty"`
}

type generateOptions struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	NumPredict    *int     `json:"num_predict,omitempty"`
	Stop          []string `json:"stop,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
}

type generateChunk struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Dispatch implements core.Dispatcher. It streams the raw templated
// prompt through /api/generate and forwards each response fragment to
// onToken as it arrives.
func (c *Client) Dispatch(ctx context.Context, req *core.DispatchRequest, onToken core.TokenFunc) (*core.DispatchResult, error) {
	body, err := c.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/api/generate",
		Body: generateRequest{
			Model:  req.ModelID,
			Prompt: req.Prompt,
			Raw:    true,
			Stream: true,
			Options: generateOptions{
				Temperature:   req.Params.Temperature,
				NumPredict:    req.Params.MaxTokens,
				Stop:          req.Params.Stop,
				RepeatPenalty: req.Params.RepeatPenalty,
			},
		},
	})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	result := &core.DispatchResult{}
	var content strings.Builder

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), scanBufferSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var chunk generateChunk
		if jsonErr := json.Unmarshal(line, &chunk); jsonErr != nil {
			return nil, core.NewProviderTransportError(ProviderType,
				"malformed stream chunk: "+jsonErr.Error(), jsonErr)
		}
		if chunk.Response != "" {
			content.WriteString(chunk.Response)
			onToken(chunk.Response)
		}
		if chunk.Done {
			result.Usage = &core.Usage{
				PromptTokens:     chunk.PromptEvalCount,
				CompletionTokens: chunk.EvalCount,
				TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
			}
			break
		}
	}

	if scanErr := scanner.Err(); scanErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, core.NewProviderTransportError(ProviderType,
			"stream interrupted: "+scanErr.Error(), scanErr)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result.Content = content.String()
	return result, nil
}

type tagsResponse struct {
	Models []struct {
		Name    string `json:"name"`
		Details struct {
			Family string `json:"family"`
		} `json:"details"`
	} `json:"models"`
}

// ListModels returns the models the daemon has pulled, as catalog
// specs. Context windows are not part of the listing; Show fills them
// per model.
func (c *Client) ListModels(ctx context.Context) ([]core.ModelSpec, error) {
	var resp tagsResponse
	if err := c.client.Do(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/api/tags",
	}, &resp); err != nil {
		return nil, err
	}

	specs := make([]core.ModelSpec, 0, len(resp.Models))
	for _, m := range resp.Models {
		specs = append(specs, core.ModelSpec{
			ID:       m.Name,
			Provider: ProviderType,
			Family:   m.Details.Family,
		})
	}
	return specs, nil
}

// Show reports the declared context window for modelID, 0 when the
// daemon does not expose one. The window lives under an
// architecture-prefixed key like "llama.context_length", so the lookup
// scans model_info instead of addressing a fixed path.
func (c *Client) Show(ctx context.Context, modelID string) (int, error) {
	resp, err := c.client.DoRaw(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/api/show",
		Body:     map[string]string{"model": modelID},
	})
	if err != nil {
		return 0, err
	}

	window := 0
	gjson.GetBytes(resp.Body, "model_info").ForEach(func(key, value gjson.Result) bool {
		if strings.HasSuffix(key.String(), ".context_length") {
			window = int(value.Int())
			return false
		}
		return true
	})
	return window, nil
}

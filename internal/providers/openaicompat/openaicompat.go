// Package openaicompat dispatches to any OpenAI-compatible completions
// API. Prompts arrive fully templated, so it uses the legacy text
// completions endpoint, which vLLM, llama.cpp and the hosted
// aggregators all still serve.
package openaicompat

import (
	"bufio"
	"context"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"inferd/internal/core"
	"inferd/internal/llmclient"
	"inferd/internal/providers"
)

// ProviderType is the catalog label for this dispatcher.
const ProviderType = "openai"

const (
	ssePrefix = "data: "
	sseDone   = "[DONE]"

	scanBufferSize = 1 << 20
)

func init() {
	providers.Register(ProviderType, func(opts providers.Options) (core.Dispatcher, error) {
		if opts.HTTPClient != nil {
			return NewWithHTTPClient(opts.HTTPClient, ProviderType, opts.BaseURL), nil
		}
		return New(ProviderType, opts.BaseURL), nil
	})
}

// Client streams from one OpenAI-compatible endpoint.
type Client struct {
	name   string
	client *llmclient.Client
}

// New builds a client for the given provider label and base URL, e.g.
// "https://api.openai.com/v1".
func New(name, baseURL string) *Client {
	return NewWithHTTPClient(llmclient.NewHTTPClient(nil), name, baseURL)
}

// NewWithHTTPClient builds a client on a caller-supplied http.Client.
func NewWithHTTPClient(httpClient *http.Client, name, baseURL string) *Client {
	return &Client{
		name:   name,
		client: llmclient.NewWithHTTPClient(httpClient, llmclient.DefaultConfig(name, baseURL), nil),
	}
}

// Name implements core.Dispatcher.
func (c *Client) Name() string { return c.name }

type completionRequest struct {
	Model         string         `json:"model"`
	Prompt        string         `json:"prompt"`
	Stream        bool           `json:"stream"`
	Temperature   *float64       `json:"temperature,omitempty"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Stop          []string       `json:"stop,omitempty"`
	StreamOptions map[string]any `json:"stream_options,omitempty"`
}

// Dispatch implements core.Dispatcher over server-sent events. The
// request credential goes out as a bearer token on this call only; the
// client itself holds no secrets.
func (c *Client) Dispatch(ctx context.Context, req *core.DispatchRequest, onToken core.TokenFunc) (*core.DispatchResult, error) {
	body, err := c.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/completions",
		Body: completionRequest{
			Model:         req.ModelID,
			Prompt:        req.Prompt,
			Stream:        true,
			Temperature:   req.Params.Temperature,
			MaxTokens:     req.Params.MaxTokens,
			Stop:          req.Params.Stop,
			StreamOptions: map[string]any{"include_usage": true},
		},
		Headers: map[string]string{
			"Authorization": "Bearer " + req.Credential,
			"Accept":        "text/event-stream",
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
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, ssePrefix) {
			continue
		}
		payload := strings.TrimPrefix(line, ssePrefix)
		if payload == sseDone {
			break
		}
		if !gjson.Valid(payload) {
			return nil, core.NewProviderTransportError(c.name,
				"malformed stream event: "+truncateForError(payload), nil)
		}

		parsed := gjson.Parse(payload)
		if token := parsed.Get("choices.0.text"); token.Exists() && token.Str != "" {
			content.WriteString(token.Str)
			onToken(token.Str)
		}
		if usage := parsed.Get("usage"); usage.Exists() && usage.Get("total_tokens").Int() > 0 {
			result.Usage = &core.Usage{
				PromptTokens:     int(usage.Get("prompt_tokens").Int()),
				CompletionTokens: int(usage.Get("completion_tokens").Int()),
				TotalTokens:      int(usage.Get("total_tokens").Int()),
			}
		}
	}

	if scanErr := scanner.Err(); scanErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, core.NewProviderTransportError(c.name,
			"stream interrupted: "+scanErr.Error(), scanErr)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result.Content = content.String()
	return result, nil
}

func truncateForError(payload string) string {
	const limit = 120
	if len(payload) > limit {
		return payload[:limit] + "..."
	}
	return payload
}

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rlneumiller/oli-sub000/internal/agent"
	"github.com/rlneumiller/oli-sub000/internal/backoff"
)

const (
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com"
	geminiDefaultModel   = "gemini-2.0-flash"
	geminiHTTPTimeout    = 120 * time.Second
)

// GeminiConfig holds the settings for creating a GeminiProvider.
type GeminiConfig struct {
	// APIKey authenticates against the Gemini API (required). It travels
	// as the key query parameter, which is how the generateContent
	// endpoint expects it.
	APIKey string

	// BaseURL overrides the default API endpoint.
	BaseURL string

	// Model is the model identifier used in the request path.
	Model string

	// MaxRetries bounds retry attempts for retryable failures. Default: 3.
	MaxRetries int

	// Backoff controls the delay between retry attempts. A Retry-After
	// header from the server overrides the computed delay.
	Backoff backoff.Policy

	// HTTPClient overrides the default client. Mainly for tests.
	HTTPClient *http.Client
}

// GeminiProvider talks to Google's Gemini generateContent API over plain
// HTTP. The wire format differs from the other backends in a few ways
// this adapter papers over: there is no system role (system prompts are
// folded into the first user turn), assistant turns use the model role,
// consecutive same-role turns must be merged into one multi-part entry,
// and function calls carry no ids (the adapter synthesizes them so tool
// results can be paired up again).
type GeminiProvider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	backoff    backoff.Policy
}

// NewGeminiProvider creates a provider from the given configuration.
// It returns an error when the API key is missing.
func NewGeminiProvider(cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = geminiDefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = geminiDefaultModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff == (backoff.Policy{}) {
		cfg.Backoff = backoff.DefaultPolicy()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: geminiHTTPTimeout}
	}

	return &GeminiProvider{
		httpClient: cfg.HTTPClient,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
	}, nil
}

// Name returns the provider identifier used for routing and logging.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Model returns the model identifier this provider sends with requests.
func (p *GeminiProvider) Model() string {
	return p.model
}

// Complete sends the conversation and returns the assistant's text reply.
func (p *GeminiProvider) Complete(ctx context.Context, messages []agent.Message, opts agent.CompletionOptions) (string, error) {
	resp, err := p.CompleteWithTools(ctx, messages, opts, nil)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// CompleteWithTools sends the conversation together with tool definitions
// and any tool results produced since the last assistant turn.
func (p *GeminiProvider) CompleteWithTools(ctx context.Context, messages []agent.Message, opts agent.CompletionOptions, prior []agent.ToolResult) (*agent.CompletionResponse, error) {
	payload := p.buildRequest(messages, opts, prior)

	resp, err := p.send(ctx, payload)
	if err != nil {
		return nil, err
	}

	return p.parseResponse(resp)
}

// Wire types for the generateContent endpoint.

type geminiRequest struct {
	Contents         []geminiContent   `json:"contents"`
	Tools            []geminiToolSet   `json:"tools,omitempty"`
	ToolConfig       *geminiToolConfig `json:"toolConfig,omitempty"`
	GenerationConfig *geminiGenConfig  `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiToolSet struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiToolConfig struct {
	FunctionCallingConfig *geminiFunctionCallingConfig `json:"functionCallingConfig,omitempty"`
}

type geminiFunctionCallingConfig struct {
	Mode string `json:"mode,omitempty"`
}

type geminiGenConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type geminiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// buildRequest converts the neutral conversation into the Gemini wire
// format. System messages become user turns, assistant turns become
// model turns, and consecutive same-role turns merge into one entry
// with multiple parts because the API rejects back-to-back entries of
// the same role.
func (p *GeminiProvider) buildRequest(messages []agent.Message, opts agent.CompletionOptions, prior []agent.ToolResult) geminiRequest {
	msgs := messages
	if opts.JSONSchema != "" {
		msgs = make([]agent.Message, len(messages), len(messages)+1)
		copy(msgs, messages)
		msgs = append(msgs, agent.UserMessage(jsonObjectInstruction+"\n"+opts.JSONSchema))
	}

	var contents []geminiContent
	appendPart := func(role string, part geminiPart) {
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, part)
			return
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{part}})
	}

	for _, msg := range msgs {
		switch msg.Role {
		case agent.RoleSystem, agent.RoleUser:
			if msg.Content != "" {
				appendPart("user", geminiPart{Text: msg.Content})
			}

		case agent.RoleAssistant:
			if msg.Content != "" {
				appendPart("model", geminiPart{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				appendPart("model", geminiPart{FunctionCall: &geminiFunctionCall{
					Name: call.Name,
					Args: rawOrEmptyObject(call.Arguments),
				}})
			}

		case agent.RoleTool:
			appendPart("user", geminiPart{FunctionResponse: &geminiFunctionResponse{
				Name:     toolNameFromCallID(msg.ToolCallID),
				Response: map[string]any{"output": msg.Content},
			}})
		}
	}

	for _, res := range prior {
		appendPart("user", geminiPart{FunctionResponse: &geminiFunctionResponse{
			Name:     toolNameFromCallID(res.ToolCallID),
			Response: map[string]any{"output": res.Output},
		}})
	}

	genCfg := &geminiGenConfig{MaxOutputTokens: maxTokensOrDefault(opts.MaxTokens)}
	if opts.Temperature > 0 {
		t := opts.Temperature
		genCfg.Temperature = &t
	}
	if opts.TopP > 0 {
		tp := opts.TopP
		genCfg.TopP = &tp
	}
	if opts.JSONSchema != "" {
		genCfg.ResponseMimeType = "application/json"
	}

	req := geminiRequest{
		Contents:         contents,
		GenerationConfig: genCfg,
	}

	if len(opts.Tools) > 0 {
		decls := make([]geminiFunctionDecl, 0, len(opts.Tools))
		for _, def := range opts.Tools {
			decls = append(decls, geminiFunctionDecl{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			})
		}
		req.Tools = []geminiToolSet{{FunctionDeclarations: decls}}

		if opts.RequireToolUse {
			req.ToolConfig = &geminiToolConfig{
				FunctionCallingConfig: &geminiFunctionCallingConfig{Mode: "ANY"},
			}
		}
	}

	return req
}

// send posts the request with retries. Rate limit and server errors are
// retried with backoff; a Retry-After header overrides the computed
// delay when the server provides one.
func (p *GeminiProvider) send(ctx context.Context, payload geminiRequest) (*geminiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		p.baseURL, url.PathEscape(p.model), url.QueryEscape(p.apiKey))

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		resp, retryAfter, err := p.doRequest(ctx, endpoint, body)
		if err == nil {
			return resp, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		lastErr = err

		if attempt < p.maxRetries {
			delay := p.backoff.Delay(attempt)
			if retryAfter > 0 {
				delay = retryAfter
			}
			if err := backoff.Sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("gemini: max retries exceeded: %w", lastErr)
}

func (p *GeminiProvider) doRequest(ctx context.Context, endpoint string, body []byte) (*geminiResponse, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, NewNetworkError("gemini", p.model, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, NewNetworkError("gemini", p.model, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, NewNetworkError("gemini", p.model, err)
	}

	if resp.StatusCode != http.StatusOK {
		perr := NewProtocolError("gemini", p.model, "").WithStatus(resp.StatusCode)
		var errBody geminiErrorBody
		if json.Unmarshal(raw, &errBody) == nil && errBody.Error.Message != "" {
			perr = perr.WithMessage(errBody.Error.Message)
			if errBody.Error.Status != "" {
				perr = perr.WithCode(errBody.Error.Status)
			}
		} else {
			perr = perr.WithMessage(strings.TrimSpace(string(raw)))
		}
		return nil, backoff.RetryAfter(resp.Header), perr
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, 0, NewProtocolError("gemini", p.model, fmt.Sprintf("unparseable response body: %v", err))
	}

	return &parsed, 0, nil
}

// parseResponse flattens the first candidate's parts into text and tool
// calls. Gemini function calls carry no id, so the adapter synthesizes
// one from the function name plus a short random suffix. The matching
// tool result later recovers the name by trimming that suffix.
func (p *GeminiProvider) parseResponse(resp *geminiResponse) (*agent.CompletionResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, NewProtocolError("gemini", p.model, "response contained no candidates")
	}

	out := &agent.CompletionResponse{
		Usage: agent.Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.FunctionCall != nil:
			out.ToolCalls = append(out.ToolCalls, agent.ToolCall{
				ID:        synthesizeCallID(part.FunctionCall.Name),
				Name:      part.FunctionCall.Name,
				Arguments: rawOrEmptyObject(part.FunctionCall.Args),
			})
		case part.Text != "":
			text.WriteString(part.Text)
		}
	}
	out.Content = text.String()

	return out, nil
}

// synthesizeCallID builds a call id from the function name and a random
// suffix so two calls to the same tool in one turn stay distinct.
func synthesizeCallID(name string) string {
	return name + "-" + uuid.NewString()[:8]
}

// toolNameFromCallID recovers the function name from a synthesized call
// id by trimming the random suffix.
func toolNameFromCallID(id string) string {
	if i := strings.LastIndex(id, "-"); i > 0 {
		return id[:i]
	}
	return id
}

func rawOrEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sethvargo/go-retry"

	"github.com/nugget/terrarium-irc/internal/httpkit"
)

// levelTrace matches config.LevelTrace without importing config.
const levelTrace = slog.Level(-8)

// OpenAIConfig configures an [OpenAIClient].
type OpenAIConfig struct {
	// URL is the server root, e.g. http://localhost:8080. A trailing
	// /v1 is accepted and not doubled.
	URL    string
	APIKey string

	Timeout time.Duration

	// MaxRetries is how many times a timeout or 5xx answer is retried
	// after the first attempt.
	MaxRetries int

	// RetryBase is the first backoff interval; each retry doubles it.
	RetryBase time.Duration
}

// OpenAIClient speaks the OpenAI chat completions protocol, which
// llama.cpp, vLLM and most local inference servers implement.
type OpenAIClient struct {
	client     openai.Client
	httpClient *http.Client
	healthURL  string
	maxRetries int
	retryBase  time.Duration
	logger     *slog.Logger
}

// NewOpenAIClient builds a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	root := strings.TrimSuffix(strings.TrimRight(cfg.URL, "/"), "/v1")
	httpClient := httpkit.NewClient(httpkit.WithTimeout(cfg.Timeout))

	opts := []option.RequestOption{
		option.WithBaseURL(root + "/v1/"),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	return &OpenAIClient{
		client:     openai.NewClient(opts...),
		httpClient: httpClient,
		healthURL:  root + "/health",
		maxRetries: cfg.MaxRetries,
		retryBase:  cfg.RetryBase,
		logger:     logger,
	}
}

// Chat sends one chat completion request, retrying timeouts and server
// errors with exponential backoff.
func (c *OpenAIClient) Chat(ctx context.Context, req *Request) (*Response, error) {
	params := c.buildParams(req)

	if c.logger.Enabled(ctx, levelTrace) {
		c.logger.Log(ctx, levelTrace, "chat completion request",
			"model", req.Model,
			"messages", len(req.Messages),
			"tools", len(req.Tools),
			"max_tokens", req.MaxTokens,
		)
	}

	var out *Response
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(c.maxRetries), retry.NewExponential(c.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		resp, err := c.once(ctx, params)
		if err == nil {
			out = resp
			return nil
		}
		if IsRetriable(err) {
			c.logger.Warn("model call failed, will retry",
				"attempt", attempt,
				"max_retries", c.maxRetries,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenAIClient) once(ctx context.Context, params openai.ChatCompletionNewParams) (*Response, error) {
	start := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &StatusError{StatusCode: apiErr.StatusCode, Body: apiErr.Message}
		}
		return nil, classifyTransport(ctx, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	choice := completion.Choices[0]
	msg := Message{
		Role:    RoleAssistant,
		Content: choice.Message.Content,
	}
	for _, tc := range choice.Message.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: ParseToolArguments(tc.Function.Arguments),
		})
	}

	return &Response{
		Model:        completion.Model,
		Message:      msg,
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
		Duration:     time.Since(start),
	}, nil
}

func (c *OpenAIClient) buildParams(req *Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  openai.FunctionParameters(t.Parameters),
			}))
		}
		params.Tools = tools
	}
	return params
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case RoleAssistant:
			if !m.HasToolCalls() {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				calls = append(calls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: tc.ArgumentsJSON(),
						},
					},
				})
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if m.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(m.Content),
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		}
	}
	return out
}

// Ping checks the server's /health route.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(ctx, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

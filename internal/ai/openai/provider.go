// Package openai talks to any backend that speaks the OpenAI chat completions
// protocol: OpenAI itself, Groq, Ollama, NVIDIA NIM, OpenRouter and friends.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/spigell/grant-matcher/internal/ai"
	"github.com/spigell/grant-matcher/internal/logger"
	"github.com/spigell/grant-matcher/internal/utils"
)

// Options configures a Provider.
type Options struct {
	// Name is the preset name reported in logs and errors.
	Name         string
	APIKey       string
	BaseURL      string
	Model        string
	MaxRetries   int
	Timeout      time.Duration
	HTTPClient   *http.Client
	Logger       *zap.Logger
	MaxLogLength int
}

// Provider is an ai.Provider backed by openai-go.
type Provider struct {
	client       sdk.Client
	name         string
	model        string
	logger       *zap.Logger
	maxLogLength int
}

var _ ai.Provider = (*Provider)(nil)

func New(opts Options) (*Provider, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai compatible provider requires an api key")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		return nil, errors.New("openai compatible provider requires a model")
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "openai"
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	return &Provider{
		client:       sdk.NewClient(reqOpts...),
		name:         name,
		model:        model,
		logger:       logger.WithCommonFields(opts.Logger, name, model),
		maxLogLength: opts.MaxLogLength,
	}, nil
}

func (p *Provider) Name() string  { return p.name }
func (p *Provider) Model() string { return p.model }

// Complete sends the conversation and returns the first choice's content.
// Options the backend rejects are dropped and the call is repeated.
func (p *Provider) Complete(ctx context.Context, req ai.Request) (string, error) {
	return ai.CompleteWithFallback(ctx, p.logger, req, p.complete)
}

func (p *Provider) complete(ctx context.Context, req ai.Request) (string, error) {
	params := sdk.ChatCompletionNewParams{
		Model:    req.ModelFor(p.model),
		Messages: convertMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.ResponseFormat == ai.FormatJSON {
		params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", p.classify(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: %w: no choices", p.name, ai.ErrEmptyResponse)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	p.logger.Debug("completion received",
		zap.Duration("took", time.Since(start)),
		zap.Int64("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int64("completion_tokens", resp.Usage.CompletionTokens),
		zap.String("finish_reason", resp.Choices[0].FinishReason),
		zap.String("response", utils.TruncateForLog(content, p.maxLogLength)),
	)

	if content == "" {
		return "", fmt.Errorf("%s: %w", p.name, ai.ErrEmptyResponse)
	}
	return content, nil
}

func (p *Provider) classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return ai.Classify(p.name, apiErr.StatusCode, err)
	}
	return ai.Classify(p.name, 0, err)
}

func convertMessages(messages []ai.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case ai.RoleSystem:
			out = append(out, sdk.SystemMessage(msg.Content))
		case ai.RoleAssistant:
			out = append(out, sdk.AssistantMessage(msg.Content))
		default:
			out = append(out, sdk.UserMessage(msg.Content))
		}
	}
	return out
}

func init() {
	ai.Register(ai.FamilyOpenAI, func(_ context.Context, s ai.Settings, log *zap.Logger) (ai.Provider, error) {
		p, err := New(Options{
			Name:         s.Preset.Name,
			APIKey:       s.APIKey,
			BaseURL:      s.BaseURL,
			Model:        s.Model,
			MaxRetries:   s.MaxRetries,
			Timeout:      s.RequestTimeout,
			Logger:       log,
			MaxLogLength: s.MaxLogLength,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

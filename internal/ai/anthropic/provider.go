// Package anthropic is the Messages API backend.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/spigell/grant-matcher/internal/ai"
	"github.com/spigell/grant-matcher/internal/logger"
	"github.com/spigell/grant-matcher/internal/utils"
)

// The Messages API requires max_tokens on every request.
const defaultMaxTokens = 4000

type Options struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxRetries   int
	Timeout      time.Duration
	HTTPClient   *http.Client
	Logger       *zap.Logger
	MaxLogLength int
}

// Provider is an ai.Provider for the native Anthropic Messages API.
type Provider struct {
	client       sdk.Client
	model        string
	logger       *zap.Logger
	maxLogLength int
}

var _ ai.Provider = (*Provider)(nil)

func New(opts Options) (*Provider, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		return nil, errors.New("anthropic model is required")
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
		model:        model,
		logger:       logger.WithCommonFields(opts.Logger, "anthropic", model),
		maxLogLength: opts.MaxLogLength,
	}, nil
}

func (p *Provider) Name() string  { return "anthropic" }
func (p *Provider) Model() string { return p.model }

// Complete sends the conversation with the system prompt lifted into the
// dedicated field. The JSON format hint has no native switch here and is
// carried by the prompt alone.
func (p *Provider) Complete(ctx context.Context, req ai.Request) (string, error) {
	return ai.CompleteWithFallback(ctx, p.logger, req, p.complete)
}

func (p *Provider) complete(ctx context.Context, req ai.Request) (string, error) {
	system, rest := ai.SplitSystem(req.Messages)

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.ModelFor(p.model)),
		MaxTokens: maxTokens,
		Messages:  convertMessages(rest),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	start := time.Now()
	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return "", ai.Classify(p.Name(), apiErr.StatusCode, err)
		}
		return "", ai.Classify(p.Name(), 0, err)
	}

	var builder strings.Builder
	for _, block := range resp.Content {
		if block.Type != "text" {
			continue
		}
		builder.WriteString(block.Text)
	}
	content := strings.TrimSpace(builder.String())

	p.logger.Debug("completion received",
		zap.Duration("took", time.Since(start)),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
		zap.String("stop_reason", string(resp.StopReason)),
		zap.String("response", utils.TruncateForLog(content, p.maxLogLength)),
	)

	if content == "" {
		return "", fmt.Errorf("%s: %w", p.Name(), ai.ErrEmptyResponse)
	}
	return content, nil
}

func convertMessages(messages []ai.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == ai.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(msg.Content)))
			continue
		}
		out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(msg.Content)))
	}
	return out
}

func init() {
	ai.Register(ai.FamilyAnthropic, func(_ context.Context, s ai.Settings, log *zap.Logger) (ai.Provider, error) {
		p, err := New(Options{
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

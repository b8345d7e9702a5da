// Package gemini is the native Google Gemini backend.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/grant-matcher/internal/ai"
	"github.com/spigell/grant-matcher/internal/logger"
	"github.com/spigell/grant-matcher/internal/utils"
)

const (
	defaultModel      = "gemini-2.5-flash"
	defaultMaxRetries = 3

	retryBaseDelay = 2 * time.Second
	retryMaxDelay  = 20 * time.Second
	// Quota errors asking to wait longer than this are returned immediately.
	maxQuotaDelay = 30 * time.Second
)

var (
	wait = utils.WaitFor

	retryAfterPattern = regexp.MustCompile(`(?i)retry (?:after|in) (\d+(?:\.\d+)?)\s*s`)
	retryDelayPattern = regexp.MustCompile(`retryDelay\W+(\d+(?:\.\d+)?)s`)
)

type chatSession interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type chatCreator interface {
	Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error)
}

type sdkChats struct {
	chats *genai.Chats
}

func (s sdkChats) Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error) {
	chat, err := s.chats.Create(ctx, model, config, history)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

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

// Generator is an ai.Provider backed by the Google GenAI SDK.
type Generator struct {
	chats        chatCreator
	model        string
	maxRetries   int
	timeout      time.Duration
	logger       *zap.Logger
	maxLogLength int
}

var _ ai.Provider = (*Generator)(nil)

// NewGenerator creates a new Generator configured for the Gemini API backend.
func NewGenerator(ctx context.Context, opts Options) (*Generator, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	return &Generator{
		chats:        sdkChats{chats: client.Chats},
		model:        model,
		maxRetries:   maxRetries,
		timeout:      opts.Timeout,
		logger:       logger.WithCommonFields(opts.Logger, "gemini", model),
		maxLogLength: opts.MaxLogLength,
	}, nil
}

func (g *Generator) Name() string { return "gemini" }

func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}

// Complete sends the conversation as a chat: earlier turns become history
// and the last turn is the message sent. Temporary failures are retried with
// backoff.
func (g *Generator) Complete(ctx context.Context, req ai.Request) (string, error) {
	if g == nil || g.chats == nil {
		return "", errors.New("gemini generator is not initialized")
	}
	return ai.CompleteWithFallback(ctx, g.logger, req, g.complete)
}

func (g *Generator) complete(ctx context.Context, req ai.Request) (string, error) {
	system, rest := ai.SplitSystem(req.Messages)
	if len(rest) == 0 {
		return "", errors.New("gemini request needs at least one user message")
	}

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.ResponseFormat == ai.FormatJSON {
		config.ResponseMIMEType = "application/json"
	}

	history := toContents(rest[:len(rest)-1])
	message := rest[len(rest)-1].Content
	model := req.ModelFor(g.model)

	attempts := g.maxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		output, err := g.send(ctx, model, config, history, message)
		if err == nil {
			return output, nil
		}
		lastErr = err

		delay, retry := retryDelay(err, attempt)
		if !retry || attempt == attempts-1 {
			break
		}

		g.logger.Warn("gemini request failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if werr := wait(ctx, delay); werr != nil {
			break
		}
	}

	return "", classify(lastErr)
}

func (g *Generator) send(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content, message string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	chat, err := g.chats.Create(ctx, model, config, history)
	if err != nil {
		return "", fmt.Errorf("create chat: %w", err)
	}

	resp, err := chat.SendMessage(ctx, genai.Part{Text: message})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}

	output := extractText(resp)
	g.logger.Debug("gemini response received",
		zap.Int("response_length", len(output)),
		zap.String("response_preview", utils.TruncateForLog(output, g.maxLogLength)),
	)

	if output == "" {
		return "", fmt.Errorf("gemini: %w", ai.ErrEmptyResponse)
	}
	return output, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	return strings.TrimSpace(builder.String())
}

func toContents(messages []ai.Message) []*genai.Content {
	if len(messages) == 0 {
		return nil
	}
	out := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		role := genai.RoleUser
		if msg.Role == ai.RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, &genai.Content{Role: role, Parts: []*genai.Part{{Text: msg.Content}}})
	}
	return out
}

func apiError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}
	return genai.APIError{}, false
}

func classify(err error) error {
	if err == nil || errors.Is(err, ai.ErrEmptyResponse) {
		return err
	}
	if apiErr, ok := apiError(err); ok {
		return ai.Classify("gemini", apiErr.Code, err)
	}
	return ai.Classify("gemini", 0, err)
}

// retryDelay decides whether err is temporary and how long to wait first.
func retryDelay(err error, attempt int) (time.Duration, bool) {
	if errors.Is(err, context.Canceled) {
		return 0, false
	}

	apiErr, ok := apiError(err)
	if !ok {
		if errors.Is(err, ai.ErrEmptyResponse) {
			return 0, false
		}
		return utils.Backoff(retryBaseDelay, retryMaxDelay, attempt), true
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		delay := quotaDelay(apiErr)
		if delay > maxQuotaDelay {
			return 0, false
		}
		if delay <= 0 {
			delay = utils.Backoff(retryBaseDelay, retryMaxDelay, attempt)
		}
		return delay, true
	case apiErr.Code >= http.StatusInternalServerError:
		return utils.Backoff(retryBaseDelay, retryMaxDelay, attempt), true
	default:
		return 0, false
	}
}

func quotaDelay(apiErr genai.APIError) time.Duration {
	text := apiErr.Message + " " + fmt.Sprint(apiErr.Details)
	for _, pattern := range []*regexp.Regexp{retryAfterPattern, retryDelayPattern} {
		if m := pattern.FindStringSubmatch(text); len(m) == 2 {
			seconds, err := strconv.ParseFloat(m[1], 64)
			if err == nil {
				return time.Duration(seconds * float64(time.Second))
			}
		}
	}
	return 0
}

func init() {
	ai.Register(ai.FamilyGemini, func(ctx context.Context, s ai.Settings, log *zap.Logger) (ai.Provider, error) {
		g, err := NewGenerator(ctx, Options{
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
		return g, nil
	})
}

package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/spigell/grant-matcher/internal/secrets"
)

// Settings is the resolved configuration handed to a backend factory.
type Settings struct {
	Config
	Preset Preset
	APIKey string
}

// Factory builds a Provider for one protocol family.
type Factory func(ctx context.Context, settings Settings, logger *zap.Logger) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[Family]Factory)
)

// Register makes a protocol family available to New. Backend packages call
// it from init.
func Register(family Family, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if factory == nil {
		panic("ai: Register factory is nil")
	}
	registry[family] = factory
}

// New resolves cfg against the provider presets, loads the API key and
// builds the matching backend.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Provider, error) {
	cfg, preset, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  preset.Name + " api key",
		File:  cfg.APIKeyFile,
		Value: cfg.APIKey,
		Env:   []string{preset.KeyEnv, SharedKeyEnv},
	})
	if err != nil {
		if !preset.KeyOptional || !errors.Is(err, secrets.ErrNotConfigured) {
			return nil, &Error{Provider: preset.Name, Kind: ErrAuthentication, Err: err}
		}
		apiKey = preset.Name
	}

	registryMu.RLock()
	factory, ok := registry[preset.Family]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider family %q is not registered", preset.Family)
	}

	return factory(ctx, Settings{Config: cfg, Preset: preset, APIKey: apiKey}, logger)
}

// Ping sends a tiny request to check credentials and model availability.
// A reply with no text still proves the backend is reachable.
func Ping(ctx context.Context, p Provider) error {
	if p == nil {
		return ErrNoProvider
	}
	_, err := p.Complete(ctx, Request{
		Messages:  Chat("", "Reply with the single word OK."),
		MaxTokens: 5,
	})
	if errors.Is(err, ErrEmptyResponse) {
		return nil
	}
	return err
}

package ai

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Family selects the wire protocol of a backend.
type Family string

const (
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
	FamilyGemini    Family = "gemini"
)

// Preset carries the defaults of a known provider.
type Preset struct {
	Name    string
	Family  Family
	BaseURL string
	Model   string
	// KeyEnv is the provider-specific API key variable.
	KeyEnv string
	// KeyOptional providers accept any non-empty key.
	KeyOptional bool
}

var presets = map[string]Preset{
	"groq": {
		Name: "groq", Family: FamilyOpenAI,
		BaseURL: "https://api.groq.com/openai/v1", Model: "llama-3.3-70b-versatile",
		KeyEnv: "GROQ_API_KEY",
	},
	"openai": {
		Name: "openai", Family: FamilyOpenAI,
		BaseURL: "https://api.openai.com/v1", Model: "gpt-4o",
		KeyEnv: "OPENAI_API_KEY",
	},
	"anthropic": {
		Name: "anthropic", Family: FamilyAnthropic,
		Model:  "claude-3-5-sonnet-latest",
		KeyEnv: "ANTHROPIC_API_KEY",
	},
	"gemini": {
		Name: "gemini", Family: FamilyGemini,
		Model:  "gemini-2.5-flash",
		KeyEnv: "GEMINI_API_KEY",
	},
	"ollama": {
		Name: "ollama", Family: FamilyOpenAI,
		BaseURL: "http://localhost:11434/v1", Model: "llama3.1",
		KeyEnv: "OLLAMA_API_KEY", KeyOptional: true,
	},
	"nvidia": {
		Name: "nvidia", Family: FamilyOpenAI,
		BaseURL: "https://integrate.api.nvidia.com/v1", Model: "meta/llama-3.1-70b-instruct",
		KeyEnv: "NVIDIA_API_KEY",
	},
	"openrouter": {
		Name: "openrouter", Family: FamilyOpenAI,
		BaseURL: "https://openrouter.ai/api/v1", Model: "meta-llama/llama-3.1-70b-instruct:free",
		KeyEnv: "OPENROUTER_API_KEY",
	},
	"together": {
		Name: "together", Family: FamilyOpenAI,
		BaseURL: "https://api.together.xyz/v1", Model: "meta-llama/Llama-3.3-70B-Instruct-Turbo",
		KeyEnv: "TOGETHER_API_KEY",
	},
	"mistral": {
		Name: "mistral", Family: FamilyOpenAI,
		BaseURL: "https://api.mistral.ai/v1", Model: "mistral-large-latest",
		KeyEnv: "MISTRAL_API_KEY",
	},
}

// SharedKeyEnv is consulted when the provider-specific variable is empty.
const SharedKeyEnv = "LLM_API_KEY"

// LookupPreset returns the preset registered under name.
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Presets lists all known providers ordered by name.
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for _, p := range presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Config is the "ai" section of the configuration file.
type Config struct {
	Provider       string        `mapstructure:"provider" validate:"required,provider"`
	APIKey         string        `mapstructure:"api-key"`
	APIKeyFile     string        `mapstructure:"api-key-file"`
	BaseURL        string        `mapstructure:"base-url" validate:"omitempty,url"`
	Model          string        `mapstructure:"model"`
	MaxRetries     int           `mapstructure:"max-retries" validate:"gte=0,lte=10"`
	RequestTimeout time.Duration `mapstructure:"request-timeout" validate:"gte=0"`
	MaxLogLength   int           `mapstructure:"max-log-length" validate:"gte=0"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("provider", func(fl validator.FieldLevel) bool {
		_, ok := LookupPreset(fl.Field().String())
		return ok
	})
	return v
}

// Validate checks the section. An empty provider yields ErrNoProvider.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Provider) == "" {
		return ErrNoProvider
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				if fe.Tag() == "provider" {
					msgs = append(msgs, fmt.Sprintf("unknown provider %q (known: %s)", c.Provider, knownNames()))
					continue
				}
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid ai config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid ai config: %w", err)
	}
	return nil
}

// Resolve validates the section and fills base URL and model from the preset.
func (c Config) Resolve() (Config, Preset, error) {
	if err := c.Validate(); err != nil {
		return c, Preset{}, err
	}

	preset, _ := LookupPreset(c.Provider)
	c.Provider = preset.Name
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = preset.BaseURL
	}
	if strings.TrimSpace(c.Model) == "" {
		c.Model = preset.Model
	}
	return c, preset, nil
}

func knownNames() string {
	names := make([]string, 0, len(presets))
	for _, p := range Presets() {
		names = append(names, p.Name)
	}
	return strings.Join(names, ", ")
}

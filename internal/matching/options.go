package matching

import "time"

// Weights are the keyword pre-filter score contributions.
type Weights struct {
	WordOverlap       int `mapstructure:"word-overlap"`
	FocusArea         int `mapstructure:"focus-area"`
	Tag               int `mapstructure:"tag"`
	AnyFocus          int `mapstructure:"any-focus"`
	GlobalEligibility int `mapstructure:"global-eligibility"`
}

// Options tune a matching run. Zero values fall back to the defaults.
type Options struct {
	MaxCandidates int           `mapstructure:"max-candidates"`
	BatchSize     int           `mapstructure:"batch-size"`
	Concurrency   int           `mapstructure:"concurrency"`
	BatchTimeout  time.Duration `mapstructure:"batch-timeout"`
	Weights       Weights       `mapstructure:"weights"`
}

const (
	DefaultMaxCandidates = 25
	DefaultBatchSize     = 10
	DefaultConcurrency   = 1
	DefaultBatchTimeout  = 90 * time.Second
)

// DefaultWeights mirror the long-standing heuristic.
func DefaultWeights() Weights {
	return Weights{
		WordOverlap:       2,
		FocusArea:         5,
		Tag:               3,
		AnyFocus:          8,
		GlobalEligibility: 4,
	}
}

func DefaultOptions() Options {
	return Options{
		MaxCandidates: DefaultMaxCandidates,
		BatchSize:     DefaultBatchSize,
		Concurrency:   DefaultConcurrency,
		BatchTimeout:  DefaultBatchTimeout,
		Weights:       DefaultWeights(),
	}
}

// withDefaults fills unset fields. Weights are replaced only when all of
// them are zero, so a single weight can be switched off explicitly.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = def.MaxCandidates
	}
	if o.BatchSize <= 0 {
		o.BatchSize = def.BatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = def.Concurrency
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = def.BatchTimeout
	}
	if o.Weights == (Weights{}) {
		o.Weights = def.Weights
	}
	return o
}

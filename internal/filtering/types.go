package filtering

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/grant-matcher/internal/funding"
	"github.com/spigell/grant-matcher/internal/matching"
)

type typesFilter struct {
	types map[string]struct{}
	names []string
}

// NewTypes creates a filter that keeps only matches of the configured
// funding types. An empty list keeps everything.
func NewTypes() Filter {
	return &typesFilter{}
}

func (f *typesFilter) Name() string { return "types" }

func (f *typesFilter) Disable(string) {}

func (f *typesFilter) IsEnabled() bool { return true }

func (f *typesFilter) Validate(cfg *Config) error {
	f.types = map[string]struct{}{}
	f.names = nil
	if cfg == nil {
		return nil
	}

	for _, t := range cfg.Types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if !funding.IsKnownType(t) {
			return fmt.Errorf("unknown funding type %q (known: %s)", t, strings.Join(funding.Types, ", "))
		}
		if _, dup := f.types[t]; !dup {
			f.types[t] = struct{}{}
			f.names = append(f.names, t)
		}
	}
	return nil
}

func (f *typesFilter) Apply(_ context.Context, deps Deps, m *matching.Matches) (*matching.Matches, Step, error) {
	initial := m.Len()
	if len(f.types) == 0 {
		return m, Step{Initial: initial, Dropped: 0, Left: m.Len()}, nil
	}

	dropped := m.Retain(func(match matching.Match) bool {
		if match.Funding == nil {
			return false
		}
		_, ok := f.types[strings.ToLower(match.Funding.Type)]
		return ok
	})
	logDropped(deps, "excluding matches by funding type", dropped, m.Len(), zap.Strings("types", f.names))

	return m, Step{Initial: initial, Dropped: len(dropped), Left: m.Len()}, nil
}

func (f *typesFilter) Status() Status {
	details := map[string]string{}
	if len(f.names) > 0 {
		details["types"] = strings.Join(f.names, ",")
	}
	return Status{Name: f.Name(), Enabled: true, Details: details}
}

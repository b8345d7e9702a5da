package filtering

import (
	"context"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/grant-matcher/internal/matching"
)

const forceFlagSetMsg = "force flag is set"

// IncludeExcludedFlag turns off the id based exclusion steps.
const IncludeExcludedFlag = "include-excluded"

type excludeIDsFilter struct {
	ignore bool
	ids    []string
}

// NewExcludeIDs creates a filter that removes matches whose funding ids are
// listed in the configuration.
func NewExcludeIDs() Filter {
	return &excludeIDsFilter{}
}

// IgnoreExclusions reports whether the command asked to keep excluded
// matches.
func IgnoreExclusions(cmd *cobra.Command) bool {
	if cmd == nil {
		return false
	}
	flag := cmd.Flag(IncludeExcludedFlag)
	return flag != nil && strings.EqualFold(flag.Value.String(), "true")
}

func (f *excludeIDsFilter) Name() string { return "exclude_ids" }

func (f *excludeIDsFilter) Disable(string) { f.ignore = true }

func (f *excludeIDsFilter) IsEnabled() bool { return true }

func (f *excludeIDsFilter) Validate(cfg *Config) error {
	f.ids = nil
	if cfg == nil {
		return nil
	}
	for _, id := range cfg.ExcludeIDs {
		if id = strings.TrimSpace(id); id != "" {
			f.ids = append(f.ids, id)
		}
	}
	return nil
}

func (f *excludeIDsFilter) Apply(_ context.Context, deps Deps, m *matching.Matches) (*matching.Matches, Step, error) {
	initial := m.Len()
	if f.ignore {
		if deps.Logger != nil {
			deps.Logger.Info("keeping excluded funding ids", zap.String("reason", forceFlagSetMsg))
		}
		return m, Step{Initial: initial, Dropped: 0, Left: m.Len()}, nil
	}

	dropped := m.Exclude(f.ids)
	logDropped(deps, "excluding matches by configured ids", dropped, m.Len())

	return m, Step{Initial: initial, Dropped: len(dropped), Left: m.Len()}, nil
}

func (f *excludeIDsFilter) Status() Status {
	details := map[string]string{
		"exclude_ids": strconv.FormatBool(!f.ignore),
	}
	if len(f.ids) > 0 {
		details["ids"] = strings.Join(f.ids, ",")
	}
	reason := ""
	if f.ignore {
		reason = "skip requested via flag"
	}
	return Status{Name: f.Name(), Enabled: true, Reason: reason, Details: details}
}

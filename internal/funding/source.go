// Package funding describes funding opportunities (grants, sponsorships,
// accelerators, prizes, bounties) and loads them from catalog files.
package funding

import (
	"strconv"
	"strings"
)

const (
	TypeGrant       = "grant"
	TypeSponsorship = "sponsorship"
	TypeAccelerator = "accelerator"
	TypePrize       = "prize"
	TypeBounty      = "bounty"
)

// Types lists the known funding types.
var Types = []string{TypeGrant, TypeSponsorship, TypeAccelerator, TypePrize, TypeBounty}

func IsKnownType(t string) bool {
	t = strings.ToLower(strings.TrimSpace(t))
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// FocusAny is the focus area that marks a source open to any project.
const FocusAny = "any"

// SyntheticIDPrefix prefixes ids assigned to records that arrive without one.
const SyntheticIDPrefix = "raw_"

type Eligibility struct {
	Location string         `mapstructure:"location" json:"location,omitempty"`
	Type     string         `mapstructure:"type" json:"type,omitempty"`
	Extra    map[string]any `mapstructure:",remain" json:"extra,omitempty"`
}

// Source is a single funding opportunity. Amounts are USD; zero means
// unspecified.
type Source struct {
	ID          string      `mapstructure:"id" json:"id"`
	Name        string      `mapstructure:"name" json:"name"`
	Type        string      `mapstructure:"type" json:"type"`
	Category    string      `mapstructure:"category" json:"category,omitempty"`
	Description string      `mapstructure:"description" json:"description,omitempty"`
	URL         string      `mapstructure:"url" json:"url,omitempty"`
	Tags        []string    `mapstructure:"tags" json:"tags,omitempty"`
	FocusAreas  []string    `mapstructure:"focus_areas" json:"focus_areas,omitempty"`
	Eligibility Eligibility `mapstructure:"eligibility" json:"eligibility"`
	MinAmount   int64       `mapstructure:"min_amount" json:"min_amount,omitempty"`
	MaxAmount   int64       `mapstructure:"max_amount" json:"max_amount,omitempty"`
	Recurring   bool        `mapstructure:"is_recurring" json:"is_recurring,omitempty"`
	Deadline    string      `mapstructure:"deadline" json:"deadline,omitempty"`
}

// AcceptsAny reports whether one of the focus areas is the "any" sentinel.
func (s Source) AcceptsAny() bool {
	for _, area := range s.FocusAreas {
		if strings.EqualFold(strings.TrimSpace(area), FocusAny) {
			return true
		}
	}
	return false
}

// IsGlobal reports whether the eligibility location mentions "global".
func (s Source) IsGlobal() bool {
	return strings.Contains(strings.ToLower(s.Eligibility.Location), "global")
}

// Normalize returns a trimmed copy of sources in the same order. Records
// without an id get the synthetic id raw_<index>, so every entry is
// addressable by the scorer. A synthetic id never reuses an id already
// present in the catalog. Input slices are not modified.
func Normalize(sources []Source) []Source {
	taken := make(map[string]bool, len(sources))
	for _, src := range sources {
		if id := strings.TrimSpace(src.ID); id != "" {
			taken[id] = true
		}
	}

	out := make([]Source, len(sources))
	for i, src := range sources {
		src.ID = strings.TrimSpace(src.ID)
		if src.ID == "" {
			src.ID = syntheticID(i, taken)
			taken[src.ID] = true
		}
		src.Name = strings.TrimSpace(src.Name)
		src.Type = strings.ToLower(strings.TrimSpace(src.Type))
		src.Category = strings.TrimSpace(src.Category)
		src.Tags = cleanList(src.Tags)
		src.FocusAreas = cleanList(src.FocusAreas)
		if len(src.Eligibility.Extra) > 0 {
			extra := make(map[string]any, len(src.Eligibility.Extra))
			for k, v := range src.Eligibility.Extra {
				extra[k] = v
			}
			src.Eligibility.Extra = extra
		}
		out[i] = src
	}
	return out
}

func syntheticID(i int, taken map[string]bool) string {
	id := SyntheticIDPrefix + strconv.Itoa(i)
	for n := 1; taken[id]; n++ {
		id = SyntheticIDPrefix + strconv.Itoa(i) + "_" + strconv.Itoa(n)
	}
	return id
}

// Index maps ids to positions. The first occurrence of a duplicated id wins.
func Index(sources []Source) map[string]int {
	idx := make(map[string]int, len(sources))
	for i, src := range sources {
		if _, ok := idx[src.ID]; !ok {
			idx[src.ID] = i
		}
	}
	return idx
}

func cleanList(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

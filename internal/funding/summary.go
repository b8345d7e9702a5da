package funding

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/spigell/grant-matcher/internal/utils"
)

// AmountRange renders the amount bounds, e.g. "$5,000 – $50,000",
// "up to $10,000", "from $1,000" or "variable".
func (s Source) AmountRange() string {
	switch {
	case s.MinAmount > 0 && s.MaxAmount > 0:
		return fmt.Sprintf("$%s – $%s", humanize.Comma(s.MinAmount), humanize.Comma(s.MaxAmount))
	case s.MaxAmount > 0:
		return "up to $" + humanize.Comma(s.MaxAmount)
	case s.MinAmount > 0:
		return "from $" + humanize.Comma(s.MinAmount)
	default:
		return "variable"
	}
}

// SummaryLine is the single-line description handed to the model:
//
//	ID:<id> | name (category) | type | amount | Focus: ... | Eligibility: location, type | Tags: ...
func (s Source) SummaryLine() string {
	return fmt.Sprintf("ID:%s | %s (%s) | %s | %s | Focus: %s | Eligibility: %s, %s | Tags: %s",
		utils.OrDefault(s.ID, "N/A"),
		utils.OrDefault(s.Name, "Unknown"),
		utils.OrDefault(s.Category, "General"),
		utils.OrDefault(s.Type, "grant"),
		s.AmountRange(),
		strings.Join(s.FocusAreas, ", "),
		utils.OrDefault(s.Eligibility.Location, "global"),
		utils.OrDefault(s.Eligibility.Type, "any"),
		strings.Join(s.Tags, ", "),
	)
}

// Brief is the one-line description used by the roadmap prompt.
func (s Source) Brief() string {
	return fmt.Sprintf("- %s (%s): %s Focus: %s. Amount: %s",
		utils.OrDefault(s.Name, "Unknown"),
		utils.OrDefault(s.Type, "grant"),
		utils.Excerpt(strings.TrimSpace(s.Description), 150),
		utils.JoinOr(s.FocusAreas, "any"),
		s.AmountRange(),
	)
}

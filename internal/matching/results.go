package matching

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spigell/grant-matcher/internal/utils"
)

// Matches is an ordered match list that filters and commands narrow down.
type Matches struct {
	Items []Match `json:"matches"`
}

func NewMatches(items []Match) *Matches {
	return &Matches{Items: items}
}

func (m *Matches) Len() int {
	return len(m.Items)
}

func (m *Matches) IDs() []string {
	ids := make([]string, 0, len(m.Items))
	for _, match := range m.Items {
		ids = append(ids, match.FundingID)
	}
	return ids
}

func (m *Matches) FindByID(id string) *Match {
	for i := range m.Items {
		if m.Items[i].FundingID == id {
			return &m.Items[i]
		}
	}
	return nil
}

// Retain keeps the matches accepted by keep and returns the ids of the
// removed ones. Order is preserved.
func (m *Matches) Retain(keep func(Match) bool) []string {
	var removed []string
	kept := m.Items[:0]
	for _, match := range m.Items {
		if keep(match) {
			kept = append(kept, match)
			continue
		}
		removed = append(removed, match.FundingID)
	}
	m.Items = kept
	return removed
}

// Exclude removes matches whose funding id is in ids.
func (m *Matches) Exclude(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[strings.TrimSpace(id)] = struct{}{}
	}
	return m.Retain(func(match Match) bool {
		_, found := set[match.FundingID]
		return !found
	})
}

// Truncate keeps the first n matches.
func (m *Matches) Truncate(n int) []string {
	if n < 0 || len(m.Items) <= n {
		return nil
	}
	removed := make([]string, 0, len(m.Items)-n)
	for _, match := range m.Items[n:] {
		removed = append(removed, match.FundingID)
	}
	m.Items = m.Items[:n]
	return removed
}

// ReportByType groups the matches by funding type for the interactive
// report.
func (m *Matches) ReportByType() map[string][]map[string]string {
	report := make(map[string][]map[string]string)
	for _, match := range m.Items {
		key := "unknown"
		entry := map[string]string{
			"id":        match.FundingID,
			"score":     strconv.Itoa(match.Score),
			"reasoning": match.Reasoning,
			"strengths": strings.Join(match.Strengths, "; "),
			"gaps":      strings.Join(match.Gaps, "; "),
			"tips":      match.Tips,
		}
		if src := match.Funding; src != nil {
			key = utils.OrDefault(src.Type, key)
			entry["name"] = src.Name
			entry["url"] = src.URL
			entry["amount"] = src.AmountRange()
		}
		report[key] = append(report[key], entry)
	}
	return report
}

func (m *Matches) DumpToTmpFile() (string, error) {
	file, err := os.CreateTemp("", "matches_*.json")
	if err != nil {
		return "", err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return "", fmt.Errorf("encode matches: %w", err)
	}
	return file.Name(), nil
}

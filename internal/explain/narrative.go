package explain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Risk tiers used in narratives.
const (
	TierHigh     = "HIGH"
	TierMedium   = "MEDIUM"
	TierElevated = "ELEVATED"
)

const narrativeDrivers = 4

// Tier maps a risk score to its narrative tier.
func Tier(score float64) string {
	switch {
	case score > 0.75:
		return TierHigh
	case score > 0.50:
		return TierMedium
	default:
		return TierElevated
	}
}

// driver is one attribution entry ranked for the narrative.
type driver struct {
	name  string
	value float64
}

// topDrivers ranks attributions by absolute value, breaking ties by name
// so the narrative is reproducible byte for byte.
func topDrivers(attr map[string]float64, k int) []driver {
	drivers := make([]driver, 0, len(attr))
	for name, v := range attr {
		drivers = append(drivers, driver{name: name, value: v})
	}
	sort.Slice(drivers, func(a, b int) bool {
		av, bv := abs(drivers[a].value), abs(drivers[b].value)
		if av != bv {
			return av > bv
		}
		return drivers[a].name < drivers[b].name
	})
	if len(drivers) > k {
		drivers = drivers[:k]
	}
	return drivers
}

// Narrative renders a deterministic case summary for one scored entity.
// The same inputs always produce the same text.
func Narrative(e *domain.Entity, score float64, attr map[string]float64) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Entity %s, a %s registered in %s, received a model risk score of %.2f (%s tier).",
		e.ID, e.Category, e.Country, score, Tier(score))

	drivers := topDrivers(attr, narrativeDrivers)
	if len(drivers) > 0 {
		parts := make([]string, len(drivers))
		for i, d := range drivers {
			direction := "raising"
			if d.value < 0 {
				direction = "lowering"
			}
			parts[i] = fmt.Sprintf("%s (%+.3f, %s risk)", readable(d.name), d.value, direction)
		}
		fmt.Fprintf(&b, " The score is driven primarily by %s.", joinAnd(parts))
	}

	if e.ClusterID != "" {
		fmt.Fprintf(&b, " The entity is a member of network cluster %s, whose transaction pattern is consistent with a %s typology.",
			e.ClusterID, domain.TypologyFromClusterID(e.ClusterID))
	}

	b.WriteString(" Recommended action: review the entity's recent transactions and counterparties and escalate per internal procedure.")
	return b.String()
}

// readable turns a feature identifier into prose.
func readable(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

func joinAnd(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

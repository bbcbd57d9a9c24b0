// Package generator produces synthetic transaction networks with embedded
// laundering typologies: smurfing, layering and circular flows.
//
// Every random draw goes through the generator's own *rand.Rand; nothing
// touches ambient global state, so generation is independently seedable and
// safe to repeat.
package generator

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// baseDate anchors all generated timestamps.
var baseDate = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

// Dataset size parameters per run mode.
type sizing struct {
	entities         int
	backgroundTxs    int
	smurfingClusters int
	layeringChains   int
	circularClusters int
}

var sizings = map[string]sizing{
	domain.ModeDemo: {entities: 1000, backgroundTxs: 4000, smurfingClusters: 6, layeringChains: 10, circularClusters: 5},
	domain.ModeFull: {entities: 15000, backgroundTxs: 120000, smurfingClusters: 90, layeringChains: 140, circularClusters: 70},
}

// Generator builds synthetic AML datasets, deterministic for a fixed seed.
type Generator struct {
	seed int64
	rng  *rand.Rand
}

// New creates a generator with the given seed.
func New(seed int64) *Generator {
	return &Generator{seed: seed}
}

// Generate produces entities and transactions for the given mode
// ("demo" or "full"). Repeated calls with the same seed and mode yield
// identical datasets.
func (g *Generator) Generate(mode string) ([]*domain.Entity, []*domain.Transaction, error) {
	sz, ok := sizings[mode]
	if !ok {
		return nil, nil, fmt.Errorf("unknown generation mode: %q", mode)
	}

	// Fresh RNG per invocation so Generate is a pure function of (seed, mode).
	g.rng = rand.New(rand.NewSource(g.seed))

	entities := g.createEntities(sz.entities)
	entityByID := make(map[string]*domain.Entity, len(entities))
	var normalIDs, suspIDs []string
	for _, e := range entities {
		entityByID[e.ID] = e
		if e.Suspicious {
			suspIDs = append(suspIDs, e.ID)
		} else {
			normalIDs = append(normalIDs, e.ID)
		}
	}

	transactions := make([]*domain.Transaction, 0, sz.backgroundTxs)
	txOffset := 0

	// Background traffic among non-suspicious entities.
	for i := 0; i < sz.backgroundTxs; i++ {
		pair := g.sample(normalIDs, 2)
		transactions = append(transactions, g.makeTx(pair[0], pair[1], false, txOffset+i, txParams{}))
	}
	txOffset += sz.backgroundTxs

	label := func(clusterID string, memberIDs []string) {
		for _, id := range memberIDs {
			if e, ok := entityByID[id]; ok {
				e.ClusterID = clusterID
				e.Suspicious = true
			}
		}
	}

	for k := 0; k < sz.smurfingClusters; k++ {
		txs, members := g.smurfing(suspIDs, normalIDs, txOffset)
		transactions = append(transactions, txs...)
		txOffset += len(txs)
		label(fmt.Sprintf("CLU_SMURF_%04d", k), members)
	}

	for k := 0; k < sz.layeringChains; k++ {
		txs, members := g.layering(suspIDs, normalIDs, txOffset)
		transactions = append(transactions, txs...)
		txOffset += len(txs)
		label(fmt.Sprintf("CLU_LAYER_%04d", k), members)
	}

	// Circular clusters stay disjoint so each label keeps its full cycle;
	// a shared member would be relabeled by the later cluster.
	usedInCycle := make(map[string]bool)
	for k := 0; k < sz.circularClusters; k++ {
		txs, members := g.circular(suspIDs, normalIDs, usedInCycle, txOffset)
		transactions = append(transactions, txs...)
		txOffset += len(txs)
		label(fmt.Sprintf("CLU_CIRC_%04d", k), members)
	}

	return entities, transactions, nil
}

// createEntities builds n entities with a ~5% suspicious rate (minimum 10).
// Suspicious entities are typed mule/shell and domiciled in high-risk
// jurisdictions.
func (g *Generator) createEntities(n int) []*domain.Entity {
	nSuspicious := n * 5 / 100
	if nSuspicious < 10 {
		nSuspicious = 10
	}

	entities := make([]*domain.Entity, 0, n)
	for i := 0; i < n; i++ {
		suspicious := i < nSuspicious
		var category domain.EntityCategory
		var country string
		if suspicious {
			category = choice(g.rng, domain.SuspiciousCategories)
			country = choice(g.rng, domain.HighRiskCountries)
		} else {
			category = choice(g.rng, domain.NormalCategories)
			country = choice(g.rng, domain.NormalCountries)
		}
		entities = append(entities, &domain.Entity{
			ID:         fmt.Sprintf("E%07d", i),
			Category:   category,
			Country:    country,
			Suspicious: suspicious,
		})
	}
	return entities
}

// txParams overrides makeTx's drawn attributes. Zero values mean "draw".
type txParams struct {
	amount     float64
	channel    domain.Channel
	country    string
	daysSpread int
}

// makeTx builds one transaction with realistic attributes and derived risk
// flags. Flags are inputs to the feature matrix, never labels.
func (g *Generator) makeTx(src, dst string, suspicious bool, idx int, p txParams) *domain.Transaction {
	amount := p.amount
	if amount <= 0 {
		// Log-normal background amount distribution.
		amount = roundCents(math.Exp(g.rng.NormFloat64()*1.8 + 7.5))
	}
	channel := p.channel
	if channel == "" {
		if suspicious {
			channel = choice(g.rng, domain.HighRiskChannels)
		} else {
			channel = choice(g.rng, domain.Channels)
		}
	}
	country := p.country
	if country == "" {
		if suspicious {
			country = choice(g.rng, domain.HighRiskCountries)
		} else {
			country = choice(g.rng, domain.NormalCountries)
		}
	}
	daysSpread := p.daysSpread
	if daysSpread == 0 {
		daysSpread = 365
	}

	ts := baseDate.Add(
		time.Duration(g.rng.Intn(daysSpread+1))*24*time.Hour +
			time.Duration(g.rng.Intn(24))*time.Hour +
			time.Duration(g.rng.Intn(60))*time.Minute,
	)

	var flags []string
	if amount >= 9000 && amount < 10000 {
		flags = append(flags, domain.FlagStructuringThreshold)
	}
	if domain.IsHighRiskChannel(channel) {
		flags = append(flags, domain.FlagHighRiskChannel)
	}
	if domain.IsHighRiskCountry(country) {
		flags = append(flags, domain.FlagHighRiskCountry)
	}
	if amount > 100000 {
		flags = append(flags, domain.FlagLargeValue)
	}

	return &domain.Transaction{
		ID:         fmt.Sprintf("T%010d", idx),
		SourceID:   src,
		DestID:     dst,
		Amount:     amount,
		Timestamp:  ts,
		Channel:    channel,
		Country:    country,
		RiskFlags:  flags,
		Suspicious: suspicious,
	}
}

// smurfing: 5-14 smurfs each send a sub-threshold cash amount to a central
// mule over a 7-day window; the mule forwards 93% of the accumulated total
// to a beneficiary through a high-risk channel and jurisdiction.
func (g *Generator) smurfing(suspIDs, normalIDs []string, txOffset int) ([]*domain.Transaction, []string) {
	nSmurfs := 5 + g.rng.Intn(10)
	smurfs := g.sample(normalIDs, min(nSmurfs, len(normalIDs)))
	mule := g.pickSuspicious(suspIDs, normalIDs)
	beneficiary := g.pickSuspicious(suspIDs, normalIDs)

	txs := make([]*domain.Transaction, 0, len(smurfs)+1)
	total := 0.0

	for i, smurf := range smurfs {
		// Just below the $10K reporting threshold.
		amount := roundCents(2500 + g.rng.Float64()*(9490-2500))
		total += amount
		txs = append(txs, g.makeTx(smurf, mule, true, txOffset+i, txParams{
			amount:     amount,
			channel:    domain.ChannelCash,
			country:    choice(g.rng, domain.NormalCountries),
			daysSpread: 7,
		}))
	}

	// Consolidation with a slight fee taken.
	txs = append(txs, g.makeTx(mule, beneficiary, true, txOffset+len(smurfs), txParams{
		amount:  roundCents(total * 0.93),
		channel: choice(g.rng, []domain.Channel{domain.ChannelWire, domain.ChannelCrypto, domain.ChannelSwift}),
		country: choice(g.rng, domain.HighRiskCountries),
	}))

	members := append(append([]string{}, smurfs...), mule, beneficiary)
	return txs, members
}

// layering: a 4-9 hop chain propagates a principal with 3-12% shrinkage per
// hop, routed through high-risk channels and jurisdictions over 90 days.
func (g *Generator) layering(suspIDs, normalIDs []string, txOffset int) ([]*domain.Transaction, []string) {
	chainLen := 4 + g.rng.Intn(6)
	chain := make([]string, 0, chainLen)
	for i := 0; i < chainLen; i++ {
		if g.rng.Float64() < 0.55 && len(suspIDs) > 0 {
			chain = append(chain, choice(g.rng, suspIDs))
		} else {
			chain = append(chain, choice(g.rng, normalIDs))
		}
	}

	amount := roundCents(50000 + g.rng.Float64()*(800000-50000))
	txs := make([]*domain.Transaction, 0, chainLen-1)

	for i := 0; i < len(chain)-1; i++ {
		hopAmount := roundCents(amount * (0.88 + g.rng.Float64()*0.09))
		txs = append(txs, g.makeTx(chain[i], chain[i+1], true, txOffset+i, txParams{
			amount:     hopAmount,
			channel:    choice(g.rng, []domain.Channel{domain.ChannelWire, domain.ChannelSwift, domain.ChannelCrypto}),
			country:    choice(g.rng, domain.HighRiskCountries),
			daysSpread: 90,
		}))
		amount = hopAmount
	}

	return txs, chain
}

// circular: a 3-7 entity cycle routes an amount back to its origin with
// ±8% jitter per hop over a 30-day window.
func (g *Generator) circular(suspIDs, normalIDs []string, used map[string]bool, txOffset int) ([]*domain.Transaction, []string) {
	cycleSize := 3 + g.rng.Intn(5)
	pool := available(suspIDs, used)
	if len(pool) < cycleSize {
		pool = available(normalIDs, used)
	}
	cycle := g.sample(pool, min(cycleSize, len(pool)))
	for _, id := range cycle {
		used[id] = true
	}

	amount := roundCents(15000 + g.rng.Float64()*(300000-15000))
	txs := make([]*domain.Transaction, 0, len(cycle))

	for i := range cycle {
		src := cycle[i]
		dst := cycle[(i+1)%len(cycle)]
		txs = append(txs, g.makeTx(src, dst, true, txOffset+i, txParams{
			amount:     roundCents(amount * (0.92 + g.rng.Float64()*0.16)),
			channel:    choice(g.rng, []domain.Channel{domain.ChannelWire, domain.ChannelCrypto, domain.ChannelSwift}),
			country:    choice(g.rng, domain.HighRiskCountries),
			daysSpread: 30,
		}))
	}

	return txs, cycle
}

// pickSuspicious prefers the suspicious pool, falling back to normal IDs.
func (g *Generator) pickSuspicious(suspIDs, normalIDs []string) string {
	if len(suspIDs) > 0 {
		return choice(g.rng, suspIDs)
	}
	return choice(g.rng, normalIDs)
}

// sample returns k distinct elements via partial Fisher-Yates on a copy.
func (g *Generator) sample(ids []string, k int) []string {
	cp := make([]string, len(ids))
	copy(cp, ids)
	if k > len(cp) {
		k = len(cp)
	}
	for i := 0; i < k; i++ {
		j := i + g.rng.Intn(len(cp)-i)
		cp[i], cp[j] = cp[j], cp[i]
	}
	return cp[:k]
}

// available filters out ids already claimed by an earlier cycle.
func available(ids []string, used map[string]bool) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !used[id] {
			out = append(out, id)
		}
	}
	return out
}

func choice[T any](rng *rand.Rand, s []T) T {
	return s[rng.Intn(len(s))]
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

package spread

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"pairflow/models"
)

// Candidate is a fitted pair from a universe scan, or the reason it could
// not be fitted.
type Candidate struct {
	Pair models.Pair
	Err  error
}

// FindPairs fits every unordered pair of assets in universe, keyed by asset,
// over their common timestamps and returns the pairs whose p-value passes
// cfg.Significance, lowest p-value first. Assets are ordered by name, so the
// first asset of a pair is the lexically smaller one. Pairs that cannot be
// fitted are reported in skipped.
func FindPairs(universe map[string][]models.PricePoint, cfg Config) (found []models.Pair, skipped []Candidate, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if len(universe) < 2 {
		return nil, nil, errors.New("pair discovery needs at least two assets")
	}
	assets := make([]string, 0, len(universe))
	for asset := range universe {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	for i := 0; i < len(assets); i++ {
		for j := i + 1; j < len(assets); j++ {
			id := PairID(assets[i], assets[j])
			a, b := align(assets[i], universe[assets[i]], assets[j], universe[assets[j]])
			pair, err := Fit(a, b, cfg.Params(id))
			if err != nil {
				skipped = append(skipped, Candidate{Pair: models.Pair{ID: id, AssetA: assets[i], AssetB: assets[j]}, Err: err})
				continue
			}
			if pair.Tradable(cfg.Significance) {
				found = append(found, pair)
			}
		}
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].PValue != found[j].PValue {
			return found[i].PValue < found[j].PValue
		}
		return found[i].ID < found[j].ID
	})
	return found, skipped, nil
}

// PairID names a discovered pair.
func PairID(assetA, assetB string) string {
	return fmt.Sprintf("%s-%s", assetA, assetB)
}

// align keeps the points whose timestamp appears in both histories, in time
// order. The first point at a timestamp wins.
func align(assetA string, a []models.PricePoint, assetB string, b []models.PricePoint) (Series, Series) {
	byTime := make(map[time.Time]models.PricePoint, len(b))
	for _, p := range b {
		key := p.Timestamp.UTC()
		if _, dup := byTime[key]; !dup {
			byTime[key] = p
		}
	}
	sa := Series{Asset: assetA}
	sb := Series{Asset: assetB}
	seen := make(map[time.Time]bool, len(a))
	for _, p := range a {
		key := p.Timestamp.UTC()
		q, ok := byTime[key]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		sa.Points = append(sa.Points, p)
		sb.Points = append(sb.Points, q)
	}
	sort.SliceStable(sa.Points, func(i, j int) bool { return sa.Points[i].Timestamp.Before(sa.Points[j].Timestamp) })
	sort.SliceStable(sb.Points, func(i, j int) bool { return sb.Points[i].Timestamp.Before(sb.Points[j].Timestamp) })
	return sa, sb
}

// Command synth writes a synthetic cointegrated tick history in the JSON lines
// format the backtest reads. Useful for smoke runs without recorded data.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pairflow/logger"
	"pairflow/models"
)

func main() {
	log := logger.GetLogger().WithComponent("synth")

	out := flag.String("out", "data/ticks.jsonl", "Output file")
	pairs := flag.String("pairs", "ETHBTC:ETHUSDT:BTCUSDT", "Comma separated id:asset_a:asset_b")
	n := flag.Int("ticks", 2000, "Ticks per pair")
	step := flag.Duration("step", time.Minute, "Time between ticks")
	hedge := flag.Float64("hedge", 1.5, "Hedge ratio of leg A on leg B")
	theta := flag.Float64("theta", 0.1, "Mean reversion speed of the spread")
	vol := flag.Float64("vol", 0.5, "Spread noise")
	depth := flag.Float64("depth", 1000, "Quantity per book level")
	seed := flag.Int64("seed", 1, "Random seed")
	flag.Parse()

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		log.WithError(err).Error("failed to create output directory")
		os.Exit(1)
	}
	f, err := os.Create(*out)
	if err != nil {
		log.WithError(err).Error("failed to create output file")
		os.Exit(1)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)

	rng := rand.New(rand.NewSource(*seed))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	total := 0
	for _, def := range strings.Split(*pairs, ",") {
		parts := strings.Split(strings.TrimSpace(def), ":")
		if len(parts) != 3 {
			log.WithField("pair", def).Error("pair must be id:asset_a:asset_b")
			os.Exit(2)
		}
		b, s := 100.0, 0.0
		for i := 0; i < *n; i++ {
			b *= math.Exp(rng.NormFloat64() * 0.002)
			s += -*theta*s + rng.NormFloat64()**vol
			a := *hedge*b + 10 + s
			ts := start.Add(time.Duration(i) * *step)
			tick := models.Tick{
				PairID: parts[0],
				A:      models.PricePoint{Timestamp: ts, Price: a},
				B:      models.PricePoint{Timestamp: ts, Price: b},
				BookA:  book(parts[1], ts, a, *depth),
				BookB:  book(parts[2], ts, b, *depth),
			}
			if err := enc.Encode(tick); err != nil {
				log.WithError(err).Error("failed to write tick")
				os.Exit(1)
			}
			total++
		}
	}
	if err := w.Flush(); err != nil {
		log.WithError(err).Error("failed to flush output")
		os.Exit(1)
	}
	log.WithFields(logger.Fields{"path": *out, "ticks": total}).Info("history written")
}

// book builds five levels a basis point apart on each side of mid.
func book(asset string, ts time.Time, mid, qty float64) models.OrderBookSnapshot {
	snap := models.OrderBookSnapshot{Asset: asset, Timestamp: ts}
	for l := 1; l <= 5; l++ {
		off := mid * 0.0001 * float64(l)
		snap.Bids = append(snap.Bids, models.Level{Price: mid - off, Quantity: qty})
		snap.Asks = append(snap.Asks, models.Level{Price: mid + off, Quantity: qty})
	}
	return snap
}

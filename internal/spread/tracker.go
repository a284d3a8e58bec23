package spread

import (
	"fmt"
	"math"
	"time"

	"pairflow/models"
)

// Tracker keeps the rolling mean and sample variance of the last WindowSize
// spreads of one pair. Updates are O(1).
type Tracker struct {
	pair  models.Pair
	buf   []float64
	next  int
	count int
	mean  float64
	m2    float64
	last  time.Time
}

// NewTracker returns an empty tracker for the fitted pair.
func NewTracker(pair models.Pair) (*Tracker, error) {
	if pair.WindowSize < MinWindowSize {
		return nil, fmt.Errorf("pair %s: window size %d below minimum %d", pair.ID, pair.WindowSize, MinWindowSize)
	}
	if math.IsNaN(pair.HedgeRatio) || math.IsInf(pair.HedgeRatio, 0) {
		return nil, fmt.Errorf("pair %s: hedge ratio %v is not finite", pair.ID, pair.HedgeRatio)
	}
	return &Tracker{pair: pair, buf: make([]float64, pair.WindowSize)}, nil
}

// Pair returns the fitted pair the tracker evaluates against.
func (t *Tracker) Pair() models.Pair {
	return t.pair
}

// Ready reports whether the window is full.
func (t *Tracker) Ready() bool {
	return t.count == len(t.buf)
}

// Seed preloads historical spreads, oldest first, ending at through. Only the
// trailing window is kept.
func (t *Tracker) Seed(spreads []float64, through time.Time) {
	if len(spreads) > len(t.buf) {
		spreads = spreads[len(spreads)-len(t.buf):]
	}
	for _, s := range spreads {
		t.push(s)
	}
	if through.After(t.last) {
		t.last = through
	}
}

// Update adds the spread of the given prices and returns the observation.
// Until the window is full it returns an *InsufficientDataError while still
// accumulating the value.
func (t *Tracker) Update(priceA, priceB float64, ts time.Time) (models.SpreadObservation, error) {
	if !validPrice(priceA) || !validPrice(priceB) {
		return models.SpreadObservation{}, fmt.Errorf("%w: pair %s prices %v/%v", ErrInvalidPrice, t.pair.ID, priceA, priceB)
	}
	if !t.last.IsZero() && !ts.After(t.last) {
		return models.SpreadObservation{}, fmt.Errorf("%w: pair %s %v not after %v", ErrOutOfOrder, t.pair.ID, ts, t.last)
	}
	t.last = ts

	s := t.pair.Spread(priceA, priceB)
	t.push(s)
	if !t.Ready() {
		return models.SpreadObservation{}, &InsufficientDataError{Have: t.count, Need: len(t.buf)}
	}

	std := t.std()
	z := 0.0
	if std > 0 {
		z = (s - t.mean) / std
	}
	return models.SpreadObservation{
		PairID:     t.pair.ID,
		Timestamp:  ts,
		PriceA:     priceA,
		PriceB:     priceB,
		HedgeRatio: t.pair.HedgeRatio,
		Spread:     s,
		Mean:       t.mean,
		Std:        std,
		ZScore:     z,
	}, nil
}

func (t *Tracker) push(x float64) {
	n := len(t.buf)
	if t.count < n {
		t.count++
		d := x - t.mean
		t.mean += d / float64(t.count)
		t.m2 += d * (x - t.mean)
	} else {
		old := t.buf[t.next]
		mean := t.mean + (x-old)/float64(n)
		t.m2 += (x - old) * (x - mean + old - t.mean)
		t.mean = mean
	}
	if t.m2 < 0 {
		t.m2 = 0
	}
	t.buf[t.next] = x
	t.next = (t.next + 1) % n
}

// std is the sample standard deviation, flushed to zero when it is rounding noise.
func (t *Tracker) std() float64 {
	if t.count < 2 {
		return 0
	}
	sd := math.Sqrt(t.m2 / float64(t.count-1))
	if sd <= 1e-12*math.Max(1, math.Abs(t.mean)) {
		return 0
	}
	return sd
}

func validPrice(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

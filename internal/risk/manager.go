// Package risk sizes, gates and books spread positions. The Manager is the
// only writer of positions and of the trade log.
package risk

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pairflow/internal/execution"
	"pairflow/logger"
	"pairflow/models"
)

// Mark is a pair's last known leg prices.
type Mark struct {
	PriceA float64
	PriceB float64
}

// Manager owns positions and applies sizing, exposure and liquidity rules.
// It is safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	cfg       Config
	cash      float64
	positions map[string]*models.Position
	marks     map[string]Mark
	trades    []models.Trade
	log       *logger.Log
}

// NewManager returns a manager holding InitialCapital in cash.
func NewManager(cfg Config, log *logger.Log) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("risk config: %w", err)
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Manager{
		cfg:       cfg,
		cash:      cfg.InitialCapital,
		positions: make(map[string]*models.Position),
		marks:     make(map[string]Mark),
		log:       log,
	}, nil
}

// OnSignal decides what to do with one signal. Business rejections are
// reported in the decision; the error is reserved for malformed input.
func (m *Manager) OnSignal(sig models.Signal, bookA, bookB models.OrderBookSnapshot) (models.TradeDecision, error) {
	if err := validateSignal(sig); err != nil {
		return models.TradeDecision{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[sig.PairID] = Mark{PriceA: sig.PriceA, PriceB: sig.PriceB}

	switch {
	case sig.Kind.IsEntry():
		return m.open(sig, bookA, bookB)
	case sig.Kind.IsClose():
		pos, ok := m.positions[sig.PairID]
		if !ok {
			d := reject(sig, models.ReasonNoPositionToClose)
			m.logDecision(d)
			return d, nil
		}
		reason := models.ExitReasonExit
		if sig.Kind == models.SignalStopLoss {
			reason = models.ExitReasonStopLoss
		}
		return m.close(pos, sig, bookA, bookB, reason)
	}
	return models.TradeDecision{}, fmt.Errorf("unknown signal kind %q", sig.Kind)
}

// Close force-closes the pair's position at the given prices, for example
// at the end of a replay. It reports NoPositionToClose when flat.
func (m *Manager) Close(pairID string, ts time.Time, mark Mark, zscore float64, bookA, bookB models.OrderBookSnapshot, reason models.ExitReason) (models.TradeDecision, error) {
	sig := models.Signal{
		PairID:    pairID,
		Timestamp: ts,
		Kind:      models.SignalExit,
		ZScore:    zscore,
		PriceA:    mark.PriceA,
		PriceB:    mark.PriceB,
	}
	if err := validateSignal(sig); err != nil {
		return models.TradeDecision{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[pairID]
	if !ok {
		return reject(sig, models.ReasonNoPositionToClose), nil
	}
	sig.HedgeRatio = pos.HedgeRatio
	sig.StopLossZ = pos.StopLossZ
	sig.TakeProfitZ = pos.TakeProfitZ
	return m.close(pos, sig, bookA, bookB, reason)
}

func (m *Manager) open(sig models.Signal, bookA, bookB models.OrderBookSnapshot) (models.TradeDecision, error) {
	if _, ok := m.positions[sig.PairID]; ok {
		d := reject(sig, models.ReasonPairAlreadyOpen)
		m.logDecision(d)
		return d, nil
	}

	equity := m.equityLocked()
	notional := m.size(sig, equity)
	unitCost := sig.PriceA + math.Abs(sig.HedgeRatio)*sig.PriceB
	if notional <= 0 || unitCost <= 0 {
		d := reject(sig, models.ReasonExposureCapExceeded)
		m.logDecision(d)
		return d, nil
	}
	if limit := m.cfg.pairCap(sig.PairID); limit > 0 && notional > limit {
		d := reject(sig, models.ReasonExposureCapExceeded)
		m.logDecision(d)
		return d, nil
	}
	if limit := m.cfg.MaxAggregateExposure; limit > 0 && m.exposureLocked()+notional > limit {
		d := reject(sig, models.ReasonExposureCapExceeded)
		m.logDecision(d)
		return d, nil
	}
	if limit := m.cfg.MaxLeverage; limit > 0 && (m.exposureLocked()+notional) > limit*equity {
		d := reject(sig, models.ReasonExposureCapExceeded)
		m.logDecision(d)
		return d, nil
	}

	dir := models.DirectionLong
	if sig.Kind == models.SignalEnterShort {
		dir = models.DirectionShort
	}
	units := notional / unitCost
	qtyA := dir.Sign() * units
	qtyB := -dir.Sign() * sig.HedgeRatio * units

	d := models.TradeDecision{PairID: sig.PairID, Timestamp: sig.Timestamp, Signal: sig, Action: models.ActionNone}
	var ok bool
	var err error
	if d.LegA, ok, err = m.check(bookA, qtyA); err != nil || !ok {
		return m.liquidityReject(d, err)
	}
	if d.LegB, ok, err = m.check(bookB, qtyB); err != nil || !ok {
		return m.liquidityReject(d, err)
	}

	fillA, fillB := legPrice(d.LegA, sig.PriceA), legPrice(d.LegB, sig.PriceB)
	pos := &models.Position{
		PairID:         sig.PairID,
		Direction:      dir,
		EntryTimestamp: sig.Timestamp,
		EntryPriceA:    fillA,
		EntryPriceB:    fillB,
		FairPriceA:     sig.PriceA,
		FairPriceB:     sig.PriceB,
		QuantityA:      qtyA,
		QuantityB:      qtyB,
		HedgeRatio:     sig.HedgeRatio,
		SizeNotional:   notional,
		StopLossZ:      sig.StopLossZ,
		TakeProfitZ:    sig.TakeProfitZ,
		EntryZScore:    sig.ZScore,
		EntrySlippageCost: math.Abs(fillA-sig.PriceA)*math.Abs(qtyA) +
			math.Abs(fillB-sig.PriceB)*math.Abs(qtyB),
		EntryFees: m.fees(fillA, qtyA) + m.fees(fillB, qtyB),
	}
	m.positions[sig.PairID] = pos
	m.cash -= pos.EntryFees

	snapshot := *pos
	d.Action = models.ActionOpen
	d.Accepted = true
	d.Position = &snapshot
	m.logDecision(d)
	return d, nil
}

// check walks the book for a leg of signed quantity qty. A zero quantity leg
// is trivially fillable.
func (m *Manager) check(book models.OrderBookSnapshot, qty float64) (models.FillEstimate, bool, error) {
	if qty == 0 {
		return models.FillEstimate{FullyFilled: true}, true, nil
	}
	est, err := execution.EstimateFill(book, sideFor(qty), math.Abs(qty))
	if errors.Is(err, execution.ErrEmptyBook) {
		return models.FillEstimate{Side: sideFor(qty), Requested: math.Abs(qty)}, false, nil
	}
	if err != nil {
		return models.FillEstimate{}, false, err
	}
	if ratio := m.cfg.MinLiquidityRatio; ratio > 0 && execution.VisibleDepth(book, sideFor(qty)) < ratio*math.Abs(qty) {
		return est, false, nil
	}
	return est, execution.Admissible(est, m.cfg.MaxSlippage), nil
}

func (m *Manager) liquidityReject(d models.TradeDecision, err error) (models.TradeDecision, error) {
	if err != nil {
		return models.TradeDecision{}, fmt.Errorf("pair %s: %w", d.PairID, err)
	}
	d.Reason = models.ReasonInsufficientLiquidity
	m.logDecision(d)
	return d, nil
}

func (m *Manager) close(pos *models.Position, sig models.Signal, bookA, bookB models.OrderBookSnapshot, reason models.ExitReason) (models.TradeDecision, error) {
	estA, err := m.unwind(bookA, pos.QuantityA)
	if err != nil {
		return models.TradeDecision{}, fmt.Errorf("pair %s: %w", pos.PairID, err)
	}
	estB, err := m.unwind(bookB, pos.QuantityB)
	if err != nil {
		return models.TradeDecision{}, fmt.Errorf("pair %s: %w", pos.PairID, err)
	}
	exitA := execution.ExecutionPrice(estA, sig.PriceA)
	exitB := execution.ExecutionPrice(estB, sig.PriceB)
	if pos.QuantityA != 0 && !estA.FullyFilled || pos.QuantityB != 0 && !estB.FullyFilled {
		m.log.WithComponent("risk_manager").WithPair(pos.PairID).WithFields(logger.Fields{
			"achievable_a": estA.Achievable,
			"achievable_b": estB.Achievable,
			"exit_price_a": exitA,
			"exit_price_b": exitB,
		}).Warn("close exceeds visible depth; remainder priced at worst level")
	}

	gross := pos.QuantityA*(exitA-pos.EntryPriceA) + pos.QuantityB*(exitB-pos.EntryPriceB)
	exitFees := m.fees(exitA, pos.QuantityA) + m.fees(exitB, pos.QuantityB)
	exitSlippage := math.Abs(exitA-sig.PriceA)*math.Abs(pos.QuantityA) +
		math.Abs(exitB-sig.PriceB)*math.Abs(pos.QuantityB)

	trade := models.Trade{
		ID:            TradeID(pos.PairID, pos.EntryTimestamp, sig.Timestamp),
		PairID:        pos.PairID,
		Entry:         *pos,
		ExitTimestamp: sig.Timestamp,
		ExitPriceA:    exitA,
		ExitPriceB:    exitB,
		ExitZScore:    sig.ZScore,
		ExitReason:    reason,
		GrossPnl:      gross,
		Fees:          pos.EntryFees + exitFees,
		SlippageCost:  pos.EntrySlippageCost + exitSlippage,
	}
	trade.RealizedPnl = trade.GrossPnl - trade.Fees

	m.trades = append(m.trades, trade)
	delete(m.positions, pos.PairID)
	m.cash += gross - exitFees

	d := models.TradeDecision{
		PairID:    pos.PairID,
		Timestamp: sig.Timestamp,
		Signal:    sig,
		Action:    models.ActionClose,
		Accepted:  true,
		LegA:      estA,
		LegB:      estB,
		Trade:     &trade,
	}
	m.logDecision(d)
	return d, nil
}

// unwind estimates reversing a signed position leg. An empty side is not an
// error here: closes always execute.
func (m *Manager) unwind(book models.OrderBookSnapshot, qty float64) (models.FillEstimate, error) {
	if qty == 0 {
		return models.FillEstimate{FullyFilled: true}, nil
	}
	side := sideFor(-qty)
	est, err := execution.EstimateFill(book, side, math.Abs(qty))
	if errors.Is(err, execution.ErrEmptyBook) {
		return models.FillEstimate{Side: side, Requested: math.Abs(qty)}, nil
	}
	return est, err
}

// size returns the entry notional as a share of marked equity.
func (m *Manager) size(sig models.Signal, capital float64) float64 {
	notional := capital * m.cfg.Sizing.Fraction
	if m.cfg.Sizing.Rule == SizeVolatilityScaled {
		distance := math.Abs(sig.StopLossZ-sig.ZScore) * sig.SpreadStd
		if distance > 0 {
			units := capital * m.cfg.Sizing.RiskPerTrade / distance
			notional = units * (sig.PriceA + math.Abs(sig.HedgeRatio)*sig.PriceB)
		}
	}
	if m.cfg.Sizing.ScaleByConfidence {
		notional *= sig.Confidence
	}
	return notional
}

func (m *Manager) fees(price, qty float64) float64 {
	return math.Abs(qty) * price * m.cfg.FeeBps / 1e4
}

// equityLocked is cash plus open positions marked at the last known prices.
func (m *Manager) equityLocked() float64 {
	equity := m.cash
	for _, id := range m.sortedIDs() {
		if mk, ok := m.marks[id]; ok {
			equity += m.positions[id].Unrealized(mk.PriceA, mk.PriceB)
		}
	}
	return equity
}

func (m *Manager) exposureLocked() float64 {
	var total float64
	for _, id := range m.sortedIDs() {
		total += m.positions[id].SizeNotional
	}
	return total
}

func (m *Manager) sortedIDs() []string {
	ids := make([]string, 0, len(m.positions))
	for id := range m.positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) logDecision(d models.TradeDecision) {
	entry := m.log.WithComponent("risk_manager").WithPair(d.PairID).WithFields(logger.Fields{
		"signal":    string(d.Signal.Kind),
		"zscore":    d.Signal.ZScore,
		"action":    string(d.Action),
		"accepted":  d.Accepted,
		"timestamp": d.Timestamp,
	})
	if d.Reason != models.ReasonNone {
		entry.WithField("reason", string(d.Reason)).Info("signal rejected")
		return
	}
	if d.Trade != nil {
		entry.WithFields(logger.Fields{
			"trade_id":     d.Trade.ID,
			"realized_pnl": d.Trade.RealizedPnl,
			"exit_reason":  string(d.Trade.ExitReason),
		}).Info("position closed")
		return
	}
	entry.WithField("size_notional", d.Position.SizeNotional).Info("position opened")
}

// SetMark records the pair's latest prices. Sizing marks open positions at
// the last recorded prices.
func (m *Manager) SetMark(pairID string, mk Mark) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[pairID] = mk
}

// Cash is initial capital plus realized pnl, net of fees paid on open positions.
func (m *Manager) Cash() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cash
}

// Exposure is the total entry notional of open positions.
func (m *Manager) Exposure() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exposureLocked()
}

// Equity marks open positions to the given prices. Pairs without a mark are
// valued at their entry fills.
func (m *Manager) Equity(marks map[string]Mark) (equity, unrealized float64, open int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.sortedIDs() {
		pos := m.positions[id]
		if mk, ok := marks[id]; ok {
			unrealized += pos.Unrealized(mk.PriceA, mk.PriceB)
		}
	}
	return m.cash + unrealized, unrealized, len(m.positions)
}

// Position returns a copy of the pair's open position.
func (m *Manager) Position(pairID string) (models.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[pairID]
	if !ok {
		return models.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions sorted by pair id.
func (m *Manager) Positions() []models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Position, 0, len(m.positions))
	for _, id := range m.sortedIDs() {
		out = append(out, *m.positions[id])
	}
	return out
}

// Trades returns a copy of the trade log in close order.
func (m *Manager) Trades() []models.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Trade(nil), m.trades...)
}

// TradeID derives a stable id from the pair and the trade's entry and exit times.
func TradeID(pairID string, entry, exit time.Time) string {
	key := fmt.Sprintf("%s|%d|%d", pairID, entry.UnixNano(), exit.UnixNano())
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func reject(sig models.Signal, reason models.RejectReason) models.TradeDecision {
	return models.TradeDecision{
		PairID:    sig.PairID,
		Timestamp: sig.Timestamp,
		Signal:    sig,
		Action:    models.ActionNone,
		Reason:    reason,
	}
}

func legPrice(est models.FillEstimate, fair float64) float64 {
	if est.Achievable > 0 {
		return est.VWAP
	}
	return fair
}

func sideFor(qty float64) models.Side {
	if qty > 0 {
		return models.SideBuy
	}
	return models.SideSell
}

func validateSignal(sig models.Signal) error {
	if sig.PairID == "" {
		return fmt.Errorf("signal without pair id")
	}
	if !positiveFinite(sig.PriceA) || !positiveFinite(sig.PriceB) {
		return fmt.Errorf("signal %s has invalid prices %v/%v", sig.PairID, sig.PriceA, sig.PriceB)
	}
	if math.IsNaN(sig.HedgeRatio) || math.IsInf(sig.HedgeRatio, 0) {
		return fmt.Errorf("signal %s has invalid hedge ratio %v", sig.PairID, sig.HedgeRatio)
	}
	return nil
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

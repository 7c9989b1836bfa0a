package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"breakout-radar/internal/domain"
	"breakout-radar/internal/provider"
	"breakout-radar/internal/regime"
	"breakout-radar/internal/setup"
	"breakout-radar/internal/state"
	"breakout-radar/internal/trigger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

type stubProvider struct {
	mu        sync.Mutex
	series    map[string]*domain.CandleSeries
	livePrice float64
	err       error
	liveErr   error
}

func (p *stubProvider) GetCandles(ctx context.Context, symbol, interval string, limit int) (*domain.CandleSeries, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	s, ok := p.series[interval]
	if !ok {
		return nil, fmt.Errorf("no series for interval %s", interval)
	}
	return s, nil
}

func (p *stubProvider) GetLivePrice(ctx context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	if p.liveErr != nil {
		return 0, p.liveErr
	}
	return p.livePrice, nil
}

func (p *stubProvider) setBase(series *domain.CandleSeries, livePrice float64) {
	p.mu.Lock()
	p.series["15m"] = series
	p.livePrice = livePrice
	p.mu.Unlock()
}

type stubNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *stubNotifier) Broadcast(ctx context.Context, text string) error {
	n.mu.Lock()
	n.messages = append(n.messages, text)
	n.mu.Unlock()
	return nil
}

func (n *stubNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

type stubSignalStore struct {
	mu       sync.Mutex
	inserted []domain.Signal
}

func (s *stubSignalStore) InsertSignals(ctx context.Context, signals []domain.Signal) ([]domain.Signal, error) {
	s.mu.Lock()
	s.inserted = append(s.inserted, signals...)
	s.mu.Unlock()
	return signals, nil
}

func (s *stubSignalStore) ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Signal(nil), s.inserted...), nil
}

// flatSeries is n bars pinned at 100 with a 1.0 bar range. Every indicator is
// defined, the regime is directionless, and the 20-bar high sits at 100.5.
func flatSeries(symbol, interval string, n int) *domain.CandleSeries {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]domain.Candle, n)
	for i := range candles {
		candles[i] = domain.Candle{
			Symbol:   symbol,
			Interval: interval,
			OpenTime: start.Add(time.Duration(i) * 15 * time.Minute),
			Open:     100, High: 100.5, Low: 99.5, Close: 100, Volume: 100,
		}
	}
	return &domain.CandleSeries{Symbol: symbol, Interval: interval, Candles: candles}
}

// breakoutSeries extends flatSeries with a breakout above 100.5, a retest dip
// back to the level, and a recovery close.
func breakoutSeries(symbol, interval string, n int) *domain.CandleSeries {
	s := flatSeries(symbol, interval, n)
	last := s.Candles[len(s.Candles)-1].OpenTime
	step := 15 * time.Minute
	tail := []domain.Candle{
		{Symbol: symbol, Interval: interval, OpenTime: last.Add(step), Open: 100, High: 101.2, Low: 99.8, Close: 101, Volume: 100},
		{Symbol: symbol, Interval: interval, OpenTime: last.Add(2 * step), Open: 101, High: 101.1, Low: 100.35, Close: 100.6, Volume: 100},
		{Symbol: symbol, Interval: interval, OpenTime: last.Add(3 * step), Open: 100.6, High: 101.0, Low: 100.5, Close: 100.9, Volume: 100},
	}
	s.Candles = append(s.Candles, tail...)
	return s
}

func newTestEngine(p *stubProvider, notifier Notifier, repo SignalStore, stateRepo StateStore, leverage float64) *EngineService {
	classifier := regime.NewClassifier(regime.Thresholds{
		HighVolATRPct: 1000,
		LowVolATRPct:  -1,
		ChopADX:       -1,
		TrendADX:      0.5,
	})
	generator := setup.NewGenerator(setup.Config{
		ADXFloor:            0,
		VolumeFloor:         0.1,
		RSIBandLow:          0,
		RSIBandHigh:         101,
		MaxDistancePct:      5,
		MinScore:            0.05,
		TTL:                 time.Hour,
		RequireHTFAlignment: false,
		Weights:             setup.DefaultConfig().Weights,
	})
	evaluator := trigger.NewEvaluator(trigger.Config{
		BufferPct:        0.05,
		Mode:             trigger.ModeRetest,
		RetestWindowBars: 6,
		MomentumATRMult:  1.2,
		EntryADXFloor:    0.01,
		EntryVolumeFloor: 0.1,
		MinStopPct:       0.3,
		RewardRR:         2.0,
		SwingBars:        10,
		ATRMult:          1.5,
	})
	svc := NewEngineService(Deps{
		Tracer:     trace.NewNoopTracerProvider().Tracer("test"),
		Provider:   p,
		Classifier: classifier,
		Generator:  generator,
		Evaluator:  evaluator,
		SignalRepo: repo,
		StateRepo:  stateRepo,
		Notifier:   notifier,
	}, Options{
		Symbols:     []string{"BTCUSDT"},
		Interval:    "15m",
		HTFInterval: "1h",
		CandleLimit: 300,
		Workers:     2,
		Leverage:    leverage,
		PositionUSD: 25,
	})
	if err := svc.Init(context.Background()); err != nil {
		panic(err)
	}
	return svc
}

func newBreakoutFixture(leverage float64) (*stubProvider, *stubNotifier, *stubSignalStore, *EngineService) {
	p := &stubProvider{
		series: map[string]*domain.CandleSeries{
			"15m": flatSeries("BTCUSDT", "15m", 280),
			"1h":  flatSeries("BTCUSDT", "1h", 250),
		},
		livePrice: 100,
	}
	notifier := &stubNotifier{}
	repo := &stubSignalStore{}
	svc := newTestEngine(p, notifier, repo, nil, leverage)
	return p, notifier, repo, svc
}

func TestRunCycleOpensSetupsThenConfirmsEntry(t *testing.T) {
	p, notifier, repo, svc := newBreakoutFixture(10)
	ctx := context.Background()

	report, err := svc.RunCycle(ctx)
	if err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	if report.SetupsOpened != 2 {
		t.Fatalf("expected 2 setups (one per direction), got %d", report.SetupsOpened)
	}
	if report.Entries != 0 {
		t.Fatalf("no entry expected before a breakout, got %d", report.Entries)
	}

	p.setBase(breakoutSeries("BTCUSDT", "15m", 280), 100.9)

	report, err = svc.RunCycle(ctx)
	if err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	if report.Entries != 1 {
		t.Fatalf("expected 1 confirmed entry, got %+v", report)
	}
	if report.RiskRejected != 0 {
		t.Fatalf("unexpected risk rejection: %+v", report)
	}

	last, ok := svc.Status().LastSignals["BTCUSDT"]
	if !ok {
		t.Fatal("expected last signal record")
	}
	if last.Direction != domain.DirectionLong || last.Price != 100.9 {
		t.Fatalf("unexpected last signal: %+v", last)
	}
	if last.Confidence < 50 || last.Confidence > 95 {
		t.Fatalf("confidence out of range: %d", last.Confidence)
	}

	var entry *domain.Signal
	for i := range repo.inserted {
		if repo.inserted[i].Kind == domain.SignalKindEntry {
			entry = &repo.inserted[i]
		}
	}
	if entry == nil {
		t.Fatal("expected persisted entry signal")
	}
	if math.Abs(entry.StopLoss-99.5) > 1e-9 {
		t.Errorf("expected swing stop at 99.5, got %v", entry.StopLoss)
	}
	if math.Abs(entry.TakeProfit-103.14) > 1e-9 {
		t.Errorf("expected take profit 103.14, got %v", entry.TakeProfit)
	}

	found := false
	for _, msg := range notifier.all() {
		if strings.Contains(msg, "Entry BTCUSDT LONG") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected entry notification, got %v", notifier.all())
	}
}

func TestRunCycleLivePriceFailureFallsBackToLastClose(t *testing.T) {
	p, _, repo, svc := newBreakoutFixture(10)
	ctx := context.Background()

	if _, err := svc.RunCycle(ctx); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}

	p.setBase(breakoutSeries("BTCUSDT", "15m", 280), 0)
	p.mu.Lock()
	p.liveErr = fmt.Errorf("ticker unavailable: %w", provider.ErrRateLimited)
	p.mu.Unlock()

	report, err := svc.RunCycle(ctx)
	if err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	if report.SymbolErrors != 0 {
		t.Fatalf("ticker outage must not fail the symbol, got %+v", report)
	}
	if report.Entries != 1 {
		t.Fatalf("expected entry confirmed off last close, got %+v", report)
	}

	last, ok := svc.Status().LastSignals["BTCUSDT"]
	if !ok {
		t.Fatal("expected last signal record")
	}
	if last.Price != 100.9 {
		t.Fatalf("expected entry at last close 100.9, got %v", last.Price)
	}

	var entry *domain.Signal
	for i := range repo.inserted {
		if repo.inserted[i].Kind == domain.SignalKindEntry {
			entry = &repo.inserted[i]
		}
	}
	if entry == nil || entry.Price != 100.9 {
		t.Fatalf("expected persisted entry at 100.9, got %+v", entry)
	}
}

func TestRunCycleEntryCooldownIsIdempotent(t *testing.T) {
	p, _, _, svc := newBreakoutFixture(10)
	ctx := context.Background()

	if _, err := svc.RunCycle(ctx); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	p.setBase(breakoutSeries("BTCUSDT", "15m", 280), 100.9)
	report, err := svc.RunCycle(ctx)
	if err != nil || report.Entries != 1 {
		t.Fatalf("expected entry in cycle 2: report=%+v err=%v", report, err)
	}

	// Same market snapshot again: the key is consumed, nothing may re-fire.
	report, err = svc.RunCycle(ctx)
	if err != nil {
		t.Fatalf("cycle 3: %v", err)
	}
	if report.Entries != 0 || report.SetupsOpened != 0 {
		t.Fatalf("expected quiet cycle after cooldown, got %+v", report)
	}
}

func TestRunCycleRiskInfeasibleStillConsumesCooldown(t *testing.T) {
	p, notifier, _, svc := newBreakoutFixture(100)
	ctx := context.Background()

	if _, err := svc.RunCycle(ctx); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	p.setBase(breakoutSeries("BTCUSDT", "15m", 280), 100.9)

	report, err := svc.RunCycle(ctx)
	if err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	if report.Entries != 0 || report.RiskRejected != 1 {
		t.Fatalf("expected risk rejection at 100x, got %+v", report)
	}
	for _, msg := range notifier.all() {
		if strings.Contains(msg, "Entry") {
			t.Fatalf("no entry notification expected, got %q", msg)
		}
	}
	for _, open := range svc.Status().OpenSetups {
		if open.Direction == domain.DirectionLong {
			t.Fatal("consumed setup should be closed even when sizing fails")
		}
	}

	report, err = svc.RunCycle(ctx)
	if err != nil {
		t.Fatalf("cycle 3: %v", err)
	}
	if report.Entries != 0 || report.RiskRejected != 0 {
		t.Fatalf("expected quiet cycle after consumed slot, got %+v", report)
	}
}

func TestRunCycleMinConfidenceBlocksWithoutConsuming(t *testing.T) {
	p, _, _, svc := newBreakoutFixture(10)
	ctx := context.Background()

	if _, err := svc.RunCycle(ctx); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	if err := svc.SetMinConfidence(95); err != nil {
		t.Fatalf("set confidence: %v", err)
	}
	p.setBase(breakoutSeries("BTCUSDT", "15m", 280), 100.9)

	report, err := svc.RunCycle(ctx)
	if err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	if report.Entries != 0 || report.RiskRejected != 0 {
		t.Fatalf("expected entry below threshold to be dropped, got %+v", report)
	}

	stillOpen := false
	for _, open := range svc.Status().OpenSetups {
		if open.Direction == domain.DirectionLong {
			stillOpen = true
		}
	}
	if !stillOpen {
		t.Fatal("confidence filter must not consume the setup")
	}
}

func TestRunCyclePaused(t *testing.T) {
	_, _, _, svc := newBreakoutFixture(10)

	svc.Pause()
	report, err := svc.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.SkippedPaused {
		t.Fatal("expected paused cycle to be skipped")
	}

	svc.Resume()
	report, err = svc.RunCycle(context.Background())
	if err != nil || report.SkippedPaused {
		t.Fatalf("expected resumed cycle to run: %+v err=%v", report, err)
	}
}

func TestRunCycleProviderErrors(t *testing.T) {
	p, _, _, svc := newBreakoutFixture(10)
	p.mu.Lock()
	p.err = fmt.Errorf("fetch klines: %w", provider.ErrRateLimited)
	p.mu.Unlock()

	report, err := svc.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.SymbolErrors != 1 || report.SetupsOpened != 0 {
		t.Fatalf("expected rate limited symbol to be skipped, got %+v", report)
	}
}

func TestAnalyzeDoesNotTouchState(t *testing.T) {
	_, _, _, svc := newBreakoutFixture(10)

	analysis, err := svc.Analyze(context.Background(), " btcusdt ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.Symbol != "BTCUSDT" {
		t.Fatalf("expected normalized symbol, got %s", analysis.Symbol)
	}
	if !analysis.RegimeOK || len(analysis.Setups) != 2 {
		t.Fatalf("expected full read-only analysis, got %+v", analysis)
	}
	if len(svc.Status().OpenSetups) != 0 {
		t.Fatal("analyze must not register setups")
	}
}

func TestSetMinConfidenceValidates(t *testing.T) {
	_, _, _, svc := newBreakoutFixture(10)

	if err := svc.SetMinConfidence(40); err == nil {
		t.Fatal("expected error below 50")
	}
	if err := svc.SetMinConfidence(96); err == nil {
		t.Fatal("expected error above 95")
	}
	if err := svc.SetMinConfidence(80); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.MinConfidence() != 80 {
		t.Fatalf("expected 80, got %d", svc.MinConfidence())
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := state.NewStore(client, trace.NewNoopTracerProvider().Tracer("test"))

	p := &stubProvider{
		series: map[string]*domain.CandleSeries{
			"15m": flatSeries("BTCUSDT", "15m", 280),
			"1h":  flatSeries("BTCUSDT", "1h", 250),
		},
		livePrice: 100,
	}
	svc := newTestEngine(p, &stubNotifier{}, &stubSignalStore{}, store, 10)

	if _, err := svc.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(svc.Status().OpenSetups) != 2 {
		t.Fatalf("expected 2 open setups, got %d", len(svc.Status().OpenSetups))
	}

	restarted := newTestEngine(p, &stubNotifier{}, &stubSignalStore{}, store, 10)
	if len(restarted.Status().OpenSetups) != 2 {
		t.Fatalf("expected open setups to survive restart, got %d", len(restarted.Status().OpenSetups))
	}
}

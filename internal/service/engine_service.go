package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"breakout-radar/internal/domain"
	"breakout-radar/internal/feature"
	"breakout-radar/internal/provider"
	"breakout-radar/internal/regime"
	"breakout-radar/internal/risk"
	"breakout-radar/internal/setup"
	"breakout-radar/internal/state"
	"breakout-radar/internal/trigger"

	"go.opentelemetry.io/otel/trace"
)

type MarketProvider interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) (*domain.CandleSeries, error)
	GetLivePrice(ctx context.Context, symbol string) (float64, error)
}

type SeriesCache interface {
	Get(ctx context.Context, symbol, interval string) (*domain.CandleSeries, bool)
	Put(ctx context.Context, series *domain.CandleSeries) error
}

type SignalStore interface {
	InsertSignals(ctx context.Context, signals []domain.Signal) ([]domain.Signal, error)
	ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error)
}

type CandleStore interface {
	UpsertCandles(ctx context.Context, candles []domain.Candle) error
}

type StateStore interface {
	Load(ctx context.Context) (*state.EngineState, error)
	Save(ctx context.Context, st *state.EngineState) error
}

type Notifier interface {
	Broadcast(ctx context.Context, text string) error
}

// Options are the per-deployment knobs of the engine. Runtime-adjustable
// values (min confidence, paused, leverage, position size) live in the
// persisted engine state instead; Options only seeds them on first start.
type Options struct {
	Symbols       []string
	Interval      string
	HTFInterval   string
	CandleLimit   int
	Workers       int
	SetupCooldown time.Duration
	EntryCooldown time.Duration
	MinConfidence int
	Leverage      float64
	PositionUSD   float64

	// RiskTables pass through to the risk engine; a zero value keeps its
	// default leverage brackets.
	RiskTables risk.Tables
}

func (o *Options) applyDefaults() {
	if len(o.Symbols) == 0 {
		o.Symbols = []string{"BTCUSDT", "SOLUSDT", "XRPUSDT"}
	}
	if o.Interval == "" {
		o.Interval = "15m"
	}
	if o.HTFInterval == "" {
		o.HTFInterval = "1h"
	}
	if o.CandleLimit < feature.MinCloses {
		o.CandleLimit = 300
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.SetupCooldown <= 0 {
		o.SetupCooldown = 45 * time.Minute
	}
	if o.EntryCooldown <= 0 {
		o.EntryCooldown = 90 * time.Minute
	}
	if o.MinConfidence < 50 || o.MinConfidence > 95 {
		o.MinConfidence = 62
	}
	if o.Leverage <= 0 {
		o.Leverage = 10
	}
	if o.PositionUSD <= 0 {
		o.PositionUSD = 25
	}
}

// Deps bundle the engine's collaborators. Repo, state store, and notifier are
// optional: a nil repo skips persistence, a nil notifier skips alerts.
type Deps struct {
	Tracer     trace.Tracer
	Provider   MarketProvider
	Cache      SeriesCache
	Classifier *regime.Classifier
	Generator  *setup.Generator
	Evaluator  *trigger.Evaluator
	SignalRepo SignalStore
	CandleRepo CandleStore
	StateRepo  StateStore
	Notifier   Notifier
}

// EngineService runs the polling pipeline: candles in, setups tracked, entries
// confirmed and sized, alerts out. All engine state mutations happen under one
// mutex that is never held across network calls.
type EngineService struct {
	tracer     trace.Tracer
	provider   MarketProvider
	cache      SeriesCache
	classifier *regime.Classifier
	generator  *setup.Generator
	evaluator  *trigger.Evaluator
	signalRepo SignalStore
	candleRepo CandleStore
	stateRepo  StateStore
	notifier   Notifier
	opts       Options

	mu sync.Mutex
	st *state.EngineState
}

func NewEngineService(deps Deps, opts Options) *EngineService {
	opts.applyDefaults()
	return &EngineService{
		tracer:     deps.Tracer,
		provider:   deps.Provider,
		cache:      deps.Cache,
		classifier: deps.Classifier,
		generator:  deps.Generator,
		evaluator:  deps.Evaluator,
		signalRepo: deps.SignalRepo,
		candleRepo: deps.CandleRepo,
		stateRepo:  deps.StateRepo,
		notifier:   deps.Notifier,
		opts:       opts,
		st:         state.NewEngineState(),
	}
}

// SetNotifier installs the alert sink. The Telegram dispatcher is built after
// the engine because its command handlers need the engine, so the notifier is
// wired in a second step.
func (s *EngineService) SetNotifier(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

// Init restores persisted state, seeding runtime tunables from Options on
// first start. Safe to call with a nil state store.
func (s *EngineService) Init(ctx context.Context) error {
	if s.stateRepo == nil {
		s.seedState(s.st)
		return nil
	}
	st, err := s.stateRepo.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore engine state: %w", err)
	}
	s.seedState(st)
	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
	return nil
}

func (s *EngineService) seedState(st *state.EngineState) {
	if st.MinConfidence < 50 || st.MinConfidence > 95 {
		st.MinConfidence = s.opts.MinConfidence
	}
	if st.Leverage <= 0 {
		st.Leverage = s.opts.Leverage
	}
	if st.PositionUSD <= 0 {
		st.PositionUSD = s.opts.PositionUSD
	}
	if len(st.EnabledSymbols) == 0 {
		st.EnabledSymbols = append([]string(nil), s.opts.Symbols...)
	}
}

// CycleReport summarizes one polling cycle for logging and tests.
type CycleReport struct {
	Symbols       int
	SetupsOpened  int
	Entries       int
	RiskRejected  int
	SymbolErrors  int
	SkippedPaused bool
}

// symbolResult carries everything computed for one symbol without touching
// engine state: the fetched series, the regime, fresh setup candidates, and
// confirmed entries for the setups that were open when the cycle started.
type symbolResult struct {
	symbol  string
	series  *domain.CandleSeries
	feats   domain.FeatureSet
	setups  []domain.Setup
	entries []entryCandidate
	err     error
}

type entryCandidate struct {
	setupKey string
	entry    domain.Entry
	risk     domain.RiskResult
}

// RunCycle executes one full polling pass over all enabled symbols.
func (s *EngineService) RunCycle(ctx context.Context) (CycleReport, error) {
	ctx, span := s.tracer.Start(ctx, "engine-service.run-cycle")
	defer span.End()

	now := time.Now().UTC()

	s.mu.Lock()
	if s.st.Paused {
		s.mu.Unlock()
		return CycleReport{SkippedPaused: true}, nil
	}
	s.st.PruneExpired(now, s.opts.SetupCooldown, s.opts.EntryCooldown)
	symbols := append([]string(nil), s.st.EnabledSymbols...)
	openBySymbol := make(map[string][]domain.Setup, len(symbols))
	for _, open := range s.st.OpenSetups {
		openBySymbol[open.Symbol] = append(openBySymbol[open.Symbol], open)
	}
	leverage := s.st.Leverage
	positionUSD := s.st.PositionUSD
	s.mu.Unlock()

	report := CycleReport{Symbols: len(symbols)}

	results := make([]symbolResult, len(symbols))
	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := s.opts.Workers
	if workers > len(symbols) {
		workers = len(symbols)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = s.analyzeSymbol(ctx, symbols[i], openBySymbol[symbols[i]], leverage, positionUSD, now)
			}
		}()
	}
	for i := range symbols {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var signals []domain.Signal
	var messages []string

	s.mu.Lock()
	minConfidence := s.st.MinConfidence
	for _, res := range results {
		if res.err != nil {
			report.SymbolErrors++
			if errors.Is(res.err, provider.ErrRateLimited) {
				log.Printf("rate limited fetching %s, skipping this cycle", res.symbol)
			} else {
				log.Printf("cycle error for %s: %v", res.symbol, res.err)
			}
			continue
		}

		for _, cand := range res.entries {
			key := cand.setupKey
			if _, open := s.st.OpenSetups[key]; !open {
				continue
			}
			if stamp, ok := s.st.EntryCooldowns[key]; ok && now.Sub(stamp) < s.opts.EntryCooldown {
				continue
			}
			if cand.entry.Confidence < minConfidence {
				continue
			}

			// The cooldown slot is spent even when risk sizing refuses the
			// trade. A key that just produced an unsizeable breakout must not
			// re-fire on the next poll.
			delete(s.st.OpenSetups, key)
			s.st.EntryCooldowns[key] = now

			if !cand.risk.OK {
				report.RiskRejected++
				log.Printf("entry %s dropped: %s", key, cand.risk.Reason)
				continue
			}

			report.Entries++
			s.st.LastSignals[res.symbol] = domain.LastSignal{
				Pair:       res.symbol,
				Direction:  cand.entry.Direction,
				Confidence: cand.entry.Confidence,
				Price:      cand.entry.Price,
				At:         now,
			}
			signals = append(signals, domain.Signal{
				Symbol:     cand.entry.Symbol,
				Interval:   s.opts.Interval,
				Kind:       domain.SignalKindEntry,
				Direction:  cand.entry.Direction,
				Price:      cand.entry.Price,
				Confidence: cand.entry.Confidence,
				StopLoss:   cand.risk.StopLoss,
				TakeProfit: cand.risk.TakeProfit,
				Timestamp:  now,
				Details:    fmt.Sprintf("mode=%s score=%.2f", cand.entry.Mode, cand.entry.SetupScore),
			})
			messages = append(messages, formatEntryMessage(cand.entry, cand.risk, leverage, positionUSD))
		}

		for _, cand := range res.setups {
			key := cand.Key()
			if _, open := s.st.OpenSetups[key]; open {
				continue
			}
			if stamp, ok := s.st.SetupCooldowns[key]; ok && now.Sub(stamp) < s.opts.SetupCooldown {
				continue
			}
			s.st.OpenSetups[key] = cand
			s.st.SetupCooldowns[key] = now
			report.SetupsOpened++
			signals = append(signals, domain.Signal{
				Symbol:    cand.Symbol,
				Interval:  s.opts.Interval,
				Kind:      domain.SignalKindSetup,
				Direction: cand.Direction,
				Price:     cand.Level,
				Timestamp: now,
				Details:   fmt.Sprintf("score=%.2f expires=%s", cand.Score, cand.ExpiresAt.Format(time.RFC3339)),
			})
			messages = append(messages, formatSetupMessage(cand))
		}
	}
	notifier := s.notifier
	s.mu.Unlock()

	s.persistCycle(ctx, results, signals)
	for _, msg := range messages {
		if notifier == nil {
			break
		}
		if err := notifier.Broadcast(ctx, msg); err != nil {
			log.Printf("notify failed: %v", err)
		}
	}
	s.saveState(ctx)

	return report, nil
}

// analyzeSymbol does all network and pure computation for one symbol. It never
// touches engine state.
func (s *EngineService) analyzeSymbol(
	ctx context.Context,
	symbol string,
	openSetups []domain.Setup,
	leverage, positionUSD float64,
	now time.Time,
) symbolResult {
	ctx, span := s.tracer.Start(ctx, "engine-service.analyze-symbol")
	defer span.End()

	res := symbolResult{symbol: symbol}

	series, err := s.fetchSeries(ctx, symbol, s.opts.Interval)
	if err != nil {
		res.err = err
		return res
	}
	res.series = series
	res.feats = feature.Extract(series)

	marketRegime, ok := s.classifier.Classify(res.feats)
	if !ok {
		// Not enough history for volatility and trend strength. Nothing to do
		// for this symbol until more candles accumulate.
		return res
	}

	var htfFeats domain.FeatureSet
	if htfSeries, err := s.fetchSeries(ctx, symbol, s.opts.HTFInterval); err == nil {
		htfFeats = feature.Extract(htfSeries)
	} else if !errors.Is(err, provider.ErrRateLimited) {
		log.Printf("higher timeframe fetch failed for %s: %v", symbol, err)
	}

	res.setups = s.generator.Generate(symbol, res.feats, htfFeats, marketRegime, now)

	live := make([]domain.Setup, 0, len(openSetups))
	for _, open := range openSetups {
		if !open.Expired(now) {
			live = append(live, open)
		}
	}
	if len(live) == 0 {
		return res
	}

	livePrice, err := s.provider.GetLivePrice(ctx, symbol)
	if err != nil {
		// Live price is best effort. Triggers evaluate against the last close
		// until the ticker endpoint recovers.
		log.Printf("live price fetch failed for %s, using last close: %v", symbol, err)
		livePrice = series.LastClose()
	}

	for _, open := range live {
		entry, ok := s.evaluator.Evaluate(open, livePrice, series, res.feats)
		if !ok {
			continue
		}
		swingHigh, swingLow := swingExtremes(series, 10)
		atr, atrOK := res.feats.Get(domain.FeatureATR)
		riskRes := risk.Evaluate(risk.Params{
			Direction:   entry.Direction,
			EntryPrice:  entry.Price,
			ATR:         atr,
			ATRDefined:  atrOK,
			SwingHigh:   swingHigh,
			SwingLow:    swingLow,
			Leverage:    int(leverage),
			PositionUSD: positionUSD,
			Tables:      s.opts.RiskTables,
		})
		res.entries = append(res.entries, entryCandidate{
			setupKey: open.Key(),
			entry:    entry,
			risk:     riskRes,
		})
	}
	return res
}

func (s *EngineService) fetchSeries(ctx context.Context, symbol, interval string) (*domain.CandleSeries, error) {
	if s.cache != nil {
		if series, ok := s.cache.Get(ctx, symbol, interval); ok {
			return series, nil
		}
	}
	series, err := s.provider.GetCandles(ctx, symbol, interval, s.opts.CandleLimit)
	if err != nil {
		return nil, fmt.Errorf("get candles for %s %s: %w", symbol, interval, err)
	}
	if s.cache != nil {
		if err := s.cache.Put(ctx, series); err != nil {
			log.Printf("candle cache write failed for %s %s: %v", symbol, interval, err)
		}
	}
	return series, nil
}

func (s *EngineService) persistCycle(ctx context.Context, results []symbolResult, signals []domain.Signal) {
	if s.signalRepo != nil && len(signals) > 0 {
		if _, err := s.signalRepo.InsertSignals(ctx, signals); err != nil {
			log.Printf("persist signals failed: %v", err)
		}
	}
	if s.candleRepo == nil {
		return
	}
	for _, res := range results {
		if res.series == nil {
			continue
		}
		if err := s.candleRepo.UpsertCandles(ctx, res.series.Candles); err != nil {
			log.Printf("persist candles failed for %s: %v", res.symbol, err)
		}
	}
}

func (s *EngineService) saveState(ctx context.Context) {
	if s.stateRepo == nil {
		return
	}
	s.mu.Lock()
	snapshot := *s.st
	s.mu.Unlock()
	if err := s.stateRepo.Save(ctx, &snapshot); err != nil {
		log.Printf("save engine state failed: %v", err)
	}
}

// Analysis is an on-demand snapshot for one symbol, produced without touching
// cooldowns or the open setup registry.
type Analysis struct {
	Symbol    string            `json:"symbol"`
	Regime    domain.Regime     `json:"regime,omitempty"`
	RegimeOK  bool              `json:"regime_ok"`
	Features  domain.FeatureSet `json:"features"`
	Setups    []domain.Setup    `json:"setups"`
	LastClose float64           `json:"last_close"`
}

// Analyze runs the read-only pipeline for one symbol. Used by the /now bot
// command and the analysis API endpoint.
func (s *EngineService) Analyze(ctx context.Context, symbol string) (*Analysis, error) {
	ctx, span := s.tracer.Start(ctx, "engine-service.analyze")
	defer span.End()

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}

	series, err := s.fetchSeries(ctx, symbol, s.opts.Interval)
	if err != nil {
		return nil, err
	}
	feats := feature.Extract(series)
	out := &Analysis{
		Symbol:    symbol,
		Features:  feats,
		LastClose: series.LastClose(),
	}
	marketRegime, ok := s.classifier.Classify(feats)
	if !ok {
		return out, nil
	}
	out.Regime = marketRegime
	out.RegimeOK = true

	var htfFeats domain.FeatureSet
	if htfSeries, err := s.fetchSeries(ctx, symbol, s.opts.HTFInterval); err == nil {
		htfFeats = feature.Extract(htfSeries)
	}
	out.Setups = s.generator.Generate(symbol, feats, htfFeats, marketRegime, time.Now().UTC())
	return out, nil
}

func (s *EngineService) ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error) {
	_, span := s.tracer.Start(ctx, "engine-service.list-signals")
	defer span.End()

	if s.signalRepo == nil {
		return nil, fmt.Errorf("signal history is not configured")
	}
	filter.Symbol = strings.ToUpper(strings.TrimSpace(filter.Symbol))
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	return s.signalRepo.ListSignals(ctx, filter)
}

// Status is the runtime snapshot shown by the bot and the API.
type Status struct {
	Paused        bool                         `json:"paused"`
	MinConfidence int                          `json:"min_confidence"`
	Leverage      float64                      `json:"leverage"`
	PositionUSD   float64                      `json:"position_usd"`
	Symbols       []string                     `json:"symbols"`
	OpenSetups    []domain.Setup               `json:"open_setups"`
	LastSignals   map[string]domain.LastSignal `json:"last_signals"`
}

func (s *EngineService) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := make([]domain.Setup, 0, len(s.st.OpenSetups))
	for _, os := range s.st.OpenSetups {
		open = append(open, os)
	}
	last := make(map[string]domain.LastSignal, len(s.st.LastSignals))
	for k, v := range s.st.LastSignals {
		last[k] = v
	}
	return Status{
		Paused:        s.st.Paused,
		MinConfidence: s.st.MinConfidence,
		Leverage:      s.st.Leverage,
		PositionUSD:   s.st.PositionUSD,
		Symbols:       append([]string(nil), s.st.EnabledSymbols...),
		OpenSetups:    open,
		LastSignals:   last,
	}
}

func (s *EngineService) Pause() {
	s.mu.Lock()
	s.st.Paused = true
	s.mu.Unlock()
}

func (s *EngineService) Resume() {
	s.mu.Lock()
	s.st.Paused = false
	s.mu.Unlock()
}

func (s *EngineService) MinConfidence() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.MinConfidence
}

func (s *EngineService) SetMinConfidence(v int) error {
	if v < 50 || v > 95 {
		return fmt.Errorf("confidence must be between 50 and 95")
	}
	s.mu.Lock()
	s.st.MinConfidence = v
	s.mu.Unlock()
	return nil
}

func swingExtremes(series *domain.CandleSeries, bars int) (high, low float64) {
	n := series.Len()
	if n == 0 {
		return 0, 0
	}
	start := n - bars
	if start < 0 {
		start = 0
	}
	high = series.Candles[start].High
	low = series.Candles[start].Low
	for _, c := range series.Candles[start:n] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	return high, low
}

func formatSetupMessage(s domain.Setup) string {
	return fmt.Sprintf(
		"👀 Setup %s %s\nLevel: %.4f\nScore: %.2f\nValid until: %s",
		s.Symbol, s.Direction, s.Level, s.Score, s.ExpiresAt.Format("15:04 UTC"),
	)
}

func formatEntryMessage(e domain.Entry, r domain.RiskResult, leverage, positionUSD float64) string {
	return fmt.Sprintf(
		"🚨 Entry %s %s\nPrice: %.4f\nSL: %.4f\nTP: %.4f\nConfidence: %d%%\nLeverage: %.0fx, position $%.0f\nRisk: $%.2f / Profit: $%.2f",
		e.Symbol, e.Direction, e.Price, r.StopLoss, r.TakeProfit, e.Confidence, leverage, positionUSD, r.RiskUSD, r.ProfitUSD,
	)
}

package bot

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"breakout-radar/internal/domain"
	"breakout-radar/internal/service"

	tele "gopkg.in/telebot.v3"
)

type Engine interface {
	Status() service.Status
	Pause()
	Resume()
	MinConfidence() int
	SetMinConfidence(v int) error
	Analyze(ctx context.Context, symbol string) (*service.Analysis, error)
	ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error)
}

// commandTimeout bounds command handlers that hit the market provider or the
// database so a stalled upstream cannot hang the bot's poller goroutine.
const commandTimeout = 15 * time.Second

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), commandTimeout)
}

const helpText = `Commands:
/status - engine state, open setups, last signals
/signals [SYMBOL] - recent signal history
/now SYMBOL - fresh analysis for one symbol
/confidence - current minimum confidence
/setconfidence N - set minimum confidence (50-95)
/pause - stop emitting signals
/resume - resume emitting signals
/alerts on|off|status - alert subscription for this chat
/ping - liveness check`

// StartTelegramBot wires the command surface and returns the alert dispatcher
// the engine broadcasts through. defaultChatID, when non-zero, is subscribed
// immediately so alerts flow without a manual /alerts on.
func StartTelegramBot(engine Engine, defaultChatID int64) *AlertDispatcher {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Println("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return nil
	}
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		log.Fatalf("failed to create Telegram bot: %v", err)
	}
	alerts := NewAlertDispatcher(b)
	if defaultChatID != 0 {
		alerts.Subscribe(defaultChatID)
	}

	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})

	b.Handle("/start", func(c tele.Context) error {
		if chat := c.Chat(); chat != nil {
			alerts.Subscribe(chat.ID)
		}
		return c.Send("Breakout radar online. Alerts enabled for this chat.\n\n" + helpText)
	})

	b.Handle("/help", func(c tele.Context) error {
		return c.Send(helpText)
	})

	b.Handle("/status", func(c tele.Context) error {
		return c.Send(formatStatus(engine.Status()))
	})

	b.Handle("/confidence", func(c tele.Context) error {
		return c.Send(fmt.Sprintf("Minimum confidence: %d%%", engine.MinConfidence()))
	})

	b.Handle("/setconfidence", func(c tele.Context) error {
		args := c.Args()
		if len(args) != 1 {
			return c.Send("Usage: /setconfidence 70")
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return c.Send("Usage: /setconfidence 70")
		}
		if err := engine.SetMinConfidence(v); err != nil {
			return c.Send(err.Error())
		}
		return c.Send(fmt.Sprintf("Minimum confidence set to %d%%", v))
	})

	b.Handle("/pause", func(c tele.Context) error {
		engine.Pause()
		return c.Send("Signal engine paused.")
	})

	b.Handle("/resume", func(c tele.Context) error {
		engine.Resume()
		return c.Send("Signal engine resumed.")
	})

	b.Handle("/now", func(c tele.Context) error {
		args := c.Args()
		if len(args) != 1 {
			return c.Send("Usage: /now BTCUSDT")
		}
		ctx, cancel := commandContext()
		defer cancel()
		analysis, err := engine.Analyze(ctx, args[0])
		if err != nil {
			return c.Send(fmt.Sprintf("Analysis failed: %v", err))
		}
		return c.Send(formatAnalysis(analysis))
	})

	b.Handle("/signals", func(c tele.Context) error {
		filter := domain.SignalFilter{Limit: 5}
		if args := c.Args(); len(args) > 0 {
			filter.Symbol = strings.ToUpper(strings.TrimSpace(args[0]))
		}
		ctx, cancel := commandContext()
		defer cancel()
		signals, err := engine.ListSignals(ctx, filter)
		if err != nil {
			return c.Send(fmt.Sprintf("Error fetching signals: %v", err))
		}
		if len(signals) == 0 {
			return c.Send("No matching signals right now.")
		}
		lines := make([]string, 0, len(signals)+1)
		lines = append(lines, "Latest signals:")
		for _, s := range signals {
			lines = append(lines, formatSignal(s))
		}
		return c.Send(strings.Join(lines, "\n"))
	})

	b.Handle("/alerts", func(c tele.Context) error {
		chat := c.Chat()
		if chat == nil {
			return c.Send("Unable to detect chat")
		}

		mode, err := parseAlertMode(c.Args())
		if err != nil {
			return c.Send("Usage: /alerts on | /alerts off | /alerts status")
		}

		switch mode {
		case "on":
			if alerts.Subscribe(chat.ID) {
				return c.Send("Alerts enabled for this chat.")
			}
			return c.Send("Alerts are already enabled for this chat.")
		case "off":
			if alerts.Unsubscribe(chat.ID) {
				return c.Send("Alerts disabled for this chat.")
			}
			return c.Send("Alerts are already disabled for this chat.")
		default:
			if alerts.IsSubscribed(chat.ID) {
				return c.Send("Alerts status: ON")
			}
			return c.Send("Alerts status: OFF")
		}
	})

	log.Println("Telegram bot started")
	go b.Start()
	return alerts
}

func formatStatus(st service.Status) string {
	var sb strings.Builder
	if st.Paused {
		sb.WriteString("Engine: PAUSED\n")
	} else {
		sb.WriteString("Engine: running\n")
	}
	fmt.Fprintf(&sb, "Min confidence: %d%%\n", st.MinConfidence)
	fmt.Fprintf(&sb, "Leverage: %.0fx, position $%.0f\n", st.Leverage, st.PositionUSD)
	fmt.Fprintf(&sb, "Symbols: %s\n", strings.Join(st.Symbols, ", "))

	if len(st.OpenSetups) == 0 {
		sb.WriteString("Open setups: none\n")
	} else {
		sb.WriteString("Open setups:\n")
		setups := append([]domain.Setup(nil), st.OpenSetups...)
		sort.Slice(setups, func(i, j int) bool { return setups[i].Key() < setups[j].Key() })
		for _, s := range setups {
			fmt.Fprintf(&sb, "  %s %s at %.4f (score %.2f)\n", s.Symbol, s.Direction, s.Level, s.Score)
		}
	}

	if len(st.LastSignals) == 0 {
		sb.WriteString("Last signals: none")
	} else {
		sb.WriteString("Last signals:\n")
		pairs := make([]string, 0, len(st.LastSignals))
		for pair := range st.LastSignals {
			pairs = append(pairs, pair)
		}
		sort.Strings(pairs)
		for _, pair := range pairs {
			ls := st.LastSignals[pair]
			fmt.Fprintf(&sb, "  %s %s %d%% at %.4f (%s)\n",
				ls.Pair, ls.Direction, ls.Confidence, ls.Price, ls.At.UTC().Format(time.RFC822))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatAnalysis(a *service.Analysis) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s at %.4f\n", a.Symbol, a.LastClose)
	if a.RegimeOK {
		fmt.Fprintf(&sb, "Regime: %s\n", a.Regime)
	} else {
		sb.WriteString("Regime: not enough history\n")
	}
	for _, key := range []string{
		domain.FeatureRSI,
		domain.FeatureADX,
		domain.FeatureATRPct,
		domain.FeatureVolRatio,
		domain.FeaturePrevHigh,
		domain.FeaturePrevLow,
	} {
		if v, ok := a.Features.Get(key); ok {
			fmt.Fprintf(&sb, "%s: %.4f\n", key, v)
		}
	}
	if len(a.Setups) == 0 {
		sb.WriteString("No setup candidates.")
	} else {
		sb.WriteString("Setup candidates:\n")
		for _, s := range a.Setups {
			fmt.Fprintf(&sb, "  %s at %.4f (score %.2f)\n", s.Direction, s.Level, s.Score)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatSignal(s domain.Signal) string {
	base := fmt.Sprintf("#%d %s %s %s %s",
		s.ID, s.Symbol, s.Interval, strings.ToUpper(string(s.Kind)), string(s.Direction))
	if s.Kind == domain.SignalKindEntry {
		base += fmt.Sprintf(" %d%% SL %.4f TP %.4f", s.Confidence, s.StopLoss, s.TakeProfit)
	}
	return base + " at " + s.Timestamp.UTC().Format(time.RFC822)
}

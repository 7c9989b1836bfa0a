package job

import (
	"context"
	"log"
	"time"

	"breakout-radar/internal/service"

	"go.opentelemetry.io/otel/trace"
)

type CycleRunner interface {
	RunCycle(ctx context.Context) (service.CycleReport, error)
}

// CyclePoller drives the signal engine on a fixed cadence. Cycles run
// sequentially; a slow cycle delays the next tick instead of overlapping it.
type CyclePoller struct {
	tracer   trace.Tracer
	engine   CycleRunner
	interval time.Duration
}

func NewCyclePoller(tracer trace.Tracer, engine CycleRunner, interval time.Duration) *CyclePoller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CyclePoller{
		tracer:   tracer,
		engine:   engine,
		interval: interval,
	}
}

// Start runs cycles until ctx is cancelled. Blocks.
func (p *CyclePoller) Start(ctx context.Context) {
	if p.engine == nil {
		log.Println("Cycle poller disabled: no engine")
		<-ctx.Done()
		return
	}

	log.Println("Cycle poller starting...")
	p.runOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Cycle poller stopped")
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *CyclePoller) runOnce(ctx context.Context) {
	ctx, span := p.tracer.Start(ctx, "cycle-poller.run-once")
	defer span.End()

	report, err := p.engine.RunCycle(ctx)
	if err != nil {
		log.Printf("cycle failed: %v", err)
		return
	}
	if report.SkippedPaused {
		return
	}
	log.Printf("cycle done: symbols=%d setups=%d entries=%d riskRejected=%d errors=%d",
		report.Symbols, report.SetupsOpened, report.Entries, report.RiskRejected, report.SymbolErrors)
}

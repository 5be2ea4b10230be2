package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jm31-art/ultraflashbot/business/opportunity/domain"
	"github.com/jm31-art/ultraflashbot/internal/apperror"
	"github.com/jm31-art/ultraflashbot/internal/journal"
	"github.com/jm31-art/ultraflashbot/internal/logger"
	"github.com/jm31-art/ultraflashbot/internal/notify"
	"github.com/jm31-art/ultraflashbot/internal/safety"
)

// CycleScanner is the scan surface the engine drives each tick.
type CycleScanner interface {
	ScanOnce(ctx context.Context) []domain.Opportunity
	Stats() Stats
}

// EngineConfig holds the control loop schedule.
type EngineConfig struct {
	Interval time.Duration

	// SummarySchedule is a six-field cron spec for operator summaries;
	// empty disables them.
	SummarySchedule string
}

// Engine owns the scan-dispatch control loop: one scan per tick, ranked
// survivors handed to the dispatcher best-first. The emergency stop is
// honored at the top of every cycle and again before each dispatch.
type Engine struct {
	config   EngineConfig
	scanner  CycleScanner
	dispatch Dispatcher
	stop     *safety.Switch
	notifier notify.Notifier
	journal  *journal.Journal
	logger   logger.LoggerInterface

	cron      *cron.Cron
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewEngine creates the control loop. Start spawns it.
func NewEngine(cfg EngineConfig, scanner CycleScanner, dispatch Dispatcher,
	stop *safety.Switch, notifier notify.Notifier, jnl *journal.Journal,
	log logger.LoggerInterface) *Engine {

	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	return &Engine{
		config:   cfg,
		scanner:  scanner,
		dispatch: dispatch,
		stop:     stop,
		notifier: notifier,
		journal:  jnl,
		logger:   log,
		done:     make(chan struct{}),
	}
}

// Start launches the scan loop and the summary schedule.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		if e.config.SummarySchedule != "" {
			c := cron.New(cron.WithSeconds())
			_, err := c.AddFunc(e.config.SummarySchedule, func() {
				e.summarize(context.Background())
			})
			if err != nil {
				e.logger.Warn(ctx, "invalid summary schedule, summaries disabled",
					"schedule", e.config.SummarySchedule, "error", err.Error())
			} else {
				c.Start()
				e.cron = c
			}
		}

		e.wg.Add(1)
		go e.loop(ctx)
	})
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-ticker.C:
			e.cycle(ctx)
		}
	}
}

func (e *Engine) cycle(ctx context.Context) {
	if e.stop.Engaged() {
		e.logger.Debug(ctx, "scan suspended by emergency stop", "reason", e.stop.Reason())
		return
	}

	opps := e.scanner.ScanOnce(ctx)
	if len(opps) == 0 {
		return
	}

	best := &opps[0]
	e.notifier.Notify(ctx, notify.Event{
		Severity: notify.SeverityInfo,
		Title:    "opportunity found",
		Body:     best.String(),
		At:       time.Now(),
	})

	for i := range opps {
		if e.stop.Engaged() {
			e.logger.Warn(ctx, "dispatch halted by emergency stop",
				"reason", e.stop.Reason(), "remaining", len(opps)-i)
			return
		}

		err := e.dispatch.Dispatch(ctx, opps[i])
		if err == nil {
			continue
		}
		switch apperror.GetCode(err) {
		case apperror.CodeConcurrencyLimit:
			// Ceiling reached; the rest of the ranking waits for the
			// next cycle.
			e.logger.Debug(ctx, "execution ceiling reached",
				"deferred", len(opps)-i)
			return
		case apperror.CodeEmergencyStop:
			return
		default:
			e.logger.Warn(ctx, "dispatch failed",
				"reference", opps[i].Reference, "error", err.Error())
		}
	}
}

func (e *Engine) summarize(ctx context.Context) {
	st := e.scanner.Stats()
	body := fmt.Sprintf("cycles %d, opportunities %d, last found %d, avg cycle %s",
		st.Cycles, st.Opportunities, st.LastFound, st.AvgDuration.Round(time.Millisecond))

	totals, err := e.journal.TotalsSince(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		e.logger.Debug(ctx, "journal totals unavailable for summary", "error", err.Error())
	} else {
		trades := totals[journal.CategoryTrade]
		settled := totals[journal.CategorySettlement]
		body += fmt.Sprintf("; 24h: %d trades ($%.2f), %d settlements ($%.2f), %d skips",
			trades.Count, trades.TotalUSD, settled.Count, settled.TotalUSD,
			totals[journal.CategorySkip].Count)
	}

	e.notifier.Notify(ctx, notify.Event{
		Severity: notify.SeverityInfo,
		Title:    "scan summary",
		Body:     body,
		At:       time.Now(),
	})
}

// Stop halts the loop and the summary schedule, waiting for the current
// cycle to finish.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
		if e.cron != nil {
			<-e.cron.Stop().Done()
		}
		e.wg.Wait()
	})
}

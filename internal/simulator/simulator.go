package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/paydeck/paydeck/internal/agent"
	"github.com/paydeck/paydeck/internal/config"
)

// Simulator ties the generator to the rotating log on a fixed cadence. A
// retry storm tick emits a whole burst at once; every other scenario emits a
// single transaction.
type Simulator struct {
	cfg    config.SimulatorConfig
	gen    *Generator
	writer *LogWriter
	logger *slog.Logger
}

// New builds a simulator from config. It ensures the baseline routing table
// exists so traffic has somewhere to route on first run.
func New(cfg config.SimulatorConfig, logger *slog.Logger) (*Simulator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tools := agent.NewToolbox(cfg.RoutingConfig, cfg.SecurityPolicy)
	if err := tools.EnsureRouting(); err != nil {
		return nil, fmt.Errorf("failed to seed routing table: %w", err)
	}

	writer, err := NewLogWriter(cfg.TransactionsLog, cfg.MaxBytes, cfg.Backups)
	if err != nil {
		return nil, err
	}

	return &Simulator{
		cfg:    cfg,
		gen:    NewGenerator(tools, logger),
		writer: writer,
		logger: logger.With("component", "simulator"),
	}, nil
}

// Run emits traffic until the context is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	watcher, err := s.gen.WatchConfig(s.cfg.RoutingConfig, s.cfg.SecurityPolicy)
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()
	defer func() { _ = s.writer.Close() }()

	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	burst := s.cfg.BurstSize
	if burst <= 0 {
		burst = 50
	}

	s.logger.Info("simulator started",
		"log", s.cfg.TransactionsLog,
		"interval", interval,
		"burst", burst,
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("simulator stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(burst)
		}
	}
}

func (s *Simulator) tick(burst int) {
	scenario := s.gen.PickScenario()
	count := 1
	if scenario == ScenarioRetryStorm {
		count = burst
	}

	emitted, dropped := 0, 0
	for range count {
		p, ok := s.gen.Generate(scenario)
		if !ok {
			dropped++
			continue
		}
		if err := s.writer.Write(p); err != nil {
			s.logger.Error("failed to write transaction", "error", err)
			return
		}
		emitted++
	}

	if dropped > 0 {
		s.logger.Info("edge policy blocked spam traffic", "scenario", scenario, "dropped", dropped)
	}
	s.logger.Debug("tick", "scenario", scenario, "emitted", emitted)
}

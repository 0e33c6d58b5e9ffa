package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kilianp07/dispense/api/runs"
	"github.com/kilianp07/dispense/config"
	"github.com/kilianp07/dispense/core/events"
	coremetrics "github.com/kilianp07/dispense/core/metrics"
	coremon "github.com/kilianp07/dispense/core/monitoring"
	"github.com/kilianp07/dispense/core/protocol"
	"github.com/kilianp07/dispense/core/robot"
	"github.com/kilianp07/dispense/core/runlog"
	"github.com/kilianp07/dispense/infra/logger"
	"github.com/kilianp07/dispense/infra/metrics"
	"github.com/kilianp07/dispense/infra/monitoring"
	"github.com/kilianp07/dispense/infra/simulator"
	"github.com/kilianp07/dispense/infra/table"
	"github.com/kilianp07/dispense/internal/eventbus"

	// Registers the MQTT robot driver.
	_ "github.com/kilianp07/dispense/infra/mqtt"
)

// Service wires the configured robot, sinks and run log around a protocol
// runner.
type Service struct {
	Runner  *protocol.Runner
	cfg     *config.Config
	robot   robot.Robot
	store   runlog.Store
	sink    coremetrics.MetricsSink
	bus     *eventbus.Bus[events.Event]
	log     logger.Logger
	monitor coremon.Monitor
}

// New creates a Service from the configuration. A dry run always uses the
// simulator so the real deck is never contacted.
func New(cfg *config.Config, dryRun bool) (*Service, error) {
	logg := logger.New("service")

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	var rob robot.Robot
	if dryRun {
		rob = simulator.New(simulator.Config{}, logger.New("simulator"))
	} else {
		rob, err = robot.NewRobot(cfg.Robot)
		if err != nil {
			return nil, fmt.Errorf("robot %s: %w", cfg.Robot.Type, err)
		}
	}

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		_ = rob.Close()
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	store, err := runlog.Open(cfg.RunLog)
	if err != nil {
		_ = rob.Close()
		return nil, fmt.Errorf("run log: %w", err)
	}

	bus := eventbus.New[events.Event]()
	runner, err := protocol.NewRunner(cfg.Protocol, cfg.Dispense, protocol.Deps{
		Robot:   rob,
		Tables:  table.NewReader(cfg.Table, logger.New("table")),
		Store:   store,
		Metrics: sink,
		Bus:     bus,
		Logger:  logger.New("runner"),
	})
	if err != nil {
		_ = rob.Close()
		_ = store.Close()
		return nil, fmt.Errorf("protocol: %w", err)
	}

	return &Service{
		Runner:  runner,
		cfg:     cfg,
		robot:   rob,
		store:   store,
		sink:    sink,
		bus:     bus,
		log:     logg,
		monitor: mon,
	}, nil
}

// Run executes the protocol once. When a server address is configured the
// metrics and run log endpoints are served for the duration of the run.
func (s *Service) Run(ctx context.Context, runID string, dryRun bool) (protocol.Summary, error) {
	defer coremon.Recover()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	collected := metrics.StartEventCollector(ctx, s.bus, logger.New("events"))

	if s.cfg.Server.Address != "" {
		go func() {
			if err := Serve(ctx, s.cfg.Server, s.store); err != nil {
				s.log.Errorf("http server: %v", err)
			}
		}()
	}

	sum, err := s.Runner.Run(ctx, runID, dryRun)
	if err != nil {
		s.log.Errorf("run %s failed: %v", sum.RunID, err)
		coremon.CaptureException(err, map[string]string{"run_id": sum.RunID, "protocol": s.cfg.Protocol.Metadata.Name})
	}
	// Give the collector a chance to drain the bus before it is canceled.
	s.bus.Close()
	<-collected
	return sum, err
}

// Serve exposes /metrics and the run log API on cfg.Address until ctx is
// canceled.
func Serve(ctx context.Context, cfg config.ServerConfig, store runlog.Store) error {
	return metrics.StartPromServer(ctx, cfg.Address, map[string]http.Handler{
		runs.Path: runs.NewHandler(store, cfg.Token),
	})
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	var errs []error
	if err := s.robot.Close(); err != nil {
		errs = append(errs, fmt.Errorf("robot: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("run log: %w", err))
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	s.monitor.Flush(2 * time.Second)
	return errors.Join(errs...)
}

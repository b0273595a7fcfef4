package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"retsync/config"
	"retsync/importer"
	"retsync/models"
	"retsync/storage"
)

// Triggerable allows workers to be triggered manually
type Triggerable interface {
	Trigger()
}

type Scheduler struct {
	cfg          *config.Config
	orchestrator *importer.Orchestrator
	store        *storage.OpsStore
	cron         *cron.Cron
	ticker       *time.Ticker
	stopCh       chan struct{}

	geocodeWorker Triggerable
}

func New(cfg *config.Config, orchestrator *importer.Orchestrator, store *storage.OpsStore) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		orchestrator: orchestrator,
		store:        store,
		cron:         cron.New(),
		stopCh:       make(chan struct{}),
	}
}

// SetWorkers registers background workers for manual triggering
func (s *Scheduler) SetWorkers(geocode Triggerable) {
	s.geocodeWorker = geocode
}

func (s *Scheduler) Start(ctx context.Context) error {
	go s.pollCommands(ctx)

	if s.cfg.Scheduler.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Scheduler.Cron)
		_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, func() {
			s.runScheduledCycle(ctx)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Scheduler.Interval > 0 {
		log.Printf("Starting scheduler with interval: %s", s.cfg.Scheduler.Interval)
		s.ticker = time.NewTicker(s.cfg.Scheduler.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.runScheduledCycle(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		log.Println("No schedule configured, daemon will only respond to commands")
	}

	return nil
}

// runScheduledCycle runs one cycle, treating an in-flight cycle as a
// skipped tick rather than an error. Ticks never stack up behind a slow
// cycle.
func (s *Scheduler) runScheduledCycle(ctx context.Context) {
	err := s.orchestrator.RunCycle(ctx)
	switch {
	case errors.Is(err, importer.ErrCycleInFlight):
		log.Println("Skipping scheduled cycle, previous one still running")
	case err != nil:
		log.Printf("Scheduled cycle error: %v", err)
	}
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cmds, err := s.store.GetPendingCommands()
			if err != nil {
				log.Printf("Error getting commands: %v", err)
				continue
			}

			for _, cmd := range cmds {
				log.Printf("Processing command: %s", cmd.Command)
				if err := s.handleCommand(ctx, &cmd); err != nil {
					log.Printf("Command error: %v", err)
				}
				if err := s.store.MarkCommandProcessed(cmd.ID); err != nil {
					log.Printf("Error marking command processed: %v", err)
				}
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	switch cmd.Command {
	case models.CmdSyncNow:
		return s.orchestrator.RunCycle(ctx)
	case models.CmdSyncProperty:
		params, err := s.store.ParseCommandParams(cmd)
		if err != nil {
			return err
		}
		class := models.PropertyClass(params.Class)
		if !class.Valid() {
			return fmt.Errorf("unknown property class %q", params.Class)
		}
		return s.orchestrator.SyncProperty(ctx, params.MLSAcct, class)
	case models.CmdSyncAgent:
		params, err := s.store.ParseCommandParams(cmd)
		if err != nil {
			return err
		}
		return s.orchestrator.SyncAgent(ctx, params.LaCode)
	case models.CmdRunGeocode:
		if s.geocodeWorker != nil {
			s.geocodeWorker.Trigger()
			log.Println("Geocode worker triggered via command")
			return nil
		}
		return s.orchestrator.RunGeocode(ctx)
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}
}

func (s *Scheduler) TriggerNow(ctx context.Context) error {
	return s.orchestrator.RunCycle(ctx)
}

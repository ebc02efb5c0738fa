package app

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/noded/internal/config"
	"github.com/dokzlo13/noded/internal/eventbus"
	"github.com/dokzlo13/noded/internal/ledger"
)

// LedgerService records bus events in the ledger and prunes old rows on a
// schedule.
type LedgerService struct {
	cfg    *config.LedgerConfig
	ledger *ledger.Ledger
	cron   *cron.Cron
}

// NewLedgerService validates the cleanup schedule and registers the job.
func NewLedgerService(cfg *config.LedgerConfig, l *ledger.Ledger) (*LedgerService, error) {
	schedule, err := parseSchedule(cfg.CleanupSchedule)
	if err != nil {
		return nil, fmt.Errorf("ledger.cleanup_schedule: %w", err)
	}

	s := &LedgerService{
		cfg:    cfg,
		ledger: l,
		cron:   cron.New(),
	}
	s.cron.Schedule(schedule, cron.FuncJob(s.cleanup))
	return s, nil
}

// Register subscribes the recorder to every event type.
func (s *LedgerService) Register(bus *eventbus.Bus) {
	bus.SubscribeAll(s.record)
}

// Start runs an initial cleanup and the cleanup schedule.
func (s *LedgerService) Start() {
	go s.cleanup()
	s.cron.Start()
}

// Stop waits for a running cleanup to finish.
func (s *LedgerService) Stop() {
	<-s.cron.Stop().Done()
}

func (s *LedgerService) record(e eventbus.Event) {
	correlationID, _ := e.Data["attempt_id"].(string)
	if err := s.ledger.AppendWithSource(ledger.EventType(e.Type), eventSource(e.Type), correlationID, e.Data); err != nil {
		log.Error().Err(err).Str("event_type", string(e.Type)).Msg("Failed to record event")
	}
}

func (s *LedgerService) cleanup() {
	if s.cfg.RetentionDays == 0 {
		return
	}
	start := time.Now()
	n, err := s.ledger.DeleteOlderThan(s.cfg.Retention())
	if err != nil {
		log.Error().Err(err).Msg("Ledger cleanup failed")
		return
	}
	log.Info().
		Int64("deleted", n).
		Int("retention_days", s.cfg.RetentionDays).
		Dur("duration", time.Since(start)).
		Msg("Ledger cleanup completed")
}

// parseSchedule accepts a cron expression or descriptor, or a duration.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	d, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if d <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return cron.Every(d), nil
}

package monitoring

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/Gt5678ax/FoxDesk-sub001/internal/services"
)

// Scheduler triggers the periodic update availability check. It only checks;
// applying an update always remains an explicit admin action.
type Scheduler struct {
	checker services.CheckerServiceProvider
	spec    string
	done    chan bool
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(checker services.CheckerServiceProvider, spec string) *Scheduler {
	return &Scheduler{
		checker: checker,
		spec:    spec,
		done:    make(chan bool),
	}
}

// Run starts the scheduling loop. It wakes every minute and fires the check
// when the cron schedule is due and checking is enabled.
func (s *Scheduler) Run() {
	schedule, err := cron.ParseStandard(s.spec)
	if err != nil {
		log.Error().Err(err).Str("spec", s.spec).Msg("Invalid check schedule, background checks disabled")
		return
	}

	log.Info().Str("spec", s.spec).Msg("Starting update check scheduler")
	next := schedule.Next(time.Now())
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			log.Info().Msg("Stopping update check scheduler")
			return
		case now := <-ticker.C:
			if now.Before(next) {
				continue
			}
			next = schedule.Next(now)
			if !s.checker.IsCheckEnabled() {
				continue
			}
			if info, err := s.checker.CheckForUpdate(false); err != nil {
				log.Warn().Err(err).Msg("Scheduled update check failed")
			} else if info != nil && !s.checker.IsDismissed(info.Version) {
				log.Info().Str("version", info.Version).Msg("Update available")
			}
		}
	}
}

// Stop halts the scheduler. Closing instead of sending means Stop returns
// even when Run already exited on an invalid schedule, or never ran.
func (s *Scheduler) Stop() {
	close(s.done)
}

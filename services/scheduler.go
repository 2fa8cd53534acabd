package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Sweeper is one periodic maintenance pass. It returns how many matches it touched.
type Sweeper func(ctx context.Context) (int, error)

// MaintenanceJobs are the sweeps run on every scheduler tick.
type MaintenanceJobs struct {
	ExpiredTurns Sweeper
	ExpiredDuels Sweeper
	StaleLobbies Sweeper
}

func NewMaintenanceJobs(turns *TurnService, duels *DuelService, lobbies *MatchmakingService) MaintenanceJobs {
	return MaintenanceJobs{
		ExpiredTurns: turns.SweepExpiredTurns,
		ExpiredDuels: duels.SweepExpiredDuels,
		StaleLobbies: lobbies.SweepStaleLobbies,
	}
}

// StartMaintenanceScheduler runs the sweeps every interval until ctx is
// cancelled. The caller shuts the returned scheduler down.
func StartMaintenanceScheduler(ctx context.Context, jobs MaintenanceJobs, clock clockwork.Clock, interval time.Duration, log *zap.Logger) (gocron.Scheduler, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	sched, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	named := []struct {
		name string
		run  Sweeper
	}{
		{"expired_turns", jobs.ExpiredTurns},
		{"expired_duels", jobs.ExpiredDuels},
		{"stale_lobbies", jobs.StaleLobbies},
	}
	for _, j := range named {
		if j.run == nil {
			continue
		}
		_, err := sched.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(runSweep, ctx, j.name, j.run, log),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = sched.Shutdown()
			return nil, fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}

	sched.Start()
	log.Info("maintenance scheduler started", zap.Duration("interval", interval))
	return sched, nil
}

func runSweep(ctx context.Context, name string, run Sweeper, log *zap.Logger) {
	if ctx.Err() != nil {
		return
	}
	n, err := run(ctx)
	if err != nil {
		log.Error("sweep failed", zap.String("job", name), zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("sweep", zap.String("job", name), zap.Int("matches", n))
	}
}

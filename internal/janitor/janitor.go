package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"dm-service/internal/observability"
	"dm-service/internal/telemetry"
)

// Sweeper removes every fully deleted message.
type Sweeper interface {
	PurgeAllFullyDeleted(ctx context.Context) (int, error)
}

// Janitor runs the sweep on a cron schedule. Request paths purge per pair;
// the sweep only catches rows left behind when such a purge failed.
type Janitor struct {
	sweeper  Sweeper
	cronExpr string
	audit    *telemetry.AuditEmitter
	log      *zap.Logger
	now      func() time.Time
}

// New validates cronExpr and builds a Janitor.
func New(sweeper Sweeper, cronExpr string, audit *telemetry.AuditEmitter, log *zap.Logger) (*Janitor, error) {
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid purge cron expression: %q", cronExpr)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Janitor{
		sweeper:  sweeper,
		cronExpr: cronExpr,
		audit:    audit,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// NextRun returns the first scheduled tick after t.
func (j *Janitor) NextRun(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(j.cronExpr, t, false)
}

// RunOnce performs a single sweep.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	n, err := j.sweeper.PurgeAllFullyDeleted(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		observability.AddMessagesPurged("sweep", n)
		uid := "janitor"
		j.audit.Emit(ctx, "INFO", fmt.Sprintf("sweep purged %d message(s)", n), "", &uid)
	}
	return n, nil
}

// Run sleeps until each scheduled tick and sweeps, until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	j.log.Info("purge janitor started", zap.String("cron", j.cronExpr))
	for {
		next, err := j.NextRun(j.now())
		if err != nil {
			j.log.Error("purge janitor next tick failed", zap.Error(err))
			next = j.now().Add(time.Minute)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			j.log.Info("purge janitor stopping")
			return
		case <-timer.C:
		}

		n, err := j.RunOnce(ctx)
		if err != nil {
			j.log.Error("purge sweep failed", zap.Error(err))
			continue
		}
		j.log.Info("purge sweep finished", zap.Int("purged", n))
	}
}

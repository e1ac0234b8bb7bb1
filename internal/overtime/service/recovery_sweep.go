package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/timeflow/timeflow-backend/internal/overtime/repository"
	"github.com/timeflow/timeflow-backend/pkg/actor"
	"github.com/timeflow/timeflow-backend/pkg/errors"
	"github.com/timeflow/timeflow-backend/pkg/logger"
	"github.com/timeflow/timeflow-backend/pkg/messaging"
	"github.com/timeflow/timeflow-backend/pkg/tenant"
)

// SweepJustification is recorded on recovery days the sweep cancels.
const SweepJustification = "automatically cancelled: recovery window ended without approval"

// SweepSummary counts what a recovery sweep did
type SweepSummary struct {
	Tenants       int `json:"tenants"`
	FailedTenants int `json:"failed_tenants"`
	Used          int `json:"used"`
	Cancelled     int `json:"cancelled"`
	Failed        int `json:"failed"`
}

// RecoverySweepJob closes recovery days whose window has ended: approved
// days become USED, pending ones are cancelled and their hours restored.
type RecoverySweepJob struct {
	recoveries *RecoveryService
	store      RecoveryStore
	tx         Transactor
	tenants    TenantLister
	events     EventPublisher
	logger     *logger.Logger
	clock
}

// NewRecoverySweepJob creates a new recovery sweep job
func NewRecoverySweepJob(d Deps, recoveries *RecoveryService) *RecoverySweepJob {
	return &RecoverySweepJob{
		recoveries: recoveries,
		store:      d.Recovery,
		tx:         d.Tx,
		tenants:    d.Tenants,
		events:     d.Events,
		logger:     componentLogger(d.Logger, "recovery_sweep"),
		clock:      newClock(d),
	}
}

// Name identifies the job in schedules and logs.
func (j *RecoverySweepJob) Name() string { return "recovery_sweep" }

// RunScheduled sweeps as of today.
func (j *RecoverySweepJob) RunScheduled(ctx context.Context) {
	j.Run(ctx)
}

// Run sweeps every active tenant. It never fails.
func (j *RecoverySweepJob) Run(ctx context.Context) SweepSummary {
	var summary SweepSummary
	today := j.today()

	tenantIDs, err := j.tenants.ListActiveTenantIDs(ctx)
	if err != nil {
		j.logger.Error().Err(err).Msg("failed to list tenants")
		return summary
	}

	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			break
		}
		summary.Tenants++
		if err := j.runTenant(ctx, tenantID, today, &summary); err != nil {
			summary.FailedTenants++
			j.logger.WithTenantID(tenantID).Error().Err(err).Msg("tenant recovery sweep failed")
		}
	}

	j.logger.Info().
		Int("tenants", summary.Tenants).
		Int("failed_tenants", summary.FailedTenants).
		Int("used", summary.Used).
		Int("cancelled", summary.Cancelled).
		Int("failed", summary.Failed).
		Msg("recovery sweep finished")

	return summary
}

func (j *RecoverySweepJob) runTenant(ctx context.Context, tenantID uuid.UUID, today time.Time, summary *SweepSummary) error {
	ctx = tenant.WithTenantID(ctx, tenantID)
	ctx = actor.WithActor(ctx, actor.SystemActor())
	log := j.logger.WithTenantID(tenantID)

	approved, err := j.store.ListEndedBefore(ctx, repository.RecoveryStatusApproved, today)
	if err != nil {
		return err
	}
	for _, d := range approved {
		if err := j.markUsed(ctx, d.ID); err != nil {
			summary.Failed++
			log.Error().Err(err).Str("recovery_day_id", d.ID.String()).Msg("failed to mark recovery day used")
			continue
		}
		summary.Used++
	}

	pending, err := j.store.ListEndedBefore(ctx, repository.RecoveryStatusPending, today)
	if err != nil {
		return err
	}
	for _, d := range pending {
		if _, err := j.recoveries.CancelConversion(ctx, d.ID, actor.SystemID, SweepJustification); err != nil {
			summary.Failed++
			log.Error().Err(err).Str("recovery_day_id", d.ID.String()).Msg("failed to cancel expired recovery day")
			continue
		}
		summary.Cancelled++
	}
	return nil
}

func (j *RecoverySweepJob) markUsed(ctx context.Context, id uuid.UUID) error {
	var day *repository.RecoveryDay
	err := j.tx.WithTenantTx(ctx, func(ctx context.Context) error {
		d, err := j.store.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if d.Status != repository.RecoveryStatusApproved {
			return errors.InvalidState("recovery_day", d.Status, repository.RecoveryStatusApproved)
		}
		d.Status = repository.RecoveryStatusUsed
		if err := j.store.Update(ctx, d); err != nil {
			return err
		}
		day = d
		return nil
	})
	if err != nil {
		return err
	}

	// Publish event
	j.events.PublishRecovery(ctx, messaging.EventRecoveryUsed, day, nil, actor.SystemID, "")
	return nil
}

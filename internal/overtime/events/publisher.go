package events

import (
	"context"

	"github.com/google/uuid"
	"github.com/timeflow/timeflow-backend/internal/overtime/repository"
	"github.com/timeflow/timeflow-backend/pkg/config"
	"github.com/timeflow/timeflow-backend/pkg/logger"
	"github.com/timeflow/timeflow-backend/pkg/messaging"
)

// Publisher is what the event publisher sends through. *messaging.Publisher
// implements it.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data any) error
}

// OvertimeEventPublisher publishes overtime ledger and recovery day events.
// Publishing is best effort: failures are logged and never roll back the
// ledger change that triggered them.
type OvertimeEventPublisher struct {
	publisher Publisher
	logger    *logger.Logger
}

// NewOvertimeEventPublisher creates a publisher on the overtime exchange
func NewOvertimeEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*OvertimeEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeOvertimeEvents, config.ServiceName, log)
	if err != nil {
		return nil, err
	}
	return NewWithPublisher(publisher, log), nil
}

// NewWithPublisher wraps an existing publisher.
func NewWithPublisher(p Publisher, log *logger.Logger) *OvertimeEventPublisher {
	return &OvertimeEventPublisher{publisher: p, logger: log}
}

// Nop returns a publisher that drops every event, used when RabbitMQ is disabled.
func Nop() *OvertimeEventPublisher {
	return &OvertimeEventPublisher{logger: logger.Nop()}
}

// PublishEntry publishes an overtime entry event of eventType
func (p *OvertimeEventPublisher) PublishEntry(ctx context.Context, eventType string, e *repository.OvertimeEntry, actorID uuid.UUID, reason string) {
	data := messaging.OvertimeEntryEvent{
		OvertimeID:     e.ID,
		EmployeeID:     e.EmployeeID,
		Date:           repository.DateArg(e.Date),
		Type:           e.Type,
		Status:         e.Status,
		RequestedHours: e.RequestedHours,
		ApprovedHours:  e.ApprovedHours,
		Source:         e.Source,
		ActorID:        actorID.String(),
		Reason:         reason,
	}
	p.publish(ctx, eventType, data, e.ID)
}

// PublishRecovery publishes a recovery day event of eventType
func (p *OvertimeEventPublisher) PublishRecovery(ctx context.Context, eventType string, d *repository.RecoveryDay, links []repository.SourceLink, actorID uuid.UUID, reason string) {
	sources := make([]uuid.UUID, 0, len(links))
	for _, l := range links {
		sources = append(sources, l.OvertimeID)
	}

	data := messaging.RecoveryDayEvent{
		RecoveryDayID:    d.ID,
		EmployeeID:       d.EmployeeID,
		StartDate:        repository.DateArg(d.StartDate),
		EndDate:          repository.DateArg(d.EndDate),
		Days:             d.Days,
		SourceHours:      d.SourceHours,
		Status:           d.Status,
		IsRegularization: d.IsRegularization,
		SourceEntryIDs:   sources,
		ActorID:          actorID.String(),
		Reason:           reason,
	}
	p.publish(ctx, eventType, data, d.ID)
}

func (p *OvertimeEventPublisher) publish(ctx context.Context, eventType string, data any, id uuid.UUID) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("event", eventType).Str("id", id.String()).Msg("failed to publish event")
	}
}

package consumers

import (
	"context"

	"github.com/google/uuid"
	"github.com/timeflow/timeflow-backend/internal/overtime/service"
	"github.com/timeflow/timeflow-backend/pkg/actor"
	"github.com/timeflow/timeflow-backend/pkg/config"
	"github.com/timeflow/timeflow-backend/pkg/errors"
	"github.com/timeflow/timeflow-backend/pkg/logger"
	"github.com/timeflow/timeflow-backend/pkg/messaging"
	"github.com/timeflow/timeflow-backend/pkg/tenant"
)

// QueueAttendance is the queue clock-out events are delivered to.
const QueueAttendance = config.ServiceName + ".attendance-events"

// Detector runs real-time overtime detection for one OUT event.
type Detector interface {
	DetectClockOut(ctx context.Context, attendanceID uuid.UUID) (service.DetectionOutcome, error)
}

// AttendanceEventConsumer turns clock-out events into overtime entries
type AttendanceEventConsumer struct {
	consumer *messaging.Consumer
	detector Detector
	logger   *logger.Logger
}

// NewAttendanceEventConsumer creates a new attendance event consumer
func NewAttendanceEventConsumer(rmq *messaging.RabbitMQ, detector Detector, log *logger.Logger) (*AttendanceEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, QueueAttendance, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeAttendanceEvents, messaging.EventAttendanceClockOut); err != nil {
		return nil, err
	}

	c := NewAttendanceHandler(detector, log)
	c.consumer = consumer

	// Register handlers
	consumer.RegisterHandler(messaging.EventAttendanceClockOut, c.HandleClockOut)

	return c, nil
}

// NewAttendanceHandler builds the handler side without a broker connection.
func NewAttendanceHandler(detector Detector, log *logger.Logger) *AttendanceEventConsumer {
	return &AttendanceEventConsumer{detector: detector, logger: log.WithComponent("attendance_consumer")}
}

// Start starts consuming messages
func (c *AttendanceEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// HandleClockOut runs detection for a clock-out. An OUT event that cannot be
// found is acknowledged; the nightly consolidation picks it up if it shows up
// later.
func (c *AttendanceEventConsumer) HandleClockOut(ctx context.Context, event *messaging.Event) error {
	var data messaging.AttendanceClockOutEvent
	if err := event.UnmarshalData(&data); err != nil {
		return errors.BadRequest("malformed clock-out payload: " + err.Error())
	}
	if data.AttendanceID == uuid.Nil {
		return errors.Validation(map[string]string{"attendance_id": "this field is required"})
	}

	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return errors.BadRequest("clock-out event without tenant")
	}
	ctx = actor.WithActor(ctx, actor.SystemActor())
	log := c.logger.WithTenantID(tenantID).WithCorrelationID(event.CorrelationID)

	out, err := c.detector.DetectClockOut(ctx, data.AttendanceID)
	if errors.Is(err, errors.ErrNotFound) {
		log.Warn().
			Str("attendance_id", data.AttendanceID.String()).
			Msg("clock-out not found, left to consolidation")
		return nil
	}
	if err != nil {
		return err
	}

	entry := log.Info()
	if out.Result != service.DetectionCreated {
		entry = log.Debug()
	}
	entry.
		Str("attendance_id", data.AttendanceID.String()).
		Str("employee_id", data.EmployeeID.String()).
		Str("result", string(out.Result)).
		Str("reason", out.Reason).
		Msg("clock-out processed")

	return nil
}

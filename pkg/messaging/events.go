package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	// Overtime ledger events
	EventOvertimeCreated  = "overtime.entry.created"
	EventOvertimeApproved = "overtime.entry.approved"
	EventOvertimeRejected = "overtime.entry.rejected"
	EventOvertimeRevoked  = "overtime.entry.revoked"
	EventOvertimeUpdated  = "overtime.entry.updated"
	EventOvertimeDeleted  = "overtime.entry.deleted"

	// Recovery day events
	EventRecoveryConverted = "overtime.recovery.converted"
	EventRecoveryApproved  = "overtime.recovery.approved"
	EventRecoveryUpdated   = "overtime.recovery.updated"
	EventRecoveryCancelled = "overtime.recovery.cancelled"
	EventRecoveryUsed      = "overtime.recovery.used"

	// Consumed from the attendance service
	EventAttendanceClockOut = "attendance.clock_out"
)

// Exchange names
const (
	ExchangeOvertimeEvents   = "overtime.events"
	ExchangeAttendanceEvents = "attendance.events"
	ExchangeDeadLetter       = "dlx.events"
)

// Event is the envelope every message travels in
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	TenantID      string          `json:"tenant_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into v
func (e *Event) UnmarshalData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// OvertimeEntryEvent is published on every overtime entry state change
type OvertimeEntryEvent struct {
	OvertimeID     uuid.UUID        `json:"overtime_id"`
	EmployeeID     uuid.UUID        `json:"employee_id"`
	Date           string           `json:"date"`
	Type           string           `json:"type"`
	Status         string           `json:"status"`
	RequestedHours decimal.Decimal  `json:"requested_hours"`
	ApprovedHours  *decimal.Decimal `json:"approved_hours,omitempty"`
	Source         string           `json:"source,omitempty"`
	ActorID        string           `json:"actor_id,omitempty"`
	Reason         string           `json:"reason,omitempty"`
}

// RecoveryDayEvent is published when a recovery day is granted, approved,
// cancelled or consumed
type RecoveryDayEvent struct {
	RecoveryDayID    uuid.UUID       `json:"recovery_day_id"`
	EmployeeID       uuid.UUID       `json:"employee_id"`
	StartDate        string          `json:"start_date"`
	EndDate          string          `json:"end_date"`
	Days             decimal.Decimal `json:"days"`
	SourceHours      decimal.Decimal `json:"source_hours"`
	Status           string          `json:"status"`
	IsRegularization bool            `json:"is_regularization,omitempty"`
	SourceEntryIDs   []uuid.UUID     `json:"source_entry_ids,omitempty"`
	ActorID          string          `json:"actor_id,omitempty"`
	Reason           string          `json:"reason,omitempty"`
}

// AttendanceClockOutEvent is consumed from the attendance service
type AttendanceClockOutEvent struct {
	AttendanceID    uuid.UUID `json:"attendance_id"`
	EmployeeID      uuid.UUID `json:"employee_id"`
	Timestamp       time.Time `json:"timestamp"`
	OvertimeMinutes int       `json:"overtime_minutes"`
}

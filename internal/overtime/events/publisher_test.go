package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timeflow/timeflow-backend/internal/overtime/events"
	"github.com/timeflow/timeflow-backend/internal/overtime/repository"
	"github.com/timeflow/timeflow-backend/pkg/logger"
	"github.com/timeflow/timeflow-backend/pkg/messaging"
	"github.com/timeflow/timeflow-backend/pkg/testutil"
)

func TestPublishEntry(t *testing.T) {
	mock := testutil.NewMockPublisher()
	p := events.NewWithPublisher(mock, logger.Nop())

	approved := decimal.RequireFromString("2.5")
	entry := &repository.OvertimeEntry{
		ID:             uuid.New(),
		EmployeeID:     uuid.New(),
		Date:           time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		RequestedHours: approved,
		ApprovedHours:  &approved,
		Type:           repository.OvertimeTypeNight,
		Status:         repository.OvertimeStatusApproved,
	}
	approver := uuid.New()

	p.PublishEntry(context.Background(), messaging.EventOvertimeApproved, entry, approver, "")

	mock.AssertEventPublished(t, messaging.EventOvertimeApproved)
	published := mock.Events()
	require.Len(t, published, 1)

	data, ok := published[0].Payload.(messaging.OvertimeEntryEvent)
	require.True(t, ok)
	assert.Equal(t, entry.ID, data.OvertimeID)
	assert.Equal(t, "2024-03-04", data.Date)
	assert.Equal(t, approver.String(), data.ActorID)
}

func TestPublishRecovery_ListsSources(t *testing.T) {
	mock := testutil.NewMockPublisher()
	p := events.NewWithPublisher(mock, logger.Nop())

	a, b := uuid.New(), uuid.New()
	day := &repository.RecoveryDay{ID: uuid.New(), Status: repository.RecoveryStatusCancelled}
	links := []repository.SourceLink{{OvertimeID: a}, {OvertimeID: b}}

	p.PublishRecovery(context.Background(), messaging.EventRecoveryCancelled, day, links, uuid.Nil, "sick")

	data := mock.Events()[0].Payload.(messaging.RecoveryDayEvent)
	assert.Equal(t, []uuid.UUID{a, b}, data.SourceEntryIDs)
	assert.Equal(t, "sick", data.Reason)
}

func TestNop_DropsEvents(t *testing.T) {
	assert.NotPanics(t, func() {
		events.Nop().PublishEntry(context.Background(), messaging.EventOvertimeCreated, &repository.OvertimeEntry{}, uuid.Nil, "")
	})
}

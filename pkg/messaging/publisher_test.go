package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timeflow/timeflow-backend/pkg/logger"
)

func TestPublish_UnencodableDataNamesTheEvent(t *testing.T) {
	p := &Publisher{exchange: ExchangeOvertimeEvents, source: "overtime-service", logger: logger.Nop()}

	err := p.Publish(context.Background(), EventRecoveryUpdated, make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to build overtime.recovery.updated event")
}

func TestCorrelationID(t *testing.T) {
	assert.Empty(t, CorrelationID(context.Background()))

	ctx := WithCorrelationID(context.Background(), "req-42")
	assert.Equal(t, "req-42", CorrelationID(ctx))
}

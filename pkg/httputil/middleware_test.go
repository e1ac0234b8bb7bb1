package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/timeflow/timeflow-backend/pkg/actor"
	"github.com/timeflow/timeflow-backend/pkg/logger"
	"github.com/timeflow/timeflow-backend/pkg/messaging"
	"github.com/timeflow/timeflow-backend/pkg/tenant"
)

func TestRequestID_PropagatesAsCorrelationID(t *testing.T) {
	var requestID, correlationID string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		requestID = GetRequestID(r.Context())
		correlationID = messaging.CorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", requestID)
	assert.Equal(t, "req-42", correlationID)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestRecoverer_ReturnsJSONError(t *testing.T) {
	h := Recoverer(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestTenantMiddleware(t *testing.T) {
	tenantA, tenantB := uuid.New(), uuid.New()

	serve := func(ctx context.Context, header string) (int, uuid.UUID) {
		var seen uuid.UUID
		h := TenantMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			seen, _ = tenant.TenantID(r.Context())
		}))
		req := httptest.NewRequest(http.MethodPost, "/", nil).WithContext(ctx)
		if header != "" {
			req.Header.Set("X-Tenant-ID", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code, seen
	}

	withActor := actor.WithActor(context.Background(), &actor.Actor{ID: uuid.New(), TenantID: tenantA})

	tests := []struct {
		name       string
		ctx        context.Context
		header     string
		wantStatus int
		wantTenant uuid.UUID
	}{
		{"header only", context.Background(), tenantA.String(), http.StatusOK, tenantA},
		{"missing", context.Background(), "", http.StatusForbidden, uuid.Nil},
		{"malformed", context.Background(), "not-a-uuid", http.StatusForbidden, uuid.Nil},
		{"token tenant", withActor, "", http.StatusOK, tenantA},
		{"matching header and token", withActor, tenantA.String(), http.StatusOK, tenantA},
		{"header contradicts token", withActor, tenantB.String(), http.StatusForbidden, uuid.Nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, seen := serve(tt.ctx, tt.header)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantTenant, seen)
		})
	}
}

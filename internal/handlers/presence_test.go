package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dm-service/internal/mocks"
	"dm-service/internal/telemetry"
)

type staticPresence []int

func (p staticPresence) Members() []int { return p }

func TestListMembers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/presence", NewPresenceHandler(staticPresence{3, 7}).ListMembers)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/presence", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"members":[3,7]}`, rec.Body.String())
}

func TestDebugRoutesDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterDebugRoutes(r, nil, false)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebugAuditRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	pub := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(pub, "audit.dm-service", "dm-service", "test", nil)

	pub.On("Publish", mock.Anything, "audit.dm-service", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.RequestID == "req-1" && env.UserID != nil && *env.UserID == "5"
	})).Return(nil).Once()

	r := gin.New()
	RegisterDebugRoutes(r, emitter, true)

	req := httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil)
	req.Header.Set("X-Request-ID", "req-1")
	req.Header.Set("X-User-ID", "5")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	pub.AssertExpectations(t)
}

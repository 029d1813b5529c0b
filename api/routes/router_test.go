package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/escrow-settlement/pkg/auth"
	"github.com/angelmondragon/escrow-settlement/pkg/config"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
	"github.com/angelmondragon/escrow-settlement/pkg/logger"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev"},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "escrow", ExpirationMinutes: 10},
	}
}

func newTestRouter(cfg *config.Config) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	return NewRouter(cfg, logg, stubPinger{}, stubPinger{}, nil, nil, nil, nil, nil, nil)
}

func bearer(t *testing.T, cfg *config.Config, role enums.ActorRole) string {
	t.Helper()
	payload := auth.AccessTokenPayload{UserID: uuid.New(), Role: role}
	if role == enums.ActorRoleSeller {
		sellerID := uuid.New()
		payload.SellerID = &sellerID
	}
	token, err := auth.MintAccessToken(cfg.JWT, time.Now(), payload)
	require.NoError(t, err)
	return "Bearer " + token
}

func do(router http.Handler, method, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestHealthRoutes(t *testing.T) {
	router := newTestRouter(testConfig())
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/health/live", "").Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/health/ready", "").Code)
}

func TestWebhooksArePublic(t *testing.T) {
	router := newTestRouter(testConfig())
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodPost, "/api/v1/webhooks/cod", "").Code)
	// reaches the handler, which reports the missing service in VNPay's format
	resp := do(router, http.MethodGet, "/api/v1/webhooks/vnpay", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"RspCode":"99"`)
}

func TestPrivateRoutesRequireToken(t *testing.T) {
	router := newTestRouter(testConfig())
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/orders"},
		{http.MethodPost, "/api/v1/checkout"},
		{http.MethodGet, "/api/v1/payments/" + uuid.NewString()},
		{http.MethodGet, "/api/v1/notifications"},
	} {
		assert.Equal(t, http.StatusUnauthorized, do(router, tc.method, tc.path, "").Code, tc.path)
	}
}

func TestRoleGates(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	orderPath := "/api/v1/orders/" + uuid.NewString()

	assert.Equal(t, http.StatusForbidden, do(router, http.MethodPost, "/api/v1/checkout", bearer(t, cfg, enums.ActorRoleSeller)).Code)
	assert.Equal(t, http.StatusForbidden, do(router, http.MethodPost, orderPath+"/confirm-received", bearer(t, cfg, enums.ActorRoleSeller)).Code)

	// nil services answer 500, which proves the request got past the gates
	assert.Equal(t, http.StatusInternalServerError, do(router, http.MethodPost, orderPath+"/confirm-received", bearer(t, cfg, enums.ActorRoleBuyer)).Code)
	assert.Equal(t, http.StatusInternalServerError, do(router, http.MethodGet, "/api/v1/orders", bearer(t, cfg, enums.ActorRoleBuyer)).Code)
}

func TestUpdateStatusRequiresSellerOrAdmin(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	path := "/api/v1/orders/" + uuid.NewString() + "/status"

	assert.Equal(t, http.StatusForbidden, do(router, http.MethodPatch, path, bearer(t, cfg, enums.ActorRoleBuyer)).Code)
	assert.Equal(t, http.StatusInternalServerError, do(router, http.MethodPatch, path, bearer(t, cfg, enums.ActorRoleAdmin)).Code)
}

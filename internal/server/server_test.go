package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	billingoperationsdomain "github.com/smallbiznis/installments/internal/billingoperations/domain"
	billingoperationsrepo "github.com/smallbiznis/installments/internal/billingoperations/repository"
	billingoperationsservice "github.com/smallbiznis/installments/internal/billingoperations/service"
	"github.com/smallbiznis/installments/internal/clock"
	"github.com/smallbiznis/installments/internal/config"
	dunningservice "github.com/smallbiznis/installments/internal/dunning/service"
	forecastdomain "github.com/smallbiznis/installments/internal/forecast/domain"
	forecastservice "github.com/smallbiznis/installments/internal/forecast/service"
	installmentdomain "github.com/smallbiznis/installments/internal/installment/domain"
	installmentrepo "github.com/smallbiznis/installments/internal/installment/repository"
	installmentservice "github.com/smallbiznis/installments/internal/installment/service"
	"github.com/smallbiznis/installments/internal/lock"
	"github.com/smallbiznis/installments/internal/migration"
	subscriptiondomain "github.com/smallbiznis/installments/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/installments/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/installments/internal/subscription/service"
	"github.com/smallbiznis/installments/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error errorPayload    `json:"error"`
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.NewTest(t.Name())
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	clk := clock.NewFakeClock(time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC))
	subs := subscriptionrepo.Provide(conn)
	installs := installmentrepo.Provide(conn)

	return NewServer(ServerParams{
		Gin: NewEngine(config.Config{Environment: "test"}, log),
		SubscriptionSvc: subscriptionservice.NewService(subscriptionservice.ServiceParam{
			Log: log, GenID: node, Clock: clk, Repo: subs,
		}),
		InstallmentSvc: installmentservice.NewService(installmentservice.ServiceParam{
			Log: log, GenID: node, Clock: clk, Repo: installs, SubscriptionRepo: subs,
		}),
		DunningSvc: dunningservice.NewService(dunningservice.Params{
			Log: log, Clock: clk, Repo: installs, Locker: lock.NewMemoryLocker(),
		}),
		BillingOperationsSvc: billingoperationsservice.NewService(billingoperationsservice.Params{
			Log: log, Clock: clk, Repo: billingoperationsrepo.NewRepository(conn),
		}),
		ForecastSvc: forecastservice.NewService(forecastservice.Params{
			Log: log, Clock: clk, SubscriptionRepo: subs, InstallmentRepo: installs,
		}),
	})
}

func do(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func createSubscription(t *testing.T, s *Server) subscriptiondomain.Subscription {
	t.Helper()
	rec, env := do(t, s, http.MethodPost, "/v1/subscriptions", map[string]any{
		"owner_id":          "trainer-1",
		"client_id":         "client-1",
		"client_name":       "Ana",
		"plan_id":           "monthly",
		"plan_name":         "Monthly",
		"price":             "45",
		"payment_frequency": "monthly",
		"start_date":        "2025-01-01T00:00:00Z",
		"expiration_date":   "2025-12-31T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sub subscriptiondomain.Subscription
	require.NoError(t, json.Unmarshal(env.Data, &sub))
	return sub
}

func generate(t *testing.T, s *Server, subscriptionID snowflake.ID, count int) []installmentdomain.Installment {
	t.Helper()
	rec, env := do(t, s, http.MethodPost, "/v1/subscriptions/"+subscriptionID.String()+"/installments", map[string]any{
		"count": count,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var items []installmentdomain.Installment
	require.NoError(t, json.Unmarshal(env.Data, &items))
	return items
}

func TestHealthAndRequestID(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(headerRequestID, "req-123")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get(headerRequestID))

	rec, _ = do(t, s, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
}

func TestSubscriptionLifecycleRoutes(t *testing.T) {
	s := newTestServer(t)
	sub := createSubscription(t, s)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "45", sub.Price.String())

	rec, env := do(t, s, http.MethodPost, "/v1/subscriptions/"+sub.ID.String()+"/resume", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", env.Error.Type)
	assert.Equal(t, "only paused subscriptions can be resumed", env.Error.Message)

	rec, _ = do(t, s, http.MethodPost, "/v1/subscriptions/"+sub.ID.String()+"/pause", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = do(t, s, http.MethodGet, "/v1/subscriptions?status=paused", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []subscriptiondomain.Subscription
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, sub.ID, listed[0].ID)

	rec, env = do(t, s, http.MethodGet, "/v1/subscriptions?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", env.Error.Type)

	rec, env = do(t, s, http.MethodPost, "/v1/subscriptions/"+sub.ID.String()+"/cancel", map[string]any{"reason": "moved away"})
	require.Equal(t, http.StatusOK, rec.Code)
	var cancelled subscriptiondomain.Subscription
	require.NoError(t, json.Unmarshal(env.Data, &cancelled))
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancellationReason)
	assert.Equal(t, "moved away", *cancelled.CancellationReason)
}

func TestCreateSubscriptionValidation(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/subscriptions", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "validation_error", env.Error.Type)
	require.Len(t, env.Error.Errors, 1)
	assert.Equal(t, "invalid_request", env.Error.Errors[0].Code)

	rec, env = do(t, s, http.MethodPost, "/v1/subscriptions", map[string]any{"client_id": "client-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", env.Error.Type)
	assert.Equal(t, "owner_id is required", env.Error.Message)
}

func TestUnknownSubscriptionIsNotFound(t *testing.T) {
	s := newTestServer(t)

	rec, env := do(t, s, http.MethodGet, "/v1/subscriptions/12345", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Type)
}

func TestInstallmentRoutes(t *testing.T) {
	s := newTestServer(t)
	sub := createSubscription(t, s)
	items := generate(t, s, sub.ID, 3)
	require.Len(t, items, 3)
	assert.Equal(t, "2025-01-01", items[0].DueDate.Format(time.DateOnly))

	rec, env := do(t, s, http.MethodGet, "/v1/subscriptions/"+sub.ID.String()+"/installments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var views []installmentdomain.View
	require.NoError(t, json.Unmarshal(env.Data, &views))
	require.Len(t, views, 3)
	assert.Equal(t, installmentdomain.StatusOverdue, views[0].EffectiveStatus)
	assert.Equal(t, installmentdomain.StatusPending, views[1].EffectiveStatus)

	rec, env = do(t, s, http.MethodGet, "/v1/installments/overdue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &views))
	assert.Len(t, views, 1)

	rec, env = do(t, s, http.MethodGet, "/v1/installments?client_id=client-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &views))
	assert.Len(t, views, 3)

	rec, env = do(t, s, http.MethodGet, "/v1/installments", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", env.Error.Type)

	rec, env = do(t, s, http.MethodPost, "/v1/subscriptions/"+sub.ID.String()+"/installments", map[string]any{"count": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", env.Error.Type)
}

func TestLegacyFieldNames(t *testing.T) {
	s := newTestServer(t)
	sub := createSubscription(t, s)
	items := generate(t, s, sub.ID, 1)

	rec, _ := do(t, s, http.MethodPost, "/v1/installments/"+items[0].ID.String()+"/pay", map[string]any{"payment_method": "card"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env := do(t, s, http.MethodGet, "/v1/installments/"+items[0].ID.String()+"?legacy=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var legacy map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &legacy))
	assert.Equal(t, "45", legacy["monto"])
	assert.Equal(t, "45", legacy["importe"])
	assert.Equal(t, "45", legacy["amount"])
	assert.NotNil(t, legacy["fechaPago"])
	assert.Equal(t, legacy["payment_date"], legacy["fechaPagoOpcional"])

	rec, env = do(t, s, http.MethodGet, "/v1/installments/"+items[0].ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var canonical map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &canonical))
	assert.NotContains(t, canonical, "monto")
	assert.NotContains(t, canonical, "fechaPago")
}

func TestPaymentRoutes(t *testing.T) {
	s := newTestServer(t)
	sub := createSubscription(t, s)
	items := generate(t, s, sub.ID, 2)
	first := items[0].ID.String()

	rec, env := do(t, s, http.MethodPost, "/v1/installments/"+first+"/pay", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", env.Error.Type)

	rec, env = do(t, s, http.MethodPost, "/v1/installments/"+first+"/fail", map[string]any{"reason": "card declined"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var failed installmentdomain.Installment
	require.NoError(t, json.Unmarshal(env.Data, &failed))
	assert.Equal(t, installmentdomain.StatusFailed, failed.Status)

	rec, env = do(t, s, http.MethodPost, "/v1/installments/"+first+"/failed-payment-actions", map[string]any{"action": "shout"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", env.Error.Type)

	rec, env = do(t, s, http.MethodPost, "/v1/installments/"+first+"/failed-payment-actions", map[string]any{
		"action": "contact_client",
		"note":   "left a voicemail",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var contacted installmentdomain.Installment
	require.NoError(t, json.Unmarshal(env.Data, &contacted))
	assert.Contains(t, contacted.Notes, "left a voicemail")

	rec, _ = do(t, s, http.MethodPost, "/v1/installments/"+first+"/irrecoverable", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = do(t, s, http.MethodPost, "/v1/installments/"+first+"/schedule-retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", env.Error.Type)

	rec, _ = do(t, s, http.MethodPost, "/v1/installments/"+first+"/pay", map[string]any{"payment_method": "transfer"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = do(t, s, http.MethodPost, "/v1/installments/"+first+"/fail", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", env.Error.Type)
}

func TestListFailedPaymentsRoute(t *testing.T) {
	s := newTestServer(t)
	sub := createSubscription(t, s)
	items := generate(t, s, sub.ID, 2)

	rec, _ := do(t, s, http.MethodPost, "/v1/installments/"+items[0].ID.String()+"/fail", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env := do(t, s, http.MethodGet, "/v1/failed-payments?owner_id=trainer-1&sort_by=attempts_desc", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rows []billingoperationsdomain.FailedPayment
	require.NoError(t, json.Unmarshal(env.Data, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, items[0].ID, rows[0].ID)
	assert.Equal(t, "monthly", rows[0].PlanID)

	rec, env = do(t, s, http.MethodGet, "/v1/failed-payments?min_age_days=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", env.Error.Type)

	rec, env = do(t, s, http.MethodGet, "/v1/failed-payments?min_age_days=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", env.Error.Type)

	rec, env = do(t, s, http.MethodGet, "/v1/failed-payments?sort_by=amount", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", env.Error.Type)
}

func TestForecastRoutes(t *testing.T) {
	s := newTestServer(t)
	createSubscription(t, s)

	rec, env := do(t, s, http.MethodGet, "/v1/forecast/report?owner_id=trainer-1&projection_months=3", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report forecastdomain.Report
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Len(t, report.Projections, 3)

	rec, env = do(t, s, http.MethodGet, "/v1/forecast/report?projection_months=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", env.Error.Type)

	rec, env = do(t, s, http.MethodPost, "/v1/forecast/scenarios", map[string]any{
		"owner_id":             "trainer-1",
		"expected_churn_rate":  5,
		"expected_growth_rate": 2,
		"projection_months":    6,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var scenarios []forecastdomain.ScenarioProjection
	require.NoError(t, json.Unmarshal(env.Data, &scenarios))
	assert.Len(t, scenarios, 3)

	rec, env = do(t, s, http.MethodPost, "/v1/forecast/scenarios", map[string]any{"expected_churn_rate": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", env.Error.Type)
	assert.Equal(t, "expected_churn_rate cannot be negative", env.Error.Message)

	rec, env = do(t, s, http.MethodGet, "/v1/forecast/report?projection_months=1099511627776", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", env.Error.Type)
	assert.Equal(t, "projection_months cannot exceed 120", env.Error.Message)

	rec, env = do(t, s, http.MethodPost, "/v1/forecast/scenarios", map[string]any{"projection_months": 1 << 40})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", env.Error.Type)
}

func TestMapErrorHidesInternalDetails(t *testing.T) {
	status, payload := mapError(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", payload.Type)
	assert.Equal(t, "internal server error", payload.Message)
}

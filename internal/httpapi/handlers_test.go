package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftledger/backend/internal/domain"
	"shiftledger/backend/internal/service"
	"shiftledger/backend/internal/store/memory"
)

const testManagerPIN = "739154"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) (*API, *memory.Store) {
	t.Helper()

	repo := memory.New()
	svc := service.New(repo, service.Options{DefaultCompanyID: "acme", DefaultBranchID: "downtown"})
	auth := NewAuthManager("test-secret-key-0123456789abcdef", time.Hour, testManagerPIN)
	return New(svc, auth, "*").WithContentionRetries(3), repo
}

func tokenFor(t *testing.T, api *API, username, role string) string {
	t.Helper()
	resp, err := api.auth.IssueToken(domain.Actor{Username: username, Role: role})
	require.NoError(t, err)
	return resp.AccessToken
}

func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body["csrf_token"]
}

type client struct {
	t       *testing.T
	handler http.Handler
	token   string
	csrf    string
}

func newClient(t *testing.T, api *API, role string) *client {
	return &client{t: t, handler: api.Handler(), token: tokenFor(t, api, "alice", role), csrf: fetchCSRFToken(t, api)}
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-CSRF-Token", c.csrf)
	req.RemoteAddr = "10.0.0.7:4000"
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func decodeInto[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

func openTestShift(t *testing.T, c *client) domain.ShiftSession {
	t.Helper()
	rec := c.do(http.MethodPost, "/api/v1/shifts/open", domain.OpenShiftRequest{
		RegisterID:  "reg-1",
		EmployeeID:  "emp-1",
		OpeningCash: []domain.Denomination{{Kind: domain.DenominationBill, FaceValue: decimal.NewFromInt(100), Count: 5}},
		AccountBalances: []domain.OpeningAccountBalance{
			{AccountID: "bank-a", AccountType: domain.AccountTypeBank, ExpectedBalance: decimal.NewFromInt(100), ActualBalance: decimal.NewFromInt(100)},
			{AccountID: "wallet-b", AccountType: domain.AccountTypeDigitalWallet},
		},
		LinkedAccounts: []string{"bank-a", "wallet-b"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeInto[domain.ShiftResponse](t, rec).Shift
}

func TestHandleHealth(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeInto[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
}

func TestShiftLifecycleOverHTTP(t *testing.T) {
	api, _ := newTestAPI(t)
	c := newClient(t, api, "cashier")
	shift := openTestShift(t, c)
	base := "/api/v1/shifts/" + shift.ID

	rec := c.do(http.MethodPost, base+"/transactions", map[string]any{"type": "sale", "total_amount": "200"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sale := decodeInto[domain.TransactionResponse](t, rec)
	assert.Equal(t, "alice", sale.Transaction.PerformedBy)

	rec = c.do(http.MethodPost, base+"/cash-drops", map[string]any{"amount": "150", "safe_id": "safe-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = c.do(http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	current := decodeInto[domain.ShiftSession](t, rec)
	assert.True(t, current.NetCashFlow.Equal(decimal.NewFromInt(550)))

	rec = c.do(http.MethodGet, "/api/v1/shifts/active?register_id=reg-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, shift.ID, decodeInto[domain.ShiftSession](t, rec).ID)

	rec = c.do(http.MethodPost, base+"/close-preview", map[string]any{
		"closing_cash": []map[string]any{{"kind": "bill", "face_value": "50", "count": 11}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decodeInto[domain.ClosePreviewResponse](t, rec)
	assert.Equal(t, domain.VarianceExact, preview.Reconciliation.Cash.Category)

	rec = c.do(http.MethodPost, base+"/close", map[string]any{
		"closing_cash": []map[string]any{{"kind": "bill", "face_value": "50", "count": 10}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decodeInto[domain.ShiftResponse](t, rec).Shift
	assert.Equal(t, domain.VarianceShort, closed.VarianceCategory)
	assert.True(t, closed.RequiresReview)

	rec = c.do(http.MethodGet, base+"/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeInto[domain.ShiftReport](t, rec)
	assert.True(t, report.ConservationHeld)
	require.NotNil(t, report.Reconciliation)
}

func TestErrorKindsMapToStatuses(t *testing.T) {
	api, _ := newTestAPI(t)
	c := newClient(t, api, "cashier")
	shift := openTestShift(t, c)
	base := "/api/v1/shifts/" + shift.ID

	rec := c.do(http.MethodPost, "/api/v1/shifts/open", domain.OpenShiftRequest{RegisterID: "reg-1", EmployeeID: "emp-9"})
	assert.Equal(t, http.StatusConflict, rec.Code, "register busy")

	rec = c.do(http.MethodGet, "/api/v1/shifts/shift-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = c.do(http.MethodPost, base+"/transactions", map[string]any{"type": "sale", "total_amount": "0"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = c.do(http.MethodPost, base+"/transfers", map[string]any{"from_account_id": "wallet-b", "to_account_id": "bank-a", "amount": "5"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = c.do(http.MethodPost, base+"/transactions", map[string]any{"type": "sale", "total_amount": "1", "unexpected": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")

	rec = c.do(http.MethodPost, base+"/suspend", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = c.do(http.MethodPost, base+"/cash-drops", map[string]any{"amount": "1"})
	assert.Equal(t, http.StatusConflict, rec.Code, "suspended shift")
	rec = c.do(http.MethodPost, base+"/resume", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = c.do(http.MethodPost, base+"/nonsense", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestContentionIsRetriedThenReported(t *testing.T) {
	api, repo := newTestAPI(t)
	c := newClient(t, api, "cashier")
	shift := openTestShift(t, c)
	path := "/api/v1/shifts/" + shift.ID + "/transactions"

	repo.InjectContention(2)
	rec := c.do(http.MethodPost, path, map[string]any{"type": "sale", "total_amount": "10"})
	require.Equal(t, http.StatusOK, rec.Code, "third attempt succeeds")

	repo.InjectContention(3)
	rec = c.do(http.MethodPost, path, map[string]any{"type": "sale", "total_amount": "10"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = c.do(http.MethodGet, "/api/v1/shifts/"+shift.ID, nil)
	current := decodeInto[domain.ShiftSession](t, rec)
	assert.True(t, current.TotalSales.Equal(decimal.NewFromInt(10)))
}

func TestIdempotencyKeyHeader(t *testing.T) {
	api, _ := newTestAPI(t)
	c := newClient(t, api, "cashier")
	shift := openTestShift(t, c)
	path := "/api/v1/shifts/" + shift.ID + "/transactions"

	send := func() domain.TransactionResponse {
		raw, _ := json.Marshal(map[string]any{"type": "sale", "total_amount": "12.50"})
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("X-CSRF-Token", c.csrf)
		req.Header.Set("Idempotency-Key", "pos-7-000123")
		rec := httptest.NewRecorder()
		c.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decodeInto[domain.TransactionResponse](t, rec)
	}

	first := send()
	second := send()
	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
}

func TestVoidRequiresManagerPIN(t *testing.T) {
	api, _ := newTestAPI(t)
	c := newClient(t, api, "cashier")
	shift := openTestShift(t, c)

	rec := c.do(http.MethodPost, "/api/v1/shifts/"+shift.ID+"/transactions", map[string]any{"type": "sale", "total_amount": "40"})
	require.Equal(t, http.StatusOK, rec.Code)
	tx := decodeInto[domain.TransactionResponse](t, rec).Transaction
	voidPath := "/api/v1/transactions/" + tx.ID + "/void"

	rec = c.do(http.MethodPost, voidPath, map[string]any{"reason": "mis-scan", "manager_pin": "000000"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = c.do(http.MethodPost, voidPath, map[string]any{"reason": "mis-scan", "manager_pin": testManagerPIN})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	voided := decodeInto[domain.TransactionResponse](t, rec).Transaction
	assert.True(t, voided.IsVoided)
	assert.Equal(t, "manager_pin", voided.VoidApprovedBy)

	rec = c.do(http.MethodPost, voidPath, map[string]any{"reason": "again", "manager_pin": testManagerPIN})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = c.do(http.MethodPost, "/api/v1/transactions/tx-missing/void", map[string]any{"manager_pin": testManagerPIN})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCloseWithApproverRequiresPIN(t *testing.T) {
	api, _ := newTestAPI(t)
	c := newClient(t, api, "cashier")
	shift := openTestShift(t, c)
	path := "/api/v1/shifts/" + shift.ID + "/close"

	rec := c.do(http.MethodPost, path, map[string]any{"approved_by": "mgr", "manager_pin": "111111"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = c.do(http.MethodPost, path, map[string]any{"approved_by": "mgr", "manager_pin": testManagerPIN})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "mgr", decodeInto[domain.ShiftResponse](t, rec).Shift.ApprovedBy)
}

func TestReviewAndAuditLogsNeedManagerRole(t *testing.T) {
	api, _ := newTestAPI(t)
	cashier := newClient(t, api, "cashier")
	manager := newClient(t, api, "manager")
	shift := openTestShift(t, cashier)
	base := "/api/v1/shifts/" + shift.ID

	rec := cashier.do(http.MethodPost, base+"/close", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = cashier.do(http.MethodPost, base+"/review", map[string]any{"notes": "ok"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = cashier.do(http.MethodGet, base+"/audit-logs", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = manager.do(http.MethodPost, base+"/review", map[string]any{"notes": "counted twice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "alice", decodeInto[domain.ShiftResponse](t, rec).Shift.ReviewedBy)

	rec = manager.do(http.MethodGet, base+"/audit-logs?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decodeInto[struct {
		Items []domain.AuditLog `json:"items"`
	}](t, rec)
	assert.Len(t, logs.Items, 2)
}

func TestShiftEventsStream(t *testing.T) {
	api, _ := newTestAPI(t)
	c := newClient(t, api, "cashier")
	shift := openTestShift(t, c)

	server := httptest.NewServer(api.Handler())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/shifts/"+shift.ID+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, ": subscribed"))

	rec := c.do(http.MethodPost, "/api/v1/shifts/"+shift.ID+"/transactions", map[string]any{"type": "sale", "total_amount": "9"})
	require.Equal(t, http.StatusOK, rec.Code)

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: ") {
			assert.Equal(t, "event: transaction_create\n", line)
			break
		}
	}
	data, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(data, "data: "))

	var event domain.ShiftEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(data, "data: ")), &event))
	assert.Equal(t, shift.ID, event.ShiftID)
	assert.True(t, event.Shift.TotalSales.Equal(decimal.NewFromInt(9)))
}

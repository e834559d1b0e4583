package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/data/memory"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

type testServer struct {
	store *memory.Store
	srv   *http.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore()
	logger := log.NewStdLogger(io.Discard)
	cfg := biz.DefaultCreditConfig()
	clock := biz.ClockFunc(func() time.Time { return testNow })
	calendar := biz.NewCalendar(cfg)
	locker := biz.NewLocalUserLocker()
	notifier := biz.NewLedgerNotifier(nil, nil, logger)

	uc := biz.NewCreditUseCase(
		biz.NewConsumptionUseCase(store, store, store, store, locker, clock, calendar, cfg, notifier, logger),
		biz.NewBalanceUseCase(store, nil, clock, cfg, logger),
		biz.NewExpiryUseCase(store, store, locker, clock, cfg, notifier, logger),
		biz.NewBonusUseCase(store, store, store, locker, clock, cfg, notifier, logger),
		biz.NewGrantUseCase(store, store, store, locker, clock, notifier, logger),
		biz.NewUsageUseCase(store, clock, calendar, logger),
		biz.NewProfileUseCase(store, cfg, logger),
		logger,
	)

	srv := http.NewServer(http.Middleware(recovery.Recovery()))
	RegisterCreditHTTPServer(srv, NewCreditService(uc, logger))
	return &testServer{store: store, srv: srv}
}

func (s *testServer) grant(id, userID string, remaining int64, expiresIn time.Duration) {
	g := &biz.CreditGrant{
		ID:        id,
		UserID:    userID,
		Amount:    remaining,
		Remaining: remaining,
		Type:      biz.GrantTypePurchase,
		CreatedAt: testNow.Add(-time.Hour),
	}
	if expiresIn != 0 {
		at := testNow.Add(expiresIn)
		g.ExpiresAt = &at
	}
	s.store.PutGrant(g)
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.srv.ServeHTTP(rec, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestConsumeCredits_Envelope(t *testing.T) {
	s := newTestServer(t)
	s.store.PutProfile(&biz.UserCreditProfile{UserID: "u1", DailyLimit: 100})
	s.grant("a", "u1", 50, 30*24*time.Hour)
	s.grant("b", "u1", 50, 90*24*time.Hour)

	code, out := s.do(t, stdhttp.MethodPost, "/v1/credits/consume", ConsumeRequest{UserID: "u1", Amount: 75})
	require.Equal(t, 200, code)
	require.Equal(t, true, out["success"])
	require.Equal(t, float64(75), out["consumed"])
	require.Equal(t, float64(75), out["newDailyTotal"])
	txs := out["transactions"].([]interface{})
	require.Len(t, txs, 2)
	require.Equal(t, "a", txs[0].(map[string]interface{})["transactionId"])
	require.Equal(t, float64(50), txs[0].(map[string]interface{})["amountUsed"])
}

func TestConsumeCredits_BusinessFailures(t *testing.T) {
	s := newTestServer(t)
	s.store.PutProfile(&biz.UserCreditProfile{UserID: "u1", DailyLimit: 100})
	s.grant("a", "u1", 20, 0)

	code, out := s.do(t, stdhttp.MethodPost, "/v1/credits/consume", ConsumeRequest{UserID: "u1", Amount: 50})
	require.Equal(t, stdhttp.StatusConflict, code)
	require.Equal(t, false, out["success"])
	require.Equal(t, "INSUFFICIENT_CREDITS", out["error"])
	require.Equal(t, float64(20), out["available"])
	require.Equal(t, float64(50), out["requested"])

	s.store.PutDailyUsage("u1", "2026-03-10", 90)
	code, out = s.do(t, stdhttp.MethodPost, "/v1/credits/consume", ConsumeRequest{UserID: "u1", Amount: 15})
	require.Equal(t, stdhttp.StatusTooManyRequests, code)
	require.Equal(t, "DAILY_LIMIT_EXCEEDED", out["error"])
	require.Equal(t, float64(10), out["dailyRemaining"])

	code, out = s.do(t, stdhttp.MethodPost, "/v1/credits/consume", ConsumeRequest{UserID: "ghost", Amount: 1})
	require.Equal(t, stdhttp.StatusNotFound, code)
	require.Equal(t, "USER_NOT_FOUND", out["error"])

	code, out = s.do(t, stdhttp.MethodPost, "/v1/credits/consume", ConsumeRequest{UserID: "u1", Amount: 0})
	require.Equal(t, stdhttp.StatusBadRequest, code)
	require.Equal(t, "INVALID_ARGUMENT", out["error"])
}

func TestConsumeCredits_DatabaseErrorHidesCause(t *testing.T) {
	s := newTestServer(t)
	s.store.PutProfile(&biz.UserCreditProfile{UserID: "u1", DailyLimit: 100})
	s.grant("a", "u1", 20, 0)
	s.store.FailOn("Commit", errors.New("disk full"))

	code, out := s.do(t, stdhttp.MethodPost, "/v1/credits/consume", ConsumeRequest{UserID: "u1", Amount: 5})
	require.Equal(t, stdhttp.StatusInternalServerError, code)
	require.Equal(t, "DATABASE_ERROR", out["error"])
	require.NotContains(t, out["message"], "disk full")
}

func TestBalanceAndDailyLimit(t *testing.T) {
	s := newTestServer(t)
	s.store.PutProfile(&biz.UserCreditProfile{UserID: "u1", DailyLimit: 100})
	s.grant("soon", "u1", 30, 2*24*time.Hour)
	s.grant("later", "u1", 70, 60*24*time.Hour)
	s.store.PutDailyUsage("u1", "2026-03-10", 80)

	code, out := s.do(t, stdhttp.MethodGet, "/v1/users/u1/credits", nil)
	require.Equal(t, 200, code)
	require.Equal(t, float64(100), out["totalValid"])
	require.Len(t, out["expiringCredits"], 1)

	code, out = s.do(t, stdhttp.MethodGet, "/v1/users/u1/daily-limit?amount=30", nil)
	require.Equal(t, 200, code)
	require.Equal(t, false, out["canConsume"])
	require.Equal(t, float64(20), out["dailyRemaining"])

	code, out = s.do(t, stdhttp.MethodGet, "/v1/users/u1/daily-limit?amount=abc", nil)
	require.Equal(t, stdhttp.StatusBadRequest, code)
	require.Equal(t, "INVALID_ARGUMENT", out["error"])

	// 额度已用完时，缺省或非正数的 amount 不能报告 canConsume
	s.store.PutDailyUsage("u1", "2026-03-10", 100)
	for _, path := range []string{"/v1/users/u1/daily-limit", "/v1/users/u1/daily-limit?amount=0", "/v1/users/u1/daily-limit?amount=-3"} {
		code, out = s.do(t, stdhttp.MethodGet, path, nil)
		require.Equal(t, stdhttp.StatusBadRequest, code, path)
		require.Equal(t, "INVALID_ARGUMENT", out["error"], path)
		require.NotContains(t, out, "canConsume", path)
	}
}

func TestSignupBonus(t *testing.T) {
	s := newTestServer(t)
	s.store.PutProfile(&biz.UserCreditProfile{UserID: "u1", DailyLimit: 100})

	code, out := s.do(t, stdhttp.MethodPost, "/v1/users/u1/signup-bonus", nil)
	require.Equal(t, 200, code)
	require.Equal(t, float64(100), out["amount"])
	require.Equal(t, true, out["bonusClaimed"])

	code, out = s.do(t, stdhttp.MethodPost, "/v1/users/u1/signup-bonus", nil)
	require.Equal(t, stdhttp.StatusConflict, code)
	require.Equal(t, "BONUS_ALREADY_CLAIMED", out["error"])
}

func TestInternalGrantAdjustAndProfile(t *testing.T) {
	s := newTestServer(t)

	code, out := s.do(t, stdhttp.MethodGet, "/internal/v1/users/u1/profile", nil)
	require.Equal(t, stdhttp.StatusNotFound, code)
	require.Equal(t, "USER_NOT_FOUND", out["error"])

	code, out = s.do(t, stdhttp.MethodPut, "/internal/v1/users/u1/profile", ProfileRequest{DailyLimit: 50})
	require.Equal(t, 200, code)
	require.Equal(t, float64(50), out["dailyLimit"])
	require.Equal(t, false, out["signupBonusClaimed"])

	req := AddCreditsRequest{RequestID: "order-1", UserID: "u1", Amount: 40, Type: "purchase"}
	code, out = s.do(t, stdhttp.MethodPost, "/internal/v1/credits/grant", req)
	require.Equal(t, 200, code)
	first := out["transactionId"]
	require.Equal(t, biz.GrantIDFromRequest("order-1"), first)

	code, out = s.do(t, stdhttp.MethodPost, "/internal/v1/credits/grant", req)
	require.Equal(t, 200, code)
	require.Equal(t, first, out["transactionId"])
	require.Equal(t, true, out["duplicate"])

	code, out = s.do(t, stdhttp.MethodPost, "/internal/v1/credits/adjust", AdjustRequest{UserID: "u1", Delta: -15})
	require.Equal(t, 200, code)
	require.Len(t, out["transactions"], 1)

	code, out = s.do(t, stdhttp.MethodGet, "/v1/users/u1/credits", nil)
	require.Equal(t, 200, code)
	require.Equal(t, float64(25), out["totalValid"])

	code, out = s.do(t, stdhttp.MethodGet, "/v1/users/u1/grants?page=1&page_size=10", nil)
	require.Equal(t, 200, code)
	require.Equal(t, float64(1), out["total"])

	code, out = s.do(t, stdhttp.MethodGet, "/v1/users/u1/usage?days=3", nil)
	require.Equal(t, 200, code)
	require.Len(t, out["usage"], 3)

	code, out = s.do(t, stdhttp.MethodPost, "/v1/users/u1/signup-bonus", nil)
	require.Equal(t, 200, code)
	code, out = s.do(t, stdhttp.MethodGet, "/internal/v1/users/u1/profile", nil)
	require.Equal(t, 200, code)
	require.Equal(t, "u1", out["userId"])
	require.Equal(t, float64(50), out["dailyLimit"])
	require.Equal(t, true, out["signupBonusClaimed"])
}

func TestAddCredits_GrantTypeCaseInsensitive(t *testing.T) {
	s := newTestServer(t)
	s.store.PutProfile(&biz.UserCreditProfile{UserID: "u1", DailyLimit: 100})

	code, out := s.do(t, stdhttp.MethodPost, "/internal/v1/credits/grant", AddCreditsRequest{UserID: "u1", Amount: 40, Type: "Purchase"})
	require.Equal(t, 200, code)
	require.Equal(t, "purchase", out["type"])

	code, out = s.do(t, stdhttp.MethodPost, "/internal/v1/credits/grant", AddCreditsRequest{UserID: "u1", Amount: 40, Type: "gift"})
	require.Equal(t, stdhttp.StatusBadRequest, code)
	require.Equal(t, "INVALID_ARGUMENT", out["error"])
}

func TestCleanupAndExpired(t *testing.T) {
	s := newTestServer(t)
	s.grant("old", "u1", 70, -time.Hour)

	code, out := s.do(t, stdhttp.MethodGet, "/internal/v1/credits/expired", nil)
	require.Equal(t, 200, code)
	require.Len(t, out["credits"], 1)

	code, out = s.do(t, stdhttp.MethodPost, "/internal/v1/credits/cleanup", nil)
	require.Equal(t, 200, code)
	require.Equal(t, float64(1), out["cleanedCount"])
	require.Equal(t, float64(70), out["freedSpace"])

	code, out = s.do(t, stdhttp.MethodGet, "/internal/v1/credits/expired", nil)
	require.Equal(t, 200, code)
	require.Len(t, out["credits"], 0)
}

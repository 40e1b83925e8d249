package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/greatescape/api/internal/fixtures"
	"github.com/greatescape/api/internal/middleware"
	"github.com/greatescape/api/internal/model"
	"github.com/greatescape/api/internal/payment"
	"github.com/greatescape/api/internal/repository"
	"github.com/greatescape/api/internal/service"
)

type stubService struct {
	registerUser *model.User
	registerErr  error

	authUser *model.User
	authErr  error

	profileUser *model.User
	profileErr  error

	magicUser      *model.User
	magicVerifyErr error

	isAdmin    bool
	isAdminErr error

	order    *payment.Order
	orderErr error

	purchaseOut *service.PurchaseOutcome
	purchaseErr error

	referralSummary *service.ReferralSummary

	pool    *model.Pool
	poolErr error

	updatedPick   *model.Pick
	updatePickErr error

	batchOK     int
	batchFailed int

	pendingPicks []repository.PendingPick
	standings    *repository.PoolStandings
}

func (s *stubService) Register(ctx context.Context, p service.RegisterParams) (*model.User, error) {
	return s.registerUser, s.registerErr
}

func (s *stubService) Authenticate(ctx context.Context, email, password, ip string) (*model.User, error) {
	return s.authUser, s.authErr
}

func (s *stubService) Profile(ctx context.Context, userID int64) (*model.User, error) {
	return s.profileUser, s.profileErr
}

func (s *stubService) RequestMagicLink(ctx context.Context, email, ip string) error { return nil }

func (s *stubService) VerifyMagicLink(ctx context.Context, token, ip string) (*model.User, error) {
	return s.magicUser, s.magicVerifyErr
}

func (s *stubService) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	return s.isAdmin, s.isAdminErr
}

func (s *stubService) CreateEntryOrder(ctx context.Context, userID, poolID int64) (*payment.Order, error) {
	return s.order, s.orderErr
}

func (s *stubService) CaptureAndPurchase(ctx context.Context, userID, poolID int64, pick *model.PickSelection, orderID, ip string) (*service.PurchaseOutcome, error) {
	return s.purchaseOut, s.purchaseErr
}

func (s *stubService) PurchaseWithFunds(ctx context.Context, userID, poolID int64, pick *model.PickSelection, ip string) (*service.PurchaseOutcome, error) {
	return s.purchaseOut, s.purchaseErr
}

func (s *stubService) GuestCheckout(ctx context.Context, poolID int64, pick *model.PickSelection, orderID, ip string) (*service.PurchaseOutcome, error) {
	return s.purchaseOut, s.purchaseErr
}

func (s *stubService) GetReferralSummary(ctx context.Context, userID int64) (*service.ReferralSummary, error) {
	return s.referralSummary, nil
}

func (s *stubService) GetCurrentPool(ctx context.Context) (*model.Pool, error) {
	return s.pool, s.poolErr
}

func (s *stubService) GetPool(ctx context.Context, poolID int64) (*model.Pool, error) {
	return s.pool, s.poolErr
}

func (s *stubService) ListPools(ctx context.Context, status string) ([]model.Pool, error) {
	return nil, nil
}

func (s *stubService) GetPickDistribution(ctx context.Context, poolID int64) (map[string]int64, error) {
	return map[string]int64{"Arsenal": 12}, nil
}

func (s *stubService) GetMyEntries(ctx context.Context, userID int64) ([]repository.EntrySummary, error) {
	return nil, nil
}

func (s *stubService) GetEntryPicks(ctx context.Context, userID, entryID int64) ([]model.Pick, error) {
	return nil, nil
}

func (s *stubService) GetMyEntryStats(ctx context.Context, userID int64) (*repository.UserEntryStats, error) {
	return &repository.UserEntryStats{}, nil
}

func (s *stubService) GetMyTransactions(ctx context.Context, userID int64) ([]model.Transaction, error) {
	return nil, nil
}

func (s *stubService) UpdatePick(ctx context.Context, userID, pickID int64, sel model.PickSelection) (*model.Pick, error) {
	return s.updatedPick, s.updatePickErr
}

func (s *stubService) GetPendingPicks(ctx context.Context) ([]repository.PendingPick, error) {
	return s.pendingPicks, nil
}

func (s *stubService) UpdatePickResult(ctx context.Context, pickID int64, result string, gameweek *int) error {
	return nil
}

func (s *stubService) BatchUpdateResults(ctx context.Context, updates []service.ResultUpdate) (int, int) {
	return s.batchOK, s.batchFailed
}

func (s *stubService) GetPoolStandings(ctx context.Context, poolID int64) (*repository.PoolStandings, error) {
	return s.standings, nil
}

func (s *stubService) GetMatches(ctx context.Context, matchday int) (*fixtures.MatchList, error) {
	return &fixtures.MatchList{}, nil
}

func (s *stubService) GetTeams(ctx context.Context) ([]fixtures.Team, error) { return nil, nil }

func (s *stubService) GetCurrentMatchday(ctx context.Context) (int, error) { return 12, nil }

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()
	return NewHandler(svc, zap.NewNop(), middleware.NewAuthMiddleware("test-secret"))
}

func authedRequest(t *testing.T, h *Handler, method, target string, body any) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	r := httptest.NewRequest(method, target, &buf)
	token, err := h.authMiddleware.GenerateToken(1, "user@example.com")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestRegister_DuplicateEmailConflict(t *testing.T) {
	h := newTestHandler(t, &stubService{registerErr: repository.ErrUserExists})
	router := h.SetupRouter()

	body := map[string]any{
		"email":       "dup@example.com",
		"password":    "longenough",
		"firstName":   "Dup",
		"lastName":    "User",
		"dateOfBirth": "1990-01-01",
		"state":       "NY",
	}
	buf, _ := json.Marshal(body)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(buf)))

	res := w.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
	if got := decodeBody(t, res); got["success"] != false {
		t.Fatalf("envelope success = %v, want false", got["success"])
	}
}

func TestRegister_ReturnsTokenAndUser(t *testing.T) {
	h := newTestHandler(t, &stubService{
		registerUser: &model.User{ID: 5, Email: "new@example.com", FirstName: "New"},
	})
	router := h.SetupRouter()

	body := map[string]any{
		"email":       "new@example.com",
		"password":    "longenough",
		"firstName":   "New",
		"lastName":    "User",
		"dateOfBirth": "1990-01-01",
		"state":       "NY",
	}
	buf, _ := json.Marshal(body)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(buf)))

	res := w.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	got := decodeBody(t, res)
	if got["success"] != true {
		t.Fatalf("envelope success = %v, want true", got["success"])
	}
	if got["token"] == "" || got["token"] == nil {
		t.Fatalf("expected a session token in the response")
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	h := newTestHandler(t, &stubService{authErr: service.ErrInvalidCredentials})
	router := h.SetupRouter()

	buf, _ := json.Marshal(map[string]string{"email": "user@example.com", "password": "wrong"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(buf)))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestMe_RequiresAuth(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestPurchaseWithBalance_InsufficientFundsSnapshot(t *testing.T) {
	h := newTestHandler(t, &stubService{
		purchaseErr: &service.InsufficientFundsError{BalanceCents: 500, CreditCents: 300},
	})
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	r := authedRequest(t, h, http.MethodPost, "/api/payments/purchase-with-balance", map[string]any{"poolId": 1})
	router.ServeHTTP(w, r)

	res := w.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusPaymentRequired)
	}

	got := decodeBody(t, res)
	if got["balanceCents"] != float64(500) || got["creditCents"] != float64(300) {
		t.Fatalf("snapshot = %v/%v, want 500/300", got["balanceCents"], got["creditCents"])
	}
}

func TestCaptureOrder_PayerInUseForbidden(t *testing.T) {
	h := newTestHandler(t, &stubService{purchaseErr: service.ErrPayerInUse})
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	r := authedRequest(t, h, http.MethodPost, "/api/payments/capture-order",
		map[string]any{"orderId": "ORD-1", "poolId": 1})
	router.ServeHTTP(w, r)

	if w.Result().StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusForbidden)
	}
}

func TestUpdatePick_EditWindowClosed(t *testing.T) {
	h := newTestHandler(t, &stubService{updatePickErr: service.ErrEditWindowClosed})
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	r := authedRequest(t, h, http.MethodPut, "/api/picks/3",
		map[string]any{"teamId": 64, "teamName": "Liverpool"})
	router.ServeHTTP(w, r)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestUpdatePick_TeamReuseConflict(t *testing.T) {
	h := newTestHandler(t, &stubService{updatePickErr: repository.ErrTeamAlreadyUsed})
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	r := authedRequest(t, h, http.MethodPut, "/api/picks/3",
		map[string]any{"teamId": 64, "teamName": "Liverpool"})
	router.ServeHTTP(w, r)

	if w.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusConflict)
	}
}

func TestAdmin_RejectsNonAdmin(t *testing.T) {
	h := newTestHandler(t, &stubService{isAdmin: false})
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	r := authedRequest(t, h, http.MethodGet, "/api/admin/pending-picks", nil)
	router.ServeHTTP(w, r)

	if w.Result().StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusForbidden)
	}
}

func TestAdmin_BatchUpdateReportsCounts(t *testing.T) {
	h := newTestHandler(t, &stubService{isAdmin: true, batchOK: 8, batchFailed: 2})
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	r := authedRequest(t, h, http.MethodPost, "/api/admin/batch-update-results",
		map[string]any{"updates": []map[string]any{{"pickId": 1, "result": "win"}}})
	router.ServeHTTP(w, r)

	res := w.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	got := decodeBody(t, res)
	if got["updated"] != float64(8) || got["failed"] != float64(2) {
		t.Fatalf("counts = %v/%v, want 8/2", got["updated"], got["failed"])
	}
}

func TestGetPool_NotFound(t *testing.T) {
	h := newTestHandler(t, &stubService{poolErr: repository.ErrPoolNotFound})
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/pools/99", nil))

	if w.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
}

func TestMatches_RejectsOutOfRangeMatchday(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/matches?matchday=39", nil))

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	res := w.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if got := decodeBody(t, res); got["status"] != "ok" {
		t.Fatalf("status field = %v, want ok", got["status"])
	}
}

// Package handler contains the HTTP handlers of the survival pool API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/greatescape/api/internal/fixtures"
	"github.com/greatescape/api/internal/middleware"
	"github.com/greatescape/api/internal/model"
	"github.com/greatescape/api/internal/payment"
	"github.com/greatescape/api/internal/repository"
	"github.com/greatescape/api/internal/service"
)

// Service defines the business logic contract used by the HTTP handlers.
type Service interface {
	Register(ctx context.Context, p service.RegisterParams) (*model.User, error)
	Authenticate(ctx context.Context, email, password, ip string) (*model.User, error)
	Profile(ctx context.Context, userID int64) (*model.User, error)
	RequestMagicLink(ctx context.Context, email, ip string) error
	VerifyMagicLink(ctx context.Context, token, ip string) (*model.User, error)
	IsAdmin(ctx context.Context, userID int64) (bool, error)

	CreateEntryOrder(ctx context.Context, userID, poolID int64) (*payment.Order, error)
	CaptureAndPurchase(ctx context.Context, userID, poolID int64, pick *model.PickSelection, orderID, ip string) (*service.PurchaseOutcome, error)
	PurchaseWithFunds(ctx context.Context, userID, poolID int64, pick *model.PickSelection, ip string) (*service.PurchaseOutcome, error)
	GuestCheckout(ctx context.Context, poolID int64, pick *model.PickSelection, orderID, ip string) (*service.PurchaseOutcome, error)

	GetReferralSummary(ctx context.Context, userID int64) (*service.ReferralSummary, error)

	GetCurrentPool(ctx context.Context) (*model.Pool, error)
	GetPool(ctx context.Context, poolID int64) (*model.Pool, error)
	ListPools(ctx context.Context, status string) ([]model.Pool, error)
	GetPickDistribution(ctx context.Context, poolID int64) (map[string]int64, error)
	GetMyEntries(ctx context.Context, userID int64) ([]repository.EntrySummary, error)
	GetEntryPicks(ctx context.Context, userID, entryID int64) ([]model.Pick, error)
	GetMyEntryStats(ctx context.Context, userID int64) (*repository.UserEntryStats, error)
	GetMyTransactions(ctx context.Context, userID int64) ([]model.Transaction, error)

	UpdatePick(ctx context.Context, userID, pickID int64, sel model.PickSelection) (*model.Pick, error)
	GetPendingPicks(ctx context.Context) ([]repository.PendingPick, error)
	UpdatePickResult(ctx context.Context, pickID int64, result string, gameweek *int) error
	BatchUpdateResults(ctx context.Context, updates []service.ResultUpdate) (int, int)
	GetPoolStandings(ctx context.Context, poolID int64) (*repository.PoolStandings, error)

	GetMatches(ctx context.Context, matchday int) (*fixtures.MatchList, error)
	GetTeams(ctx context.Context) ([]fixtures.Team, error)
	GetCurrentMatchday(ctx context.Context) (int, error)
}

// Handler implements the HTTP handlers of the survival pool API.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates a new HTTP handler.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["success"] = true
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   message,
	}); err != nil {
		h.logger.Error("encode error response error", zap.Error(err))
	}
}

// writeServiceError maps domain errors to HTTP statuses; anything unmapped
// is logged and reported as a 500 without leaking internals.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, op string) {
	var validationErr *service.ValidationError
	var insufficient *service.InsufficientFundsError
	var notCompleted *payment.ErrNotCompleted

	switch {
	case errors.As(err, &validationErr):
		h.writeError(w, http.StatusBadRequest, validationErr.Message)
	case errors.As(err, &insufficient):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		if encErr := json.NewEncoder(w).Encode(map[string]any{
			"success":      false,
			"error":        "insufficient funds",
			"balanceCents": insufficient.BalanceCents,
			"creditCents":  insufficient.CreditCents,
		}); encErr != nil {
			h.logger.Error("encode error response error", zap.Error(encErr))
		}
	case errors.As(err, &notCompleted):
		h.writeError(w, http.StatusBadRequest, "payment was not completed")
	case errors.Is(err, service.ErrInvalidCredentials):
		h.writeError(w, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, service.ErrMagicLinkExpired),
		errors.Is(err, service.ErrMagicLinkUsed),
		errors.Is(err, repository.ErrMagicLinkNotFound):
		h.writeError(w, http.StatusUnauthorized, "invalid or expired link")
	case errors.Is(err, service.ErrAccountInactive),
		errors.Is(err, service.ErrProhibitedState),
		errors.Is(err, service.ErrPayerInUse),
		errors.Is(err, service.ErrNotOwner):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrUnderage),
		errors.Is(err, service.ErrDeadlinePassed),
		errors.Is(err, service.ErrPoolClosed),
		errors.Is(err, service.ErrEditWindowClosed),
		errors.Is(err, service.ErrInvalidResult),
		errors.Is(err, service.ErrMissingPayer):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrUserExists):
		h.writeError(w, http.StatusConflict, "an account with this email already exists")
	case errors.Is(err, repository.ErrTeamAlreadyUsed):
		h.writeError(w, http.StatusConflict, "this team has already been used by this entry")
	case errors.Is(err, repository.ErrPickDecided):
		h.writeError(w, http.StatusConflict, "this pick already has a result")
	case errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrPoolNotFound),
		errors.Is(err, repository.ErrEntryNotFound),
		errors.Is(err, repository.ErrPickNotFound):
		h.writeError(w, http.StatusNotFound, "not found")
	default:
		h.logger.Error(op+" error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return 0, false
	}
	return id, true
}

func idParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

type userResponse struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	BalanceCents int64  `json:"balanceCents"`
	CreditCents  int64  `json:"creditCents"`
	ReferralCode string `json:"referralCode,omitempty"`
	IsAdmin      bool   `json:"isAdmin"`
}

func toUserResponse(u *model.User) userResponse {
	resp := userResponse{
		ID:           u.ID,
		Email:        u.Email,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		BalanceCents: u.BalanceCents,
		CreditCents:  u.CreditCents,
		IsAdmin:      u.IsAdmin,
	}
	if u.ReferralCode != nil {
		resp.ReferralCode = *u.ReferralCode
	}
	return resp
}

type registerRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	DateOfBirth  string `json:"dateOfBirth"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2"`
	City         string `json:"city"`
	State        string `json:"state"`
	ZipCode      string `json:"zipCode"`
	Country      string `json:"country"`
	ReferralCode string `json:"referralCode"`
}

// Register creates a new account and returns it with a session token.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	dob, err := time.Parse("2006-01-02", req.DateOfBirth)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "dateOfBirth must be YYYY-MM-DD")
		return
	}

	u, err := h.service.Register(r.Context(), service.RegisterParams{
		Email:        req.Email,
		Password:     req.Password,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		DateOfBirth:  dob,
		AddressLine1: req.AddressLine1,
		AddressLine2: req.AddressLine2,
		City:         req.City,
		State:        req.State,
		ZipCode:      req.ZipCode,
		Country:      req.Country,
		ReferralCode: req.ReferralCode,
		IP:           clientIP(r),
	})
	if err != nil {
		h.writeServiceError(w, err, "register")
		return
	}

	token, err := h.authMiddleware.GenerateToken(u.ID, u.Email)
	if err != nil {
		h.logger.Error("generate token error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"token": token,
		"user":  toUserResponse(u),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates by email and password and returns a session token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	u, err := h.service.Authenticate(r.Context(), req.Email, req.Password, clientIP(r))
	if err != nil {
		h.writeServiceError(w, err, "login")
		return
	}

	token, err := h.authMiddleware.GenerateToken(u.ID, u.Email)
	if err != nil {
		h.logger.Error("generate token error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  toUserResponse(u),
	})
}

// Me returns the authenticated user's profile.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	u, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err, "profile")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"user": toUserResponse(u)})
}

type magicLinkRequest struct {
	Email string `json:"email"`
}

// RequestMagicLink issues a single-use login link. The response does not
// reveal whether the email is registered.
func (h *Handler) RequestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req magicLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		h.writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	if err := h.service.RequestMagicLink(r.Context(), req.Email, clientIP(r)); err != nil {
		h.writeServiceError(w, err, "magic link request")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "if the email is registered, a sign-in link has been sent",
	})
}

type magicLinkVerifyRequest struct {
	Token string `json:"token"`
}

// VerifyMagicLink consumes a login link and returns a session token.
func (h *Handler) VerifyMagicLink(w http.ResponseWriter, r *http.Request) {
	var req magicLinkVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		h.writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	u, err := h.service.VerifyMagicLink(r.Context(), req.Token, clientIP(r))
	if err != nil {
		h.writeServiceError(w, err, "magic link verify")
		return
	}

	token, err := h.authMiddleware.GenerateToken(u.ID, u.Email)
	if err != nil {
		h.logger.Error("generate token error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  toUserResponse(u),
	})
}

type pickRequest struct {
	TeamID    int64  `json:"teamId"`
	TeamName  string `json:"teamName"`
	TeamCrest string `json:"teamCrest"`
	MatchID   *int64 `json:"matchId"`
}

func (p *pickRequest) toSelection() *model.PickSelection {
	if p == nil || p.TeamID == 0 {
		return nil
	}
	return &model.PickSelection{
		TeamID:    p.TeamID,
		TeamName:  p.TeamName,
		TeamCrest: p.TeamCrest,
		MatchID:   p.MatchID,
	}
}

type createOrderRequest struct {
	PoolID int64 `json:"poolId"`
}

// CreateOrder creates a provider order priced at the pool's entry fee.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PoolID == 0 {
		h.writeError(w, http.StatusBadRequest, "poolId is required")
		return
	}

	order, err := h.service.CreateEntryOrder(r.Context(), userID, req.PoolID)
	if err != nil {
		h.writeServiceError(w, err, "create order")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"orderId":    order.ID,
		"approveUrl": order.ApproveURL,
	})
}

type captureOrderRequest struct {
	OrderID string       `json:"orderId"`
	PoolID  int64        `json:"poolId"`
	Pick    *pickRequest `json:"pick"`
}

// CaptureOrder captures a provider order and completes the entry purchase.
func (h *Handler) CaptureOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req captureOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" || req.PoolID == 0 {
		h.writeError(w, http.StatusBadRequest, "orderId and poolId are required")
		return
	}

	out, err := h.service.CaptureAndPurchase(r.Context(), userID, req.PoolID, req.Pick.toSelection(), req.OrderID, clientIP(r))
	if err != nil {
		h.writeServiceError(w, err, "capture order")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"entryId":     out.EntryID,
		"entryNumber": out.EntryNumber,
	})
}

type balancePurchaseRequest struct {
	PoolID int64        `json:"poolId"`
	Pick   *pickRequest `json:"pick"`
}

// PurchaseWithBalance buys an entry from account credit and balance.
func (h *Handler) PurchaseWithBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req balancePurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PoolID == 0 {
		h.writeError(w, http.StatusBadRequest, "poolId is required")
		return
	}

	out, err := h.service.PurchaseWithFunds(r.Context(), userID, req.PoolID, req.Pick.toSelection(), clientIP(r))
	if err != nil {
		h.writeServiceError(w, err, "balance purchase")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"entryId":          out.EntryID,
		"entryNumber":      out.EntryNumber,
		"creditsUsedCents": out.CreditsUsedCents,
		"balanceUsedCents": out.BalanceUsedCents,
	})
}

type guestCheckoutRequest struct {
	OrderID string       `json:"orderId"`
	PoolID  int64        `json:"poolId"`
	Pick    *pickRequest `json:"pick"`
}

// GuestCheckout captures an order without a session, provisioning an
// account from the payer identity when needed.
func (h *Handler) GuestCheckout(w http.ResponseWriter, r *http.Request) {
	var req guestCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" || req.PoolID == 0 {
		h.writeError(w, http.StatusBadRequest, "orderId and poolId are required")
		return
	}

	out, err := h.service.GuestCheckout(r.Context(), req.PoolID, req.Pick.toSelection(), req.OrderID, clientIP(r))
	if err != nil {
		h.writeServiceError(w, err, "guest checkout")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"entryId":     out.EntryID,
		"entryNumber": out.EntryNumber,
	})
}

// ReferralStats returns the user's referral code and statistics.
func (h *Handler) ReferralStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	sum, err := h.service.GetReferralSummary(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err, "referral stats")
		return
	}

	referred := make([]map[string]any, 0, len(sum.ReferredUsers))
	for _, u := range sum.ReferredUsers {
		referred = append(referred, map[string]any{
			"name":     u.Name,
			"email":    u.Email,
			"credited": u.Credited,
			"joinedAt": u.JoinedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"referralCode":       sum.ReferralCode,
		"totalReferrals":     sum.TotalReferrals,
		"creditsEarnedCents": sum.CreditsEarnedCents,
		"pendingCreditCents": sum.PendingCreditCents,
		"referredUsers":      referred,
	})
}

type poolResponse struct {
	ID                int64   `json:"id"`
	Gameweek          int     `json:"gameweek"`
	Season            string  `json:"season"`
	Status            string  `json:"status"`
	EntryDeadline     string  `json:"entryDeadline"`
	FirstMatchKickoff *string `json:"firstMatchKickoff,omitempty"`
	TotalEntries      int64   `json:"totalEntries"`
	PrizePoolCents    int64   `json:"prizePoolCents"`
	WinnerPayoutCents int64   `json:"winnerPayoutCents"`
	EntryFeeCents     int64   `json:"entryFeeCents"`
}

func toPoolResponse(p *model.Pool) poolResponse {
	resp := poolResponse{
		ID:                p.ID,
		Gameweek:          p.Gameweek,
		Season:            p.Season,
		Status:            string(p.Status),
		EntryDeadline:     p.EntryDeadline.Format(time.RFC3339),
		TotalEntries:      p.TotalEntries,
		PrizePoolCents:    p.PrizePoolCents,
		WinnerPayoutCents: p.WinnerPayoutCents,
		EntryFeeCents:     model.EntryFeeCents,
	}
	if p.FirstMatchKickoff != nil {
		s := p.FirstMatchKickoff.Format(time.RFC3339)
		resp.FirstMatchKickoff = &s
	}
	return resp
}

// CurrentPool returns the pool currently open for entries.
func (h *Handler) CurrentPool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.service.GetCurrentPool(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "current pool")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"pool": toPoolResponse(pool)})
}

// GetPool returns one pool by id.
func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	poolID, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid pool id")
		return
	}

	pool, err := h.service.GetPool(r.Context(), poolID)
	if err != nil {
		h.writeServiceError(w, err, "get pool")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"pool": toPoolResponse(pool)})
}

// ListPools lists pools, optionally filtered by ?status=.
func (h *Handler) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := h.service.ListPools(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.writeServiceError(w, err, "list pools")
		return
	}

	resp := make([]poolResponse, 0, len(pools))
	for i := range pools {
		resp = append(resp, toPoolResponse(&pools[i]))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"pools": resp})
}

// PickDistribution returns per-team pick counts for a pool.
func (h *Handler) PickDistribution(w http.ResponseWriter, r *http.Request) {
	poolID, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid pool id")
		return
	}

	dist, err := h.service.GetPickDistribution(r.Context(), poolID)
	if err != nil {
		h.writeServiceError(w, err, "pick distribution")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"distribution": dist})
}

// MyEntries lists the user's entries with pick counts.
func (h *Handler) MyEntries(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	entries, err := h.service.GetMyEntries(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err, "my entries")
		return
	}

	resp := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		item := map[string]any{
			"id":           e.Entry.ID,
			"poolId":       e.Entry.PoolID,
			"entryNumber":  e.Entry.EntryNumber,
			"status":       string(e.Entry.Status),
			"gameweek":     e.PoolGameweek,
			"poolStatus":   string(e.PoolStatus),
			"totalPicks":   e.TotalPicks,
			"winningPicks": e.WinningPicks,
			"losingPicks":  e.LosingPicks,
			"createdAt":    e.Entry.CreatedAt.Format(time.RFC3339),
		}
		if e.Entry.EliminatedGameweek != nil {
			item["eliminatedGameweek"] = *e.Entry.EliminatedGameweek
		}
		resp = append(resp, item)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"entries": resp})
}

// MyEntryStats returns the user's aggregate entry statistics.
func (h *Handler) MyEntryStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	stats, err := h.service.GetMyEntryStats(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err, "entry stats")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"totalEntries":       stats.TotalEntries,
		"activeEntries":      stats.ActiveEntries,
		"eliminatedEntries":  stats.EliminatedEntries,
		"winningEntries":     stats.WinningEntries,
		"totalSpentCents":    stats.TotalSpentCents,
		"totalWinningsCents": stats.TotalWinningsCents,
	})
}

type pickResponse struct {
	ID        int64  `json:"id"`
	EntryID   int64  `json:"entryId"`
	Gameweek  int    `json:"gameweek"`
	TeamID    int64  `json:"teamId"`
	TeamName  string `json:"teamName"`
	TeamCrest string `json:"teamCrest,omitempty"`
	Result    string `json:"result"`
	PickedAt  string `json:"pickedAt"`
}

func toPickResponse(p *model.Pick) pickResponse {
	return pickResponse{
		ID:        p.ID,
		EntryID:   p.EntryID,
		Gameweek:  p.Gameweek,
		TeamID:    p.TeamID,
		TeamName:  p.TeamName,
		TeamCrest: p.TeamCrest,
		Result:    string(p.Result),
		PickedAt:  p.PickedAt.Format(time.RFC3339),
	}
}

// EntryPicks lists an entry's picks; only the owner may see them.
func (h *Handler) EntryPicks(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	entryID, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid entry id")
		return
	}

	picks, err := h.service.GetEntryPicks(r.Context(), userID, entryID)
	if err != nil {
		h.writeServiceError(w, err, "entry picks")
		return
	}

	resp := make([]pickResponse, 0, len(picks))
	for i := range picks {
		resp = append(resp, toPickResponse(&picks[i]))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"picks": resp})
}

// MyTransactions returns the user's ledger history.
func (h *Handler) MyTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	txs, err := h.service.GetMyTransactions(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err, "my transactions")
		return
	}

	resp := make([]map[string]any, 0, len(txs))
	for _, t := range txs {
		item := map[string]any{
			"id":          t.ID,
			"type":        string(t.Type),
			"status":      t.Status,
			"amountCents": t.AmountCents,
			"description": t.Description,
			"createdAt":   t.CreatedAt.Format(time.RFC3339),
		}
		if t.PoolID != nil {
			item["poolId"] = *t.PoolID
		}
		if t.EntryID != nil {
			item["entryId"] = *t.EntryID
		}
		resp = append(resp, item)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"transactions": resp})
}

// UpdatePick changes a pending pick's team inside the edit window.
func (h *Handler) UpdatePick(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	pickID, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid pick id")
		return
	}

	var req pickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TeamID == 0 || req.TeamName == "" {
		h.writeError(w, http.StatusBadRequest, "teamId and teamName are required")
		return
	}

	pick, err := h.service.UpdatePick(r.Context(), userID, pickID, model.PickSelection{
		TeamID:    req.TeamID,
		TeamName:  req.TeamName,
		TeamCrest: req.TeamCrest,
		MatchID:   req.MatchID,
	})
	if err != nil {
		h.writeServiceError(w, err, "update pick")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"pick": toPickResponse(pick)})
}

// PendingPicks lists picks awaiting an admin result.
func (h *Handler) PendingPicks(w http.ResponseWriter, r *http.Request) {
	picks, err := h.service.GetPendingPicks(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "pending picks")
		return
	}

	resp := make([]map[string]any, 0, len(picks))
	for _, p := range picks {
		resp = append(resp, map[string]any{
			"pickId":      p.Pick.ID,
			"entryId":     p.Pick.EntryID,
			"entryNumber": p.EntryNumber,
			"entryStatus": string(p.EntryStatus),
			"userId":      p.UserID,
			"userEmail":   p.UserEmail,
			"userName":    p.UserName,
			"gameweek":    p.PoolGameweek,
			"teamId":      p.Pick.TeamID,
			"teamName":    p.Pick.TeamName,
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"picks": resp})
}

type updateResultRequest struct {
	PickID   int64  `json:"pickId"`
	Result   string `json:"result"`
	Gameweek *int   `json:"gameweek"`
}

// UpdatePickResult records a result for one pick.
func (h *Handler) UpdatePickResult(w http.ResponseWriter, r *http.Request) {
	var req updateResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PickID == 0 {
		h.writeError(w, http.StatusBadRequest, "pickId and result are required")
		return
	}

	if err := h.service.UpdatePickResult(r.Context(), req.PickID, req.Result, req.Gameweek); err != nil {
		h.writeServiceError(w, err, "update pick result")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"message": "result recorded"})
}

type batchUpdateRequest struct {
	Updates []updateResultRequest `json:"updates"`
}

// BatchUpdateResults applies a list of result updates, tolerating per-item
// failures, and reports both counts.
func (h *Handler) BatchUpdateResults(w http.ResponseWriter, r *http.Request) {
	var req batchUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Updates) == 0 {
		h.writeError(w, http.StatusBadRequest, "updates are required")
		return
	}

	updates := make([]service.ResultUpdate, 0, len(req.Updates))
	for _, u := range req.Updates {
		updates = append(updates, service.ResultUpdate{
			PickID:   u.PickID,
			Result:   u.Result,
			Gameweek: u.Gameweek,
		})
	}

	ok, failed := h.service.BatchUpdateResults(r.Context(), updates)

	h.writeJSON(w, http.StatusOK, map[string]any{
		"updated": ok,
		"failed":  failed,
	})
}

// PoolStats returns entry counts and top picks of a pool.
func (h *Handler) PoolStats(w http.ResponseWriter, r *http.Request) {
	poolID, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid pool id")
		return
	}

	standings, err := h.service.GetPoolStandings(r.Context(), poolID)
	if err != nil {
		h.writeServiceError(w, err, "pool stats")
		return
	}

	topPicks := make([]map[string]any, 0, len(standings.TopPicks))
	for _, p := range standings.TopPicks {
		topPicks = append(topPicks, map[string]any{
			"teamName":  p.TeamName,
			"pickCount": p.PickCount,
			"wins":      p.Wins,
			"losses":    p.Losses,
			"draws":     p.Draws,
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"activeEntries":     standings.ActiveEntries,
		"eliminatedEntries": standings.EliminatedEntries,
		"totalEntries":      standings.TotalEntries,
		"topPicks":          topPicks,
	})
}

// Matches proxies the fixture provider's match listing.
func (h *Handler) Matches(w http.ResponseWriter, r *http.Request) {
	matchday := 0
	if raw := r.URL.Query().Get("matchday"); raw != "" {
		md, err := strconv.Atoi(raw)
		if err != nil || md < 1 || md > 38 {
			h.writeError(w, http.StatusBadRequest, "matchday must be between 1 and 38")
			return
		}
		matchday = md
	}

	matches, err := h.service.GetMatches(r.Context(), matchday)
	if err != nil {
		h.writeServiceError(w, err, "matches")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"matches": matches.Matches})
}

// Teams proxies the fixture provider's team listing.
func (h *Handler) Teams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.service.GetTeams(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "teams")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
}

// CurrentMatchday proxies the fixture provider's current matchday.
func (h *Handler) CurrentMatchday(w http.ResponseWriter, r *http.Request) {
	md, err := h.service.GetCurrentMatchday(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "current matchday")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"currentMatchday": md})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// requireAdmin rejects non-admin users before admin handlers run.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			h.writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		isAdmin, err := h.service.IsAdmin(r.Context(), userID)
		if err != nil {
			h.writeServiceError(w, err, "admin check")
			return
		}
		if !isAdmin {
			h.writeError(w, http.StatusForbidden, "admin access required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Package service implements the business logic of the survival pool.
package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/greatescape/api/internal/fixtures"
	"github.com/greatescape/api/internal/model"
	"github.com/greatescape/api/internal/payment"
	"github.com/greatescape/api/internal/repository"
	"github.com/greatescape/api/internal/validation"
)

// ErrInvalidCredentials is returned on a failed login.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountInactive is returned for suspended or banned accounts.
	ErrAccountInactive = errors.New("account is suspended or banned")
	// ErrUnderage is returned when the registrant is younger than the legal minimum.
	ErrUnderage = errors.New("must be at least 18 years old")
	// ErrProhibitedState is returned for jurisdictions where paid play is barred.
	ErrProhibitedState = errors.New("paid fantasy sports are not available in this state")
	// ErrPoolClosed is returned when the pool no longer accepts entries.
	// Shared with the repository, which re-checks under the row lock.
	ErrPoolClosed = repository.ErrPoolClosed
	// ErrDeadlinePassed is returned after the entry deadline.
	ErrDeadlinePassed = repository.ErrDeadlinePassed
	// ErrPayerInUse is returned when a payer id is bound to another account.
	ErrPayerInUse = errors.New("payment account already linked to another user")
	// ErrEditWindowClosed is returned when a pick edit comes too close to kickoff.
	ErrEditWindowClosed = errors.New("picks must be edited at least 1 hour before the first match")
	// ErrNotOwner is returned when a user touches someone else's resource.
	ErrNotOwner = errors.New("not authorized for this resource")
	// ErrInvalidResult is returned for a result outside win/loss/draw.
	ErrInvalidResult = errors.New("result must be win, loss, or draw")
	// ErrMagicLinkExpired is returned for an expired login link.
	ErrMagicLinkExpired = errors.New("magic link has expired")
	// ErrMagicLinkUsed is returned for an already consumed login link.
	ErrMagicLinkUsed = errors.New("magic link has already been used")
	// ErrMissingPayer is returned when a capture carries no payer identity.
	ErrMissingPayer = errors.New("could not verify payment account")
)

// ValidationError wraps a registration input problem with a user-facing message.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// InsufficientFundsError carries the balance snapshot for UI display.
type InsufficientFundsError struct {
	BalanceCents int64
	CreditCents  int64
}

func (e *InsufficientFundsError) Error() string { return "insufficient funds" }

// Repository describes the data access contract used by the service.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, p repository.NewUserParams) (int64, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByPayerID(ctx context.Context, payerID string) (*model.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*model.User, error)
	UpdateLastLogin(ctx context.Context, userID int64) error
	BindPayerID(ctx context.Context, userID int64, payerID string, payerEmail *string) error
	SetReferralCode(ctx context.Context, userID int64, code string) error
	TrackReferral(ctx context.Context, referrerID, userID int64) error

	PurchaseEntry(ctx context.Context, p repository.PurchaseParams) (*repository.PurchaseResult, error)
	AwardReferralCredit(ctx context.Context, referrerID, referredID, bonusCents int64) (bool, error)
	GetReferralStats(ctx context.Context, referrerID int64) (*repository.ReferralStats, error)
	GetReferredUsers(ctx context.Context, referrerID int64, limit int) ([]repository.ReferredUser, error)
	GetTransactionsByUser(ctx context.Context, userID int64) ([]model.Transaction, error)

	GetPoolByID(ctx context.Context, id int64) (*model.Pool, error)
	GetCurrentPool(ctx context.Context) (*model.Pool, error)
	ListPools(ctx context.Context, status string) ([]model.Pool, error)
	GetPickDistribution(ctx context.Context, poolID int64) (map[string]int64, error)
	ListEntriesByUser(ctx context.Context, userID int64) ([]repository.EntrySummary, error)
	GetEntryOwner(ctx context.Context, entryID int64) (int64, error)
	GetPicksByEntry(ctx context.Context, entryID int64) ([]model.Pick, error)
	GetUserEntryStats(ctx context.Context, userID int64) (*repository.UserEntryStats, error)
	GetPickDetail(ctx context.Context, pickID int64) (*repository.PickDetail, error)
	UpdatePickTeam(ctx context.Context, pickID int64, sel model.PickSelection) (*model.Pick, error)
	GetPendingPicks(ctx context.Context) ([]repository.PendingPick, error)
	SetPickResult(ctx context.Context, pickID int64, result model.PickResult, gameweek *int) error
	GetPoolStandings(ctx context.Context, poolID int64) (*repository.PoolStandings, error)

	CreateMagicLink(ctx context.Context, userID int64, token string, expiresAt time.Time, ip string) error
	GetMagicLink(ctx context.Context, token string) (*model.MagicLink, error)
	MarkMagicLinkUsed(ctx context.Context, id int64) error
	InsertAuditEvent(ctx context.Context, userID *int64, eventType string, data any, ip string) error
}

// PaymentProvider describes the payment collaborator contract.
type PaymentProvider interface {
	CreateOrder(ctx context.Context, amountCents int64, description, returnURL, cancelURL string) (*payment.Order, error)
	CaptureOrder(ctx context.Context, orderID string) (*payment.Capture, error)
}

// FixtureSource describes the football-data collaborator contract.
type FixtureSource interface {
	Matches(ctx context.Context, matchday int) (*fixtures.MatchList, error)
	Teams(ctx context.Context) ([]fixtures.Team, error)
	CurrentMatchday(ctx context.Context) (int, error)
}

// Service contains the business logic of the survival pool.
type Service struct {
	repo        Repository
	payments    PaymentProvider
	fixtures    FixtureSource
	logger      *zap.Logger
	frontendURL string
}

// NewService creates a service with the given repository and collaborators.
func NewService(repo Repository, payments PaymentProvider, fixtures FixtureSource, logger *zap.Logger, frontendURL string) *Service {
	return &Service{
		repo:        repo,
		payments:    payments,
		fixtures:    fixtures,
		logger:      logger,
		frontendURL: frontendURL,
	}
}

// Close closes the service's resources.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// audit appends an audit row; failures are logged and swallowed so that the
// primary operation never fails on audit.
func (s *Service) audit(ctx context.Context, userID int64, event string, data any, ip string) {
	if err := s.repo.InsertAuditEvent(ctx, &userID, event, data, ip); err != nil {
		s.logger.Warn("audit write failed", zap.String("event", event), zap.Error(err))
	}
}

// RegisterParams carries the registration input.
type RegisterParams struct {
	Email        string
	Password     string
	FirstName    string
	LastName     string
	DateOfBirth  time.Time
	AddressLine1 string
	AddressLine2 string
	City         string
	State        string
	ZipCode      string
	Country      string
	ReferralCode string
	IP           string
}

// Register creates a new user account, assigns a referral code and tracks
// an incoming referral. Referral bookkeeping is best-effort and never fails
// the registration.
func (s *Service) Register(ctx context.Context, p RegisterParams) (*model.User, error) {
	if p.Email == "" || p.Password == "" || p.FirstName == "" || p.LastName == "" ||
		p.DateOfBirth.IsZero() || p.State == "" {
		return nil, &ValidationError{Message: "missing required fields"}
	}
	if !validation.IsValidEmail(p.Email) {
		return nil, &ValidationError{Message: "invalid email format"}
	}
	if !validation.IsValidPassword(p.Password) {
		return nil, &ValidationError{Message: fmt.Sprintf("password must be at least %d characters", validation.MinPasswordLength)}
	}
	if !validation.IsOfAge(p.DateOfBirth, time.Now()) {
		return nil, ErrUnderage
	}
	if validation.IsProhibitedState(p.State) {
		return nil, ErrProhibitedState
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	country := p.Country
	if country == "" {
		country = "US"
	}

	userID, err := s.repo.CreateUser(ctx, repository.NewUserParams{
		Email:        p.Email,
		PasswordHash: hash,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		DateOfBirth:  p.DateOfBirth,
		AddressLine1: p.AddressLine1,
		AddressLine2: p.AddressLine2,
		City:         p.City,
		State:        p.State,
		ZipCode:      p.ZipCode,
		Country:      country,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.assignReferralCode(ctx, userID); err != nil {
		s.logger.Warn("assign referral code failed", zap.Int64("userID", userID), zap.Error(err))
	}

	if p.ReferralCode != "" {
		s.trackReferralCode(ctx, p.ReferralCode, userID)
	}

	s.audit(ctx, userID, "user_registered", map[string]string{"email": p.Email}, p.IP)

	return s.repo.GetUserByID(ctx, userID)
}

// Authenticate checks a user's credentials and returns the user on success.
func (s *Service) Authenticate(ctx context.Context, email, password, ip string) (*model.User, error) {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if u.AccountStatus != model.AccountStatusActive {
		return nil, ErrAccountInactive
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := s.repo.UpdateLastLogin(ctx, u.ID); err != nil {
		s.logger.Warn("update last login failed", zap.Int64("userID", u.ID), zap.Error(err))
	}

	s.audit(ctx, u.ID, "user_login", map[string]string{"email": u.Email}, ip)

	return u, nil
}

// Profile returns the user's profile.
func (s *Service) Profile(ctx context.Context, userID int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, userID)
}

const magicLinkTTL = 15 * time.Minute

// RequestMagicLink issues a single-use login link for the email's account.
// Unknown emails are ignored without error, so callers cannot probe for
// registered addresses.
func (s *Service) RequestMagicLink(ctx context.Context, email, ip string) error {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.logger.Info("magic link requested for unknown email")
			return nil
		}
		return err
	}

	if u.AccountStatus != model.AccountStatusActive {
		return ErrAccountInactive
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	if err := s.repo.CreateMagicLink(ctx, u.ID, token, time.Now().Add(magicLinkTTL), ip); err != nil {
		return err
	}

	// No mailer is wired up; the link is surfaced through the log.
	s.logger.Info("magic link issued",
		zap.Int64("userID", u.ID),
		zap.String("link", s.frontendURL+"/auth/magic-link/"+token),
	)

	s.audit(ctx, u.ID, "magic_link_requested", map[string]string{"email": u.Email}, ip)

	return nil
}

// VerifyMagicLink consumes a login link and returns the authenticated user.
func (s *Service) VerifyMagicLink(ctx context.Context, token, ip string) (*model.User, error) {
	link, err := s.repo.GetMagicLink(ctx, token)
	if err != nil {
		return nil, err
	}

	if link.Used {
		return nil, ErrMagicLinkUsed
	}
	if time.Now().After(link.ExpiresAt) {
		return nil, ErrMagicLinkExpired
	}

	u, err := s.repo.GetUserByID(ctx, link.UserID)
	if err != nil {
		return nil, err
	}
	if u.AccountStatus != model.AccountStatusActive {
		return nil, ErrAccountInactive
	}

	if err := s.repo.MarkMagicLinkUsed(ctx, link.ID); err != nil {
		if errors.Is(err, repository.ErrMagicLinkNotFound) {
			return nil, ErrMagicLinkUsed
		}
		return nil, err
	}

	if err := s.repo.UpdateLastLogin(ctx, u.ID); err != nil {
		s.logger.Warn("update last login failed", zap.Int64("userID", u.ID), zap.Error(err))
	}

	s.audit(ctx, u.ID, "magic_link_login", map[string]string{"email": u.Email}, ip)

	return u, nil
}

const referralCodePrefix = "TGE"
const referralCodeLength = 6

// referralCodeAlphabet excludes visually ambiguous characters (0/O, 1/I).
const referralCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const maxReferralCodeAttempts = 10

func generateReferralCode() (string, error) {
	code := []byte(referralCodePrefix)
	for i := 0; i < referralCodeLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(referralCodeAlphabet))))
		if err != nil {
			return "", fmt.Errorf("random index: %w", err)
		}
		code = append(code, referralCodeAlphabet[n.Int64()])
	}
	return string(code), nil
}

func (s *Service) assignReferralCode(ctx context.Context, userID int64) (string, error) {
	for attempt := 0; attempt < maxReferralCodeAttempts; attempt++ {
		code, err := generateReferralCode()
		if err != nil {
			return "", err
		}

		err = s.repo.SetReferralCode(ctx, userID, code)
		if err == nil {
			return code, nil
		}
		if errors.Is(err, repository.ErrReferralCodeTaken) {
			continue
		}
		return "", err
	}
	return "", fmt.Errorf("failed to generate unique referral code after %d attempts", maxReferralCodeAttempts)
}

// trackReferralCode resolves a signup referral code and records the pair.
// Every failure path is logged and swallowed; referrals never fail signup.
func (s *Service) trackReferralCode(ctx context.Context, code string, newUserID int64) {
	referrer, err := s.repo.GetUserByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.logger.Info("invalid referral code", zap.String("code", code))
			return
		}
		s.logger.Warn("resolve referral code failed", zap.Error(err))
		return
	}

	if referrer.ID == newUserID {
		s.logger.Info("self-referral attempt ignored", zap.Int64("userID", newUserID))
		return
	}

	if err := s.repo.TrackReferral(ctx, referrer.ID, newUserID); err != nil {
		s.logger.Warn("track referral failed", zap.Error(err))
	}
}

// maybeAwardReferral awards the referral bonus after a referred user's first
// completed purchase. Best-effort: failures are logged, never propagated.
func (s *Service) maybeAwardReferral(ctx context.Context, u *model.User) {
	if u.ReferredBy == nil || u.ReferralCredited {
		return
	}

	awarded, err := s.repo.AwardReferralCredit(ctx, *u.ReferredBy, u.ID, model.ReferralBonusCents)
	if err != nil {
		s.logger.Warn("referral credit failed",
			zap.Int64("referrerID", *u.ReferredBy),
			zap.Int64("referredID", u.ID),
			zap.Error(err),
		)
		return
	}
	if awarded {
		s.logger.Info("referral credits awarded",
			zap.Int64("referrerID", *u.ReferredBy),
			zap.Int64("referredID", u.ID),
		)
	}
}

// ReferralSummary is the referrer-facing view of their referral program.
type ReferralSummary struct {
	ReferralCode       string
	TotalReferrals     int64
	CreditsEarnedCents int64
	PendingCreditCents int64
	ReferredUsers      []repository.ReferredUser
}

var emailMaskRe = regexp.MustCompile(`^(.{2})(.*)(@.*)$`)

func maskEmail(email string) string {
	if m := emailMaskRe.FindStringSubmatch(email); m != nil {
		return m[1] + "***" + m[3]
	}
	// Local parts shorter than two characters get masked entirely.
	if i := strings.Index(email, "@"); i >= 0 {
		return "***" + email[i:]
	}
	return email
}

// GetReferralSummary returns the user's referral code (assigning one
// lazily) and referral statistics with partially masked referred emails.
func (s *Service) GetReferralSummary(ctx context.Context, userID int64) (*ReferralSummary, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	code := ""
	if u.ReferralCode != nil {
		code = *u.ReferralCode
	} else {
		code, err = s.assignReferralCode(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	stats, err := s.repo.GetReferralStats(ctx, userID)
	if err != nil {
		return nil, err
	}

	referred, err := s.repo.GetReferredUsers(ctx, userID, 20)
	if err != nil {
		return nil, err
	}
	for i := range referred {
		referred[i].Email = maskEmail(referred[i].Email)
	}

	return &ReferralSummary{
		ReferralCode:       code,
		TotalReferrals:     stats.Total,
		CreditsEarnedCents: stats.Credited * model.ReferralBonusCents,
		PendingCreditCents: stats.Pending * model.ReferralBonusCents,
		ReferredUsers:      referred,
	}, nil
}

// validatePoolOpen rejects purchases into missing, completed or expired pools.
func (s *Service) validatePoolOpen(ctx context.Context, poolID int64) (*model.Pool, error) {
	pool, err := s.repo.GetPoolByID(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if pool.Status == model.PoolStatusCompleted {
		return nil, ErrPoolClosed
	}
	if !time.Now().Before(pool.EntryDeadline) {
		return nil, ErrDeadlinePassed
	}
	return pool, nil
}

// CreateEntryOrder creates a provider order priced at the entry fee for the pool.
func (s *Service) CreateEntryOrder(ctx context.Context, userID, poolID int64) (*payment.Order, error) {
	pool, err := s.validatePoolOpen(ctx, poolID)
	if err != nil {
		return nil, err
	}

	description := fmt.Sprintf("The Great Escape - Matchday %d Entry", pool.Gameweek)
	order, err := s.payments.CreateOrder(ctx, model.EntryFeeCents, description,
		s.frontendURL+"/payment/success", s.frontendURL+"/payment/cancel")
	if err != nil {
		return nil, fmt.Errorf("create provider order: %w", err)
	}

	return order, nil
}

// PurchaseOutcome reports a committed purchase to the caller.
type PurchaseOutcome struct {
	UserID           int64
	EntryID          int64
	EntryNumber      int
	CreditsUsedCents int64
	BalanceUsedCents int64
}

// CaptureAndPurchase captures a provider order for an authenticated user and
// executes the entry purchase. The captured payer identity is bound to the
// user, first write wins; a payer id already bound to a different account is
// rejected before any money moves.
func (s *Service) CaptureAndPurchase(ctx context.Context, userID, poolID int64, pick *model.PickSelection, orderID, ip string) (*PurchaseOutcome, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if _, err := s.validatePoolOpen(ctx, poolID); err != nil {
		return nil, err
	}

	capture, err := s.payments.CaptureOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if capture.PayerID != "" {
		if err := s.guardPayerID(ctx, u, capture); err != nil {
			return nil, err
		}
	}

	res, err := s.repo.PurchaseEntry(ctx, repository.PurchaseParams{
		UserID:   userID,
		PoolID:   poolID,
		FeeCents: model.EntryFeeCents,
		Source:   model.PaymentSource{Kind: model.PaymentSourceProvider, CaptureRef: capture.OrderID},
		Pick:     pick,
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, userID, "entry_purchased",
		map[string]any{"poolId": poolID, "entryId": res.EntryID, "orderId": capture.OrderID}, ip)
	s.maybeAwardReferral(ctx, u)

	return &PurchaseOutcome{
		UserID:      userID,
		EntryID:     res.EntryID,
		EntryNumber: res.EntryNumber,
	}, nil
}

// guardPayerID enforces that one provider payer maps to at most one account.
func (s *Service) guardPayerID(ctx context.Context, u *model.User, capture *payment.Capture) error {
	other, err := s.repo.GetUserByPayerID(ctx, capture.PayerID)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return err
	}
	if other != nil && other.ID != u.ID {
		return ErrPayerInUse
	}

	if u.PayPalPayerID == nil {
		var email *string
		if capture.PayerEmail != "" {
			email = &capture.PayerEmail
		}
		if err := s.repo.BindPayerID(ctx, u.ID, capture.PayerID, email); err != nil {
			return err
		}
	}

	return nil
}

// PurchaseWithFunds buys an entry from the user's credit and balance,
// credits first. The friendly funds check here returns the balance snapshot
// for the UI; the authoritative check happens again under the row lock.
func (s *Service) PurchaseWithFunds(ctx context.Context, userID, poolID int64, pick *model.PickSelection, ip string) (*PurchaseOutcome, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if u.BalanceCents+u.CreditCents < model.EntryFeeCents {
		return nil, &InsufficientFundsError{BalanceCents: u.BalanceCents, CreditCents: u.CreditCents}
	}

	if _, err := s.validatePoolOpen(ctx, poolID); err != nil {
		return nil, err
	}

	res, err := s.repo.PurchaseEntry(ctx, repository.PurchaseParams{
		UserID:   userID,
		PoolID:   poolID,
		FeeCents: model.EntryFeeCents,
		Source:   model.PaymentSource{Kind: model.PaymentSourceInternal},
		Pick:     pick,
	})
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientFunds) {
			return nil, &InsufficientFundsError{BalanceCents: u.BalanceCents, CreditCents: u.CreditCents}
		}
		return nil, err
	}

	s.audit(ctx, userID, "entry_purchased_balance",
		map[string]any{"poolId": poolID, "entryId": res.EntryID}, ip)
	s.maybeAwardReferral(ctx, u)

	return &PurchaseOutcome{
		UserID:           userID,
		EntryID:          res.EntryID,
		EntryNumber:      res.EntryNumber,
		CreditsUsedCents: res.CreditsUsedCents,
		BalanceUsedCents: res.BalanceUsedCents,
	}, nil
}

// GuestCheckout captures an order without a session and provisions an
// account from the captured payer identity when none exists yet. Guest
// purchases never trigger referral crediting.
func (s *Service) GuestCheckout(ctx context.Context, poolID int64, pick *model.PickSelection, orderID, ip string) (*PurchaseOutcome, error) {
	if _, err := s.validatePoolOpen(ctx, poolID); err != nil {
		return nil, err
	}

	capture, err := s.payments.CaptureOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if capture.PayerID == "" {
		return nil, ErrMissingPayer
	}

	u, err := s.repo.GetUserByPayerID(ctx, capture.PayerID)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, err
		}
		u, err = s.provisionGuest(ctx, capture)
		if err != nil {
			return nil, err
		}
	}

	if u.AccountStatus != model.AccountStatusActive {
		return nil, ErrAccountInactive
	}

	res, err := s.repo.PurchaseEntry(ctx, repository.PurchaseParams{
		UserID:   u.ID,
		PoolID:   poolID,
		FeeCents: model.EntryFeeCents,
		Source:   model.PaymentSource{Kind: model.PaymentSourceProvider, CaptureRef: capture.OrderID},
		Pick:     pick,
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, u.ID, "entry_purchased_guest",
		map[string]any{"poolId": poolID, "entryId": res.EntryID, "orderId": capture.OrderID}, ip)

	return &PurchaseOutcome{
		UserID:      u.ID,
		EntryID:     res.EntryID,
		EntryNumber: res.EntryNumber,
	}, nil
}

func (s *Service) provisionGuest(ctx context.Context, capture *payment.Capture) (*model.User, error) {
	if capture.PayerEmail == "" {
		return nil, ErrMissingPayer
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword(buf, bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	email := capture.PayerEmail
	userID, err := s.repo.CreateUser(ctx, repository.NewUserParams{
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Guest",
		DateOfBirth:  time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
		Country:      "US",
		PayPalPayerID: func() *string {
			id := capture.PayerID
			return &id
		}(),
		PayPalEmail: &email,
	})
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			// The email already has a password account; the capture's payer
			// id belongs to it or to nobody, never to a third account.
			existing, lookupErr := s.repo.GetUserByEmail(ctx, email)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if existing.PayPalPayerID != nil && *existing.PayPalPayerID != capture.PayerID {
				return nil, ErrPayerInUse
			}
			if err := s.repo.BindPayerID(ctx, existing.ID, capture.PayerID, &email); err != nil {
				return nil, err
			}
			return existing, nil
		}
		return nil, err
	}

	if _, err := s.assignReferralCode(ctx, userID); err != nil {
		s.logger.Warn("assign referral code failed", zap.Int64("userID", userID), zap.Error(err))
	}

	return s.repo.GetUserByID(ctx, userID)
}

// UpdatePick changes a pending pick's team before the edit window closes.
func (s *Service) UpdatePick(ctx context.Context, userID, pickID int64, sel model.PickSelection) (*model.Pick, error) {
	detail, err := s.repo.GetPickDetail(ctx, pickID)
	if err != nil {
		return nil, err
	}

	if detail.UserID != userID {
		return nil, ErrNotOwner
	}
	if detail.Pick.Result.IsTerminal() {
		return nil, repository.ErrPickDecided
	}
	if time.Until(detail.Deadline) < model.EditWindow {
		return nil, ErrEditWindowClosed
	}

	existing, err := s.repo.GetPicksByEntry(ctx, detail.Pick.EntryID)
	if err != nil {
		return nil, err
	}
	for _, p := range existing {
		if p.ID != pickID && p.TeamID == sel.TeamID {
			return nil, repository.ErrTeamAlreadyUsed
		}
	}

	return s.repo.UpdatePickTeam(ctx, pickID, sel)
}

// GetPendingPicks lists picks awaiting an admin result.
func (s *Service) GetPendingPicks(ctx context.Context) ([]repository.PendingPick, error) {
	return s.repo.GetPendingPicks(ctx)
}

// UpdatePickResult records a result for a pending pick and eliminates the
// entry on loss or draw.
func (s *Service) UpdatePickResult(ctx context.Context, pickID int64, result string, gameweek *int) error {
	res, ok := model.ValidResult(result)
	if !ok {
		return ErrInvalidResult
	}
	return s.repo.SetPickResult(ctx, pickID, res, gameweek)
}

// ResultUpdate is one item of a batch result submission.
type ResultUpdate struct {
	PickID   int64
	Result   string
	Gameweek *int
}

// BatchUpdateResults applies result updates one by one, tolerating per-item
// failures. The batch always completes and reports both counts.
func (s *Service) BatchUpdateResults(ctx context.Context, updates []ResultUpdate) (successCount, errorCount int) {
	for _, u := range updates {
		if err := s.UpdatePickResult(ctx, u.PickID, u.Result, u.Gameweek); err != nil {
			s.logger.Warn("batch result update failed",
				zap.Int64("pickID", u.PickID),
				zap.String("result", u.Result),
				zap.Error(err),
			)
			errorCount++
			continue
		}
		successCount++
	}
	return successCount, errorCount
}

// GetPoolStandings returns entry counts and top picks for a pool.
func (s *Service) GetPoolStandings(ctx context.Context, poolID int64) (*repository.PoolStandings, error) {
	if _, err := s.repo.GetPoolByID(ctx, poolID); err != nil {
		return nil, err
	}
	return s.repo.GetPoolStandings(ctx, poolID)
}

// GetCurrentPool returns the pool currently open for entries.
func (s *Service) GetCurrentPool(ctx context.Context) (*model.Pool, error) {
	return s.repo.GetCurrentPool(ctx)
}

// GetPool returns one pool by id.
func (s *Service) GetPool(ctx context.Context, poolID int64) (*model.Pool, error) {
	return s.repo.GetPoolByID(ctx, poolID)
}

// ListPools returns pools, optionally filtered by status.
func (s *Service) ListPools(ctx context.Context, status string) ([]model.Pool, error) {
	return s.repo.ListPools(ctx, status)
}

// GetPickDistribution returns the per-team pick counts of a pool.
func (s *Service) GetPickDistribution(ctx context.Context, poolID int64) (map[string]int64, error) {
	if _, err := s.repo.GetPoolByID(ctx, poolID); err != nil {
		return nil, err
	}
	return s.repo.GetPickDistribution(ctx, poolID)
}

// GetMyEntries returns the user's entries with pick counts.
func (s *Service) GetMyEntries(ctx context.Context, userID int64) ([]repository.EntrySummary, error) {
	return s.repo.ListEntriesByUser(ctx, userID)
}

// GetEntryPicks returns an entry's picks after checking ownership.
func (s *Service) GetEntryPicks(ctx context.Context, userID, entryID int64) ([]model.Pick, error) {
	owner, err := s.repo.GetEntryOwner(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if owner != userID {
		return nil, ErrNotOwner
	}
	return s.repo.GetPicksByEntry(ctx, entryID)
}

// GetMyEntryStats returns the user's aggregate entry statistics.
func (s *Service) GetMyEntryStats(ctx context.Context, userID int64) (*repository.UserEntryStats, error) {
	return s.repo.GetUserEntryStats(ctx, userID)
}

// GetMyTransactions returns the user's ledger history.
func (s *Service) GetMyTransactions(ctx context.Context, userID int64) ([]model.Transaction, error) {
	return s.repo.GetTransactionsByUser(ctx, userID)
}

// GetMatches proxies the fixture provider's match listing.
func (s *Service) GetMatches(ctx context.Context, matchday int) (*fixtures.MatchList, error) {
	return s.fixtures.Matches(ctx, matchday)
}

// GetTeams proxies the fixture provider's team listing.
func (s *Service) GetTeams(ctx context.Context) ([]fixtures.Team, error) {
	return s.fixtures.Teams(ctx)
}

// GetCurrentMatchday proxies the fixture provider's current matchday.
func (s *Service) GetCurrentMatchday(ctx context.Context) (int, error) {
	return s.fixtures.CurrentMatchday(ctx)
}

// IsAdmin reports whether the user may call admin endpoints.
func (s *Service) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.IsAdmin, nil
}

// Package repository contains the PostgreSQL data access layer.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/greatescape/api/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists is returned when registering an email that is already taken.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrPoolNotFound is returned when no pool matches the lookup.
	ErrPoolNotFound = errors.New("pool not found")
	// ErrPoolClosed is returned when the pool no longer accepts entries.
	ErrPoolClosed = errors.New("this pool has already ended")
	// ErrDeadlinePassed is returned after the pool's entry deadline.
	ErrDeadlinePassed = errors.New("entry deadline has passed")
	// ErrEntryNotFound is returned when no entry matches the lookup.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrPickNotFound is returned when no pick matches the lookup.
	ErrPickNotFound = errors.New("pick not found")
	// ErrPickDecided is returned when a terminal pick is mutated.
	ErrPickDecided = errors.New("pick already decided")
	// ErrTeamAlreadyUsed is returned when an entry reuses a team.
	ErrTeamAlreadyUsed = errors.New("team already used by this entry")
	// ErrInsufficientFunds is returned when balance plus credit cannot cover the fee.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrReferralCodeTaken is returned when a generated referral code collides.
	ErrReferralCodeTaken = errors.New("referral code already taken")
	// ErrMagicLinkNotFound is returned when no magic link matches the token.
	ErrMagicLinkNotFound = errors.New("magic link not found")
)

// PostgresRepository provides access to the PostgreSQL data store.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a repository and initializes the schema via migrations.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Serialization failures and deadlocks are safe to retry; the
		// transaction has rolled back completely.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Close closes the database connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// NewUserParams carries the fields needed to create a user row.
type NewUserParams struct {
	Email         string
	PasswordHash  []byte
	FirstName     string
	LastName      string
	DateOfBirth   time.Time
	AddressLine1  string
	AddressLine2  string
	City          string
	State         string
	ZipCode       string
	Country       string
	PayPalPayerID *string
	PayPalEmail   *string
}

// CreateUser creates a new user.
func (r *PostgresRepository) CreateUser(ctx context.Context, p NewUserParams) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (
			email, password_hash, first_name, last_name, date_of_birth,
			address_line1, address_line2, city, state, zip_code, country,
			paypal_payer_id, paypal_email
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id`,
		strings.ToLower(p.Email), p.PasswordHash, p.FirstName, p.LastName, p.DateOfBirth,
		p.AddressLine1, p.AddressLine2, p.City, p.State, p.ZipCode, p.Country,
		p.PayPalPayerID, p.PayPalEmail,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, p.Email)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

const userColumns = `id, email, password_hash, first_name, last_name, date_of_birth,
	address_line1, address_line2, city, state, zip_code, country,
	account_status, balance_cents, credit_cents, paypal_payer_id, paypal_email,
	referral_code, referred_by, referral_credited, is_admin, last_login_at, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var status string
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.DateOfBirth,
		&u.AddressLine1, &u.AddressLine2, &u.City, &u.State, &u.ZipCode, &u.Country,
		&status, &u.BalanceCents, &u.CreditCents, &u.PayPalPayerID, &u.PayPalEmail,
		&u.ReferralCode, &u.ReferredBy, &u.ReferralCredited, &u.IsAdmin, &u.LastLoginAt, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.AccountStatus = model.AccountStatus(status)
	return &u, nil
}

// GetUserByID returns a user by id.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByEmail returns a user by email (case-insensitive).
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email))))
}

// GetUserByPayerID returns the user bound to the given payment provider payer id.
func (r *PostgresRepository) GetUserByPayerID(ctx context.Context, payerID string) (*model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE paypal_payer_id = $1`, payerID))
}

// GetUserByReferralCode returns the user owning the given referral code.
func (r *PostgresRepository) GetUserByReferralCode(ctx context.Context, code string) (*model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE referral_code = $1`,
		strings.ToUpper(strings.TrimSpace(code))))
}

// UpdateLastLogin stamps the user's last login time.
func (r *PostgresRepository) UpdateLastLogin(ctx context.Context, userID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET last_login_at = now() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// BindPayerID links a payment provider identity to the user, first write
// wins. A user whose payer id is already set keeps the existing binding.
func (r *PostgresRepository) BindPayerID(ctx context.Context, userID int64, payerID string, payerEmail *string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET paypal_payer_id = $2, paypal_email = COALESCE($3, paypal_email)
		 WHERE id = $1 AND paypal_payer_id IS NULL`,
		userID, payerID, payerEmail)
	if err != nil {
		return fmt.Errorf("bind payer id: %w", err)
	}
	return nil
}

// SetReferralCode assigns a referral code to the user. Collisions with an
// existing code map to ErrReferralCodeTaken so the caller can retry.
func (r *PostgresRepository) SetReferralCode(ctx context.Context, userID int64, code string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET referral_code = $2 WHERE id = $1`, userID, code)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrReferralCodeTaken
		}
		return fmt.Errorf("set referral code: %w", err)
	}
	return nil
}

// TrackReferral records that referrerID referred userID: sets referred_by
// and inserts the referral pair without crediting it yet. The insert is
// conflict tolerant.
func (r *PostgresRepository) TrackReferral(ctx context.Context, referrerID, userID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE users SET referred_by = $1 WHERE id = $2`, referrerID, userID); err != nil {
		return fmt.Errorf("set referred_by: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO referrals (referrer_id, referred_id, credit_awarded)
		 VALUES ($1, $2, false)
		 ON CONFLICT (referrer_id, referred_id) DO NOTHING`,
		referrerID, userID); err != nil {
		return fmt.Errorf("insert referral: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CreateMagicLink stores a single-use login token.
func (r *PostgresRepository) CreateMagicLink(ctx context.Context, userID int64, token string, expiresAt time.Time, ip string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO magic_links (user_id, token, expires_at, ip_address)
		 VALUES ($1, $2, $3, $4)`,
		userID, token, expiresAt, ip)
	if err != nil {
		return fmt.Errorf("insert magic link: %w", err)
	}
	return nil
}

// GetMagicLink returns the magic link matching the token.
func (r *PostgresRepository) GetMagicLink(ctx context.Context, token string) (*model.MagicLink, error) {
	var ml model.MagicLink
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, token, expires_at, used, used_at, ip_address, created_at
		 FROM magic_links WHERE token = $1`,
		token,
	).Scan(&ml.ID, &ml.UserID, &ml.Token, &ml.ExpiresAt, &ml.Used, &ml.UsedAt, &ml.IPAddress, &ml.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMagicLinkNotFound
		}
		return nil, fmt.Errorf("get magic link: %w", err)
	}
	return &ml, nil
}

// MarkMagicLinkUsed latches the token as consumed. Returns ErrMagicLinkNotFound
// when the link was consumed concurrently.
func (r *PostgresRepository) MarkMagicLinkUsed(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE magic_links SET used = true, used_at = now() WHERE id = $1 AND used = false`, id)
	if err != nil {
		return fmt.Errorf("mark magic link used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMagicLinkNotFound
	}
	return nil
}

// InsertAuditEvent appends a best-effort audit row. Callers log and swallow
// the error; audit failures never roll back the primary operation.
func (r *PostgresRepository) InsertAuditEvent(ctx context.Context, userID *int64, eventType string, data any, ip string) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO audit_log (user_id, event_type, event_data, ip_address)
		 VALUES ($1, $2, $3, $4)`,
		userID, eventType, payload, ip)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

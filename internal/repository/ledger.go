package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/greatescape/api/internal/model"
)

// PurchaseParams describes one entry purchase to execute atomically.
type PurchaseParams struct {
	UserID   int64
	PoolID   int64
	FeeCents int64
	Source   model.PaymentSource
	Pick     *model.PickSelection
}

// PurchaseResult reports what a committed purchase did.
type PurchaseResult struct {
	EntryID          int64
	EntryNumber      int
	CreditsUsedCents int64
	BalanceUsedCents int64
}

// PurchaseEntry executes the entry-purchase ledger transaction: it creates
// the entry (and optional pick), moves funds, appends the ledger rows and
// maintains the pool aggregates, all or nothing.
//
// The user row and then the pool row are locked FOR UPDATE for the duration
// of the transaction, so concurrent purchases into the same pool serialize
// on the aggregate update and concurrent spends by the same user serialize
// on the balance. Deadlocks and serialization failures are retried as a
// whole transaction.
func (r *PostgresRepository) PurchaseEntry(ctx context.Context, p PurchaseParams) (*PurchaseResult, error) {
	var res *PurchaseResult
	err := r.withRetry(ctx, func() error {
		var txErr error
		res, txErr = r.purchaseEntryTx(ctx, p)
		return txErr
	})
	return res, err
}

func (r *PostgresRepository) purchaseEntryTx(ctx context.Context, p PurchaseParams) (*PurchaseResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock order is user then pool, everywhere, to keep concurrent
	// purchases deadlock free.
	var balance, credit int64
	err = tx.QueryRow(ctx,
		`SELECT balance_cents, credit_cents FROM users WHERE id = $1 FOR UPDATE`,
		p.UserID,
	).Scan(&balance, &credit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lock user: %w", err)
	}

	var gameweek int
	var status string
	var deadline time.Time
	var prizePool int64
	err = tx.QueryRow(ctx,
		`SELECT gameweek, status, entry_deadline, prize_pool_cents
		 FROM pools WHERE id = $1 FOR UPDATE`,
		p.PoolID,
	).Scan(&gameweek, &status, &deadline, &prizePool)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPoolNotFound
		}
		return nil, fmt.Errorf("lock pool: %w", err)
	}

	// Re-checked under the lock; the service-level pre-check may have
	// raced a closing pool.
	if model.PoolStatus(status) == model.PoolStatusCompleted {
		return nil, ErrPoolClosed
	}
	if !time.Now().Before(deadline) {
		return nil, ErrDeadlinePassed
	}

	var entryNumber int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(entry_number), 0) + 1 FROM entries WHERE user_id = $1 AND pool_id = $2`,
		p.UserID, p.PoolID,
	).Scan(&entryNumber)
	if err != nil {
		return nil, fmt.Errorf("next entry number: %w", err)
	}

	var entryID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO entries (user_id, pool_id, entry_number, status, entry_fee_cents)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		p.UserID, p.PoolID, entryNumber, string(model.EntryStatusActive), p.FeeCents,
	).Scan(&entryID)
	if err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}

	result := &PurchaseResult{EntryID: entryID, EntryNumber: entryNumber}

	switch p.Source.Kind {
	case model.PaymentSourceProvider:
		if err := r.debitProvider(ctx, tx, p, entryID, gameweek); err != nil {
			return nil, err
		}
	case model.PaymentSourceInternal:
		used, err := r.debitInternal(ctx, tx, p, entryID, gameweek, balance, credit)
		if err != nil {
			return nil, err
		}
		result.CreditsUsedCents = used.credits
		result.BalanceUsedCents = used.balance
	default:
		return nil, fmt.Errorf("unknown payment source %q", p.Source.Kind)
	}

	if p.Pick != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO picks (entry_id, pool_id, gameweek, team_id, team_name, team_crest, match_id, result)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			entryID, p.PoolID, gameweek, p.Pick.TeamID, p.Pick.TeamName, p.Pick.TeamCrest, p.Pick.MatchID,
			string(model.PickResultPending),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, ErrTeamAlreadyUsed
			}
			return nil, fmt.Errorf("insert pick: %w", err)
		}
	}

	// Aggregates are derived from the new prize pool rather than
	// incremented; the row lock makes the read-derive-write safe.
	newPrizePool := prizePool + p.FeeCents
	platformFee, winnerPayout := poolAggregates(newPrizePool)
	_, err = tx.Exec(ctx,
		`UPDATE pools SET
			total_entries = total_entries + 1,
			prize_pool_cents = $2,
			platform_fee_cents = $3,
			winner_payout_cents = $4
		 WHERE id = $1`,
		p.PoolID, newPrizePool, platformFee, winnerPayout,
	)
	if err != nil {
		return nil, fmt.Errorf("update pool totals: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return result, nil
}

// debitProvider records an externally captured payment: the fee is credited
// to the balance as a deposit and immediately debited as the entry purchase.
// Net zero on the balance, two ledger rows for the audit trail.
func (r *PostgresRepository) debitProvider(ctx context.Context, tx pgx.Tx, p PurchaseParams, entryID int64, gameweek int) error {
	if _, err := tx.Exec(ctx,
		`UPDATE users SET balance_cents = balance_cents + $2 WHERE id = $1`,
		p.UserID, p.FeeCents); err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}

	var depositID int64
	err := tx.QueryRow(ctx,
		`INSERT INTO transactions (
			user_id, type, status, amount_cents, fee_cents, net_amount_cents,
			payment_provider, provider_transaction_id, payment_method, pool_id, description
		 ) VALUES ($1, $2, 'completed', $3, 0, $3, 'paypal', $4, 'paypal', $5, $6)
		 RETURNING id`,
		p.UserID, string(model.TransactionTypeDeposit), p.FeeCents, p.Source.CaptureRef, p.PoolID,
		"Entry fee payment via PayPal",
	).Scan(&depositID)
	if err != nil {
		return fmt.Errorf("insert deposit transaction: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE entries SET transaction_id = $2 WHERE id = $1`,
		entryID, depositID); err != nil {
		return fmt.Errorf("link entry transaction: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE users SET balance_cents = balance_cents - $2 WHERE id = $1`,
		p.UserID, p.FeeCents); err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO transactions (
			user_id, type, status, amount_cents, fee_cents, net_amount_cents,
			payment_provider, pool_id, entry_id, description
		 ) VALUES ($1, $2, 'completed', $3, 0, $3, 'balance', $4, $5, $6)`,
		p.UserID, string(model.TransactionTypeEntryPurchase), p.FeeCents, p.PoolID, entryID,
		fmt.Sprintf("Entry purchase for Matchday %d", gameweek)); err != nil {
		return fmt.Errorf("insert purchase transaction: %w", err)
	}

	return nil
}

type fundsUsed struct {
	credits int64
	balance int64
}

// splitFunds applies the spending policy for internally funded entries:
// credits cover the fee first, the withdrawable balance pays the remainder.
func splitFunds(feeCents, creditCents int64) fundsUsed {
	used := fundsUsed{credits: creditCents}
	if used.credits > feeCents {
		used.credits = feeCents
	}
	used.balance = feeCents - used.credits
	return used
}

// poolAggregates derives the platform fee (10%, integer cents) and winner
// payout from a prize pool total. The two always sum back to the total.
func poolAggregates(prizePoolCents int64) (platformFeeCents, winnerPayoutCents int64) {
	platformFeeCents = prizePoolCents / 10
	return platformFeeCents, prizePoolCents - platformFeeCents
}

// debitInternal pays the fee from the user's funds, credits first and the
// remainder from the withdrawable balance. Balances were read under the
// user row lock, so the check here is authoritative.
func (r *PostgresRepository) debitInternal(ctx context.Context, tx pgx.Tx, p PurchaseParams, entryID int64, gameweek int, balance, credit int64) (fundsUsed, error) {
	used := splitFunds(p.FeeCents, credit)

	if balance < used.balance {
		return fundsUsed{}, ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx,
		`UPDATE users SET credit_cents = credit_cents - $2, balance_cents = balance_cents - $3
		 WHERE id = $1`,
		p.UserID, used.credits, used.balance); err != nil {
		return fundsUsed{}, fmt.Errorf("debit funds: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO transactions (
			user_id, type, status, amount_cents, fee_cents, net_amount_cents,
			payment_provider, pool_id, entry_id, description
		 ) VALUES ($1, $2, 'completed', $3, 0, $3, 'balance', $4, $5, $6)`,
		p.UserID, string(model.TransactionTypeEntryPurchase), p.FeeCents, p.PoolID, entryID,
		fmt.Sprintf("Entry purchase for Matchday %d using balance", gameweek)); err != nil {
		return fundsUsed{}, fmt.Errorf("insert purchase transaction: %w", err)
	}

	return used, nil
}

// AwardReferralCredit awards the referral bonus to both sides of a referral
// pair exactly once. Returns false without mutating anything when the pair
// has already been credited.
func (r *PostgresRepository) AwardReferralCredit(ctx context.Context, referrerID, referredID, bonusCents int64) (bool, error) {
	var awarded bool
	err := r.withRetry(ctx, func() error {
		var txErr error
		awarded, txErr = r.awardReferralCreditTx(ctx, referrerID, referredID, bonusCents)
		return txErr
	})
	return awarded, err
}

func (r *PostgresRepository) awardReferralCreditTx(ctx context.Context, referrerID, referredID, bonusCents int64) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Both user rows are locked in ascending id order so that two
	// concurrent awards touching the same users cannot deadlock.
	firstID, secondID := referrerID, referredID
	if secondID < firstID {
		firstID, secondID = secondID, firstID
	}
	for _, id := range []int64{firstID, secondID} {
		var dummy int
		if err := tx.QueryRow(ctx,
			`SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&dummy); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return false, ErrUserNotFound
			}
			return false, fmt.Errorf("lock user: %w", err)
		}
	}

	var creditAwarded *bool
	err = tx.QueryRow(ctx,
		`SELECT credit_awarded FROM referrals WHERE referrer_id = $1 AND referred_id = $2`,
		referrerID, referredID,
	).Scan(&creditAwarded)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("select referral: %w", err)
	}
	if creditAwarded != nil && *creditAwarded {
		return false, nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE users SET credit_cents = credit_cents + $1 WHERE id = $2`,
		bonusCents, referrerID); err != nil {
		return false, fmt.Errorf("credit referrer: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE users SET credit_cents = credit_cents + $1, referral_credited = true WHERE id = $2`,
		bonusCents, referredID); err != nil {
		return false, fmt.Errorf("credit referred user: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO referrals (referrer_id, referred_id, credit_awarded, credit_awarded_at)
		 VALUES ($1, $2, true, now())
		 ON CONFLICT (referrer_id, referred_id)
		 DO UPDATE SET credit_awarded = true, credit_awarded_at = now()`,
		referrerID, referredID); err != nil {
		return false, fmt.Errorf("upsert referral: %w", err)
	}

	for _, row := range []struct {
		userID int64
		event  string
		data   map[string]int64
	}{
		{referrerID, "referral_credit_awarded", map[string]int64{"referredUserId": referredID, "amount": bonusCents}},
		{referredID, "referral_credit_received", map[string]int64{"referrerId": referrerID, "amount": bonusCents}},
	} {
		if err := insertAuditTx(ctx, tx, row.userID, row.event, row.data); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}

	return true, nil
}

func insertAuditTx(ctx context.Context, tx pgx.Tx, userID int64, eventType string, data map[string]int64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO audit_log (user_id, event_type, event_data)
		 VALUES ($1, $2, $3)`,
		userID, eventType, data)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ReferralStats summarizes a user's referral activity.
type ReferralStats struct {
	Total    int64
	Credited int64
	Pending  int64
}

// GetReferralStats returns aggregate referral counts for the referrer.
func (r *PostgresRepository) GetReferralStats(ctx context.Context, referrerID int64) (*ReferralStats, error) {
	var s ReferralStats
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE credit_awarded),
			COUNT(*) FILTER (WHERE NOT credit_awarded)
		 FROM referrals WHERE referrer_id = $1`,
		referrerID,
	).Scan(&s.Total, &s.Credited, &s.Pending)
	if err != nil {
		return nil, fmt.Errorf("referral stats: %w", err)
	}
	return &s, nil
}

// ReferredUser is one row of a referrer's referred-user listing.
type ReferredUser struct {
	ID       int64
	Name     string
	Email    string
	Credited bool
	JoinedAt time.Time
}

// GetReferredUsers lists the most recent users referred by the referrer.
func (r *PostgresRepository) GetReferredUsers(ctx context.Context, referrerID int64, limit int) ([]ReferredUser, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.first_name, u.email, rf.credit_awarded, rf.created_at
		 FROM referrals rf
		 JOIN users u ON u.id = rf.referred_id
		 WHERE rf.referrer_id = $1
		 ORDER BY rf.created_at DESC
		 LIMIT $2`,
		referrerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select referred users: %w", err)
	}
	defer rows.Close()

	var res []ReferredUser
	for rows.Next() {
		var u ReferredUser
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Credited, &u.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan referred user: %w", err)
		}
		res = append(res, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetTransactionsByUser returns the user's ledger history, newest first.
func (r *PostgresRepository) GetTransactionsByUser(ctx context.Context, userID int64) ([]model.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, type, status, amount_cents, fee_cents, net_amount_cents,
			payment_provider, provider_transaction_id, payment_method, pool_id, entry_id,
			description, created_at
		 FROM transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var typ string
		if err := rows.Scan(
			&t.ID, &t.UserID, &typ, &t.Status, &t.AmountCents, &t.FeeCents, &t.NetAmountCents,
			&t.PaymentProvider, &t.ProviderTransactionID, &t.PaymentMethod, &t.PoolID, &t.EntryID,
			&t.Description, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Type = model.TransactionType(typ)
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

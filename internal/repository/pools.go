package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/greatescape/api/internal/model"
)

const poolColumns = `id, gameweek, season, status, entry_deadline, pick_deadline,
	first_match_kickoff, total_entries, prize_pool_cents, platform_fee_cents,
	winner_payout_cents, created_at`

func scanPool(row pgx.Row) (*model.Pool, error) {
	var p model.Pool
	var status string
	err := row.Scan(
		&p.ID, &p.Gameweek, &p.Season, &status, &p.EntryDeadline, &p.PickDeadline,
		&p.FirstMatchKickoff, &p.TotalEntries, &p.PrizePoolCents, &p.PlatformFeeCents,
		&p.WinnerPayoutCents, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPoolNotFound
		}
		return nil, fmt.Errorf("scan pool: %w", err)
	}
	p.Status = model.PoolStatus(status)
	return &p, nil
}

// GetPoolByID returns a pool by id.
func (r *PostgresRepository) GetPoolByID(ctx context.Context, id int64) (*model.Pool, error) {
	return scanPool(r.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE id = $1`, id))
}

// GetCurrentPool returns the earliest active pool still accepting entries.
func (r *PostgresRepository) GetCurrentPool(ctx context.Context) (*model.Pool, error) {
	return scanPool(r.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pools
		 WHERE status = 'active' AND entry_deadline > now()
		 ORDER BY gameweek ASC
		 LIMIT 1`))
}

// ListPools returns all pools, optionally filtered by status, in gameweek order.
func (r *PostgresRepository) ListPools(ctx context.Context, status string) ([]model.Pool, error) {
	q := `SELECT ` + poolColumns + ` FROM pools`
	args := []any{}
	if status != "" {
		q += ` WHERE status = $1`
		args = append(args, status)
	}
	q += ` ORDER BY gameweek ASC`

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select pools: %w", err)
	}
	defer rows.Close()

	var res []model.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetPickDistribution returns how many entries picked each team in the pool.
func (r *PostgresRepository) GetPickDistribution(ctx context.Context, poolID int64) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT team_name, COUNT(*)
		 FROM picks
		 WHERE pool_id = $1
		 GROUP BY team_name
		 ORDER BY COUNT(*) DESC`,
		poolID,
	)
	if err != nil {
		return nil, fmt.Errorf("select pick distribution: %w", err)
	}
	defer rows.Close()

	res := make(map[string]int64)
	for rows.Next() {
		var team string
		var count int64
		if err := rows.Scan(&team, &count); err != nil {
			return nil, fmt.Errorf("scan distribution: %w", err)
		}
		res[team] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// EntrySummary is one row of a user's entry listing.
type EntrySummary struct {
	Entry        model.Entry
	PoolGameweek int
	PoolStatus   model.PoolStatus
	TotalPicks   int64
	WinningPicks int64
	LosingPicks  int64
}

// ListEntriesByUser returns the user's entries with pick counts, newest first.
func (r *PostgresRepository) ListEntriesByUser(ctx context.Context, userID int64) ([]EntrySummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT
			e.id, e.user_id, e.pool_id, e.entry_number, e.status,
			e.entry_fee_cents, e.payout_cents, e.eliminated_gameweek, e.transaction_id, e.created_at,
			p.gameweek, p.status,
			(SELECT COUNT(*) FROM picks WHERE entry_id = e.id),
			(SELECT COUNT(*) FROM picks WHERE entry_id = e.id AND result = 'win'),
			(SELECT COUNT(*) FROM picks WHERE entry_id = e.id AND result = 'loss')
		 FROM entries e
		 JOIN pools p ON p.id = e.pool_id
		 WHERE e.user_id = $1
		 ORDER BY e.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	defer rows.Close()

	var res []EntrySummary
	for rows.Next() {
		var s EntrySummary
		var entryStatus, poolStatus string
		if err := rows.Scan(
			&s.Entry.ID, &s.Entry.UserID, &s.Entry.PoolID, &s.Entry.EntryNumber, &entryStatus,
			&s.Entry.EntryFeeCents, &s.Entry.PayoutCents, &s.Entry.EliminatedGameweek, &s.Entry.TransactionID, &s.Entry.CreatedAt,
			&s.PoolGameweek, &poolStatus,
			&s.TotalPicks, &s.WinningPicks, &s.LosingPicks,
		); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		s.Entry.Status = model.EntryStatus(entryStatus)
		s.PoolStatus = model.PoolStatus(poolStatus)
		res = append(res, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetEntryOwner returns the owning user id of an entry.
func (r *PostgresRepository) GetEntryOwner(ctx context.Context, entryID int64) (int64, error) {
	var userID int64
	err := r.pool.QueryRow(ctx,
		`SELECT user_id FROM entries WHERE id = $1`, entryID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrEntryNotFound
		}
		return 0, fmt.Errorf("select entry owner: %w", err)
	}
	return userID, nil
}

// GetPicksByEntry returns all picks of an entry in gameweek order.
func (r *PostgresRepository) GetPicksByEntry(ctx context.Context, entryID int64) ([]model.Pick, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, entry_id, pool_id, gameweek, team_id, team_name, team_crest,
			match_id, result, picked_at, result_time
		 FROM picks
		 WHERE entry_id = $1
		 ORDER BY gameweek ASC`,
		entryID,
	)
	if err != nil {
		return nil, fmt.Errorf("select picks: %w", err)
	}
	defer rows.Close()

	var res []model.Pick
	for rows.Next() {
		p, err := scanPick(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func scanPick(row pgx.Row) (*model.Pick, error) {
	var p model.Pick
	var result string
	err := row.Scan(
		&p.ID, &p.EntryID, &p.PoolID, &p.Gameweek, &p.TeamID, &p.TeamName, &p.TeamCrest,
		&p.MatchID, &result, &p.PickedAt, &p.ResultTime,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPickNotFound
		}
		return nil, fmt.Errorf("scan pick: %w", err)
	}
	p.Result = model.PickResult(result)
	return &p, nil
}

// UserEntryStats aggregates a user's entries and money flow.
type UserEntryStats struct {
	TotalEntries       int64
	ActiveEntries      int64
	EliminatedEntries  int64
	WinningEntries     int64
	TotalSpentCents    int64
	TotalWinningsCents int64
}

// GetUserEntryStats returns aggregate entry statistics for the user.
func (r *PostgresRepository) GetUserEntryStats(ctx context.Context, userID int64) (*UserEntryStats, error) {
	var s UserEntryStats
	err := r.pool.QueryRow(ctx,
		`SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'eliminated'),
			COUNT(*) FILTER (WHERE status = 'winner'),
			COALESCE(SUM(entry_fee_cents), 0),
			COALESCE(SUM(payout_cents) FILTER (WHERE status = 'winner'), 0)
		 FROM entries
		 WHERE user_id = $1`,
		userID,
	).Scan(&s.TotalEntries, &s.ActiveEntries, &s.EliminatedEntries, &s.WinningEntries,
		&s.TotalSpentCents, &s.TotalWinningsCents)
	if err != nil {
		return nil, fmt.Errorf("entry stats: %w", err)
	}
	return &s, nil
}

// PickDetail is a pick joined with its owner and pool deadline, used to
// validate edits.
type PickDetail struct {
	Pick     model.Pick
	UserID   int64
	Deadline time.Time
}

// GetPickDetail returns the pick with the context needed for edit validation.
func (r *PostgresRepository) GetPickDetail(ctx context.Context, pickID int64) (*PickDetail, error) {
	var d PickDetail
	var result string
	err := r.pool.QueryRow(ctx,
		`SELECT p.id, p.entry_id, p.pool_id, p.gameweek, p.team_id, p.team_name, p.team_crest,
			p.match_id, p.result, p.picked_at, p.result_time,
			e.user_id, po.entry_deadline
		 FROM picks p
		 JOIN entries e ON e.id = p.entry_id
		 JOIN pools po ON po.id = e.pool_id
		 WHERE p.id = $1`,
		pickID,
	).Scan(
		&d.Pick.ID, &d.Pick.EntryID, &d.Pick.PoolID, &d.Pick.Gameweek, &d.Pick.TeamID,
		&d.Pick.TeamName, &d.Pick.TeamCrest, &d.Pick.MatchID, &result, &d.Pick.PickedAt,
		&d.Pick.ResultTime, &d.UserID, &d.Deadline,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPickNotFound
		}
		return nil, fmt.Errorf("select pick detail: %w", err)
	}
	d.Pick.Result = model.PickResult(result)
	return &d, nil
}

// UpdatePickTeam changes the team of a still-pending pick. The unique
// constraint on (entry_id, team_id) backstops the application-level
// team-reuse check.
func (r *PostgresRepository) UpdatePickTeam(ctx context.Context, pickID int64, sel model.PickSelection) (*model.Pick, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE picks
		 SET team_id = $2, team_name = $3, team_crest = $4, match_id = $5
		 WHERE id = $1 AND result = 'pending'
		 RETURNING id, entry_id, pool_id, gameweek, team_id, team_name, team_crest,
			match_id, result, picked_at, result_time`,
		pickID, sel.TeamID, sel.TeamName, sel.TeamCrest, sel.MatchID,
	)

	p, err := scanPick(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrTeamAlreadyUsed
		}
		if errors.Is(err, ErrPickNotFound) {
			return nil, ErrPickDecided
		}
		return nil, err
	}
	return p, nil
}

// PendingPick is one row of the admin pending-results listing.
type PendingPick struct {
	Pick         model.Pick
	EntryNumber  int
	EntryStatus  model.EntryStatus
	UserID       int64
	UserEmail    string
	UserName     string
	PoolGameweek int
}

// GetPendingPicks lists all picks still awaiting a result.
func (r *PostgresRepository) GetPendingPicks(ctx context.Context) ([]PendingPick, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.entry_id, p.pool_id, p.gameweek, p.team_id, p.team_name, p.team_crest,
			p.match_id, p.result, p.picked_at, p.result_time,
			e.entry_number, e.status,
			u.id, u.email, u.first_name || ' ' || u.last_name,
			po.gameweek
		 FROM picks p
		 JOIN entries e ON e.id = p.entry_id
		 JOIN users u ON u.id = e.user_id
		 JOIN pools po ON po.id = e.pool_id
		 WHERE p.result = 'pending'
		 ORDER BY p.gameweek ASC, p.picked_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("select pending picks: %w", err)
	}
	defer rows.Close()

	var res []PendingPick
	for rows.Next() {
		var pp PendingPick
		var result, entryStatus string
		if err := rows.Scan(
			&pp.Pick.ID, &pp.Pick.EntryID, &pp.Pick.PoolID, &pp.Pick.Gameweek, &pp.Pick.TeamID,
			&pp.Pick.TeamName, &pp.Pick.TeamCrest, &pp.Pick.MatchID, &result, &pp.Pick.PickedAt,
			&pp.Pick.ResultTime, &pp.EntryNumber, &entryStatus,
			&pp.UserID, &pp.UserEmail, &pp.UserName, &pp.PoolGameweek,
		); err != nil {
			return nil, fmt.Errorf("scan pending pick: %w", err)
		}
		pp.Pick.Result = model.PickResult(result)
		pp.EntryStatus = model.EntryStatus(entryStatus)
		res = append(res, pp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SetPickResult records the result of a pending pick and, on loss or draw,
// eliminates the owning entry with the supplied gameweek. One transaction.
func (r *PostgresRepository) SetPickResult(ctx context.Context, pickID int64, result model.PickResult, gameweek *int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var entryID int64
	var current string
	err = tx.QueryRow(ctx,
		`SELECT entry_id, result FROM picks WHERE id = $1 FOR UPDATE`,
		pickID,
	).Scan(&entryID, &current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPickNotFound
		}
		return fmt.Errorf("lock pick: %w", err)
	}

	if model.PickResult(current).IsTerminal() {
		return ErrPickDecided
	}

	if _, err := tx.Exec(ctx,
		`UPDATE picks SET result = $2, result_time = now() WHERE id = $1`,
		pickID, string(result)); err != nil {
		return fmt.Errorf("update pick result: %w", err)
	}

	if result.Eliminates() {
		if _, err := tx.Exec(ctx,
			`UPDATE entries SET status = $2, eliminated_gameweek = $3 WHERE id = $1`,
			entryID, string(model.EntryStatusEliminated), gameweek); err != nil {
			return fmt.Errorf("eliminate entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// PoolStandings summarizes a pool's entries and the most picked teams.
type PoolStandings struct {
	ActiveEntries     int64
	EliminatedEntries int64
	TotalEntries      int64
	TopPicks          []TeamPickCount
}

// TeamPickCount is a per-team pick tally with results.
type TeamPickCount struct {
	TeamName  string
	PickCount int64
	Wins      int64
	Losses    int64
	Draws     int64
}

// GetPoolStandings returns entry counts and the ten most picked teams of a pool.
func (r *PostgresRepository) GetPoolStandings(ctx context.Context, poolID int64) (*PoolStandings, error) {
	var s PoolStandings
	err := r.pool.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'eliminated'),
			COUNT(*)
		 FROM entries WHERE pool_id = $1`,
		poolID,
	).Scan(&s.ActiveEntries, &s.EliminatedEntries, &s.TotalEntries)
	if err != nil {
		return nil, fmt.Errorf("pool entry counts: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT team_name,
			COUNT(*),
			COUNT(*) FILTER (WHERE result = 'win'),
			COUNT(*) FILTER (WHERE result = 'loss'),
			COUNT(*) FILTER (WHERE result = 'draw')
		 FROM picks
		 WHERE pool_id = $1
		 GROUP BY team_name
		 ORDER BY COUNT(*) DESC
		 LIMIT 10`,
		poolID,
	)
	if err != nil {
		return nil, fmt.Errorf("select top picks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t TeamPickCount
		if err := rows.Scan(&t.TeamName, &t.PickCount, &t.Wins, &t.Losses, &t.Draws); err != nil {
			return nil, fmt.Errorf("scan top pick: %w", err)
		}
		s.TopPicks = append(s.TopPicks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &s, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

var _ domain.Store = (*Store)(nil)

// PostgreSQL error codes the store translates into domain errors.
const (
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"
)

// querier is the subset of pgx shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements domain.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const marketCols = `id, title, description, liquidity, yes_shares, no_shares,
	resolved, outcome, created_at, expires_at, resolved_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var outcome *string
	err := row.Scan(
		&m.ID, &m.Title, &m.Description, &m.Liquidity, &m.YesShares, &m.NoShares,
		&m.Resolved, &outcome, &m.CreatedAt, &m.ExpiresAt, &m.ResolvedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	if outcome != nil {
		side := domain.Side(*outcome)
		m.Outcome = &side
	}
	return m, nil
}

const userCols = `id, username, password_hash, balance, last_bonus_claim, last_login, created_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Balance,
		&u.LastBonusClaim, &u.LastLogin, &u.CreatedAt)
	return u, err
}

const betCols = `id, user_id, market_id, side, amount, price, total_cost, voided, created_at`

func collectBets(rows pgx.Rows) ([]domain.Bet, error) {
	defer rows.Close()
	var out []domain.Bet
	for rows.Next() {
		var b domain.Bet
		var side string
		if err := rows.Scan(&b.ID, &b.UserID, &b.MarketID, &side, &b.Amount,
			&b.Price, &b.TotalCost, &b.Voided, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		b.Side = domain.Side(side)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: bets rows: %w", err)
	}
	return out, nil
}

// GetMarket retrieves a market by its primary key.
func (s *Store) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	return getMarket(ctx, s.pool, id, "")
}

func getMarket(ctx context.Context, q querier, id, suffix string) (domain.Market, error) {
	m, err := scanMarket(q.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`+suffix, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, domain.ErrMarketNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// ListMarkets returns markets newest first.
func (s *Store) ListMarkets(ctx context.Context, filter domain.MarketFilter) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE 1=1`
	args := []any{}
	if filter.Resolved != nil {
		args = append(args, *filter.Resolved)
		query += fmt.Sprintf(" AND resolved = $%d", len(args))
	}
	query, args = window(query, args, "created_at", filter.ListOpts)
	query += " ORDER BY created_at DESC, id"
	query, args = paginate(query, args, filter.ListOpts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return out, nil
}

// CreateMarket inserts a new market.
func (s *Store) CreateMarket(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (id, title, description, liquidity, yes_shares, no_shares,
			resolved, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8)`
	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Title, m.Description, m.Liquidity, m.YesShares, m.NoShares,
		m.CreatedAt, m.ExpiresAt,
	)
	if err != nil {
		if pgCode(err) == codeCheckViolation {
			return fmt.Errorf("postgres: create market %s: %w", m.ID, domain.ErrInvalidMarket)
		}
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	return getUser(ctx, s.pool, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
}

// GetUserByUsername retrieves a user by case-insensitive username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return getUser(ctx, s.pool, `SELECT `+userCols+` FROM users WHERE LOWER(username) = LOWER($1)`, username)
}

func getUser(ctx context.Context, q querier, query, key string) (domain.User, error) {
	u, err := scanUser(q.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, fmt.Errorf("postgres: get user %s: %w", key, domain.ErrUserNotFound)
		}
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", key, err)
	}
	return u, nil
}

// CreateUser inserts the user and its opening ledger entry in one
// transaction.
func (s *Store) CreateUser(ctx context.Context, u domain.User, opening domain.LedgerEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create user: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
		INSERT INTO users (id, username, password_hash, balance, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, query, u.ID, u.Username, u.PasswordHash, u.Balance, u.CreatedAt); err != nil {
		if pgCode(err) == codeUniqueViolation {
			return fmt.Errorf("postgres: create user %q: %w", u.Username, domain.ErrUsernameTaken)
		}
		return fmt.Errorf("postgres: create user %q: %w", u.Username, err)
	}
	if err := appendLedger(ctx, tx, opening); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create user: %w", err)
	}
	return nil
}

// TouchLogin records a successful login.
func (s *Store) TouchLogin(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("postgres: touch login %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: touch login %s: %w", id, domain.ErrUserNotFound)
	}
	return nil
}

// ListBetsByMarket returns every bet on a market, oldest first.
func (s *Store) ListBetsByMarket(ctx context.Context, marketID string) ([]domain.Bet, error) {
	return betsByMarket(ctx, s.pool, marketID)
}

func betsByMarket(ctx context.Context, q querier, marketID string) ([]domain.Bet, error) {
	rows, err := q.Query(ctx,
		`SELECT `+betCols+` FROM bets WHERE market_id = $1 ORDER BY created_at, id`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for market %s: %w", marketID, err)
	}
	return collectBets(rows)
}

// ListBetsByUser returns a user's bets, newest first.
func (s *Store) ListBetsByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Bet, error) {
	query := `SELECT ` + betCols + ` FROM bets WHERE user_id = $1`
	args := []any{userID}
	query, args = window(query, args, "created_at", opts)
	query += " ORDER BY created_at DESC, id"
	query, args = paginate(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for user %s: %w", userID, err)
	}
	return collectBets(rows)
}

// ListLedger returns a user's ledger entries, newest first.
func (s *Store) ListLedger(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	query := `SELECT id, user_id, COALESCE(market_id, ''), type, amount, description, created_at
		FROM transactions WHERE user_id = $1`
	args := []any{userID}
	query, args = window(query, args, "created_at", opts)
	query += " ORDER BY created_at DESC, id"
	query, args = paginate(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger for user %s: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var typ string
		if err := rows.Scan(&e.ID, &e.UserID, &e.MarketID, &typ, &e.Amount, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan ledger entry: %w", err)
		}
		e.Type = domain.LedgerType(typ)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list ledger rows: %w", err)
	}
	return out, nil
}

// ListPriceHistory returns a market's price points, oldest first.
func (s *Store) ListPriceHistory(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.PricePoint, error) {
	query := `SELECT market_id, price_yes, price_no, created_at FROM price_history WHERE market_id = $1`
	args := []any{marketID}
	query, args = window(query, args, "created_at", opts)
	query += " ORDER BY created_at, id"
	query, args = paginate(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list price history %s: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.PricePoint
	for rows.Next() {
		var p domain.PricePoint
		if err := rows.Scan(&p.MarketID, &p.PriceYes, &p.PriceNo, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan price point: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list price history rows: %w", err)
	}
	return out, nil
}

// InTx runs fn inside a database transaction. The transaction commits only
// if fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

func appendLedger(ctx context.Context, q querier, e domain.LedgerEntry) error {
	var marketID *string
	if e.MarketID != "" {
		marketID = &e.MarketID
	}
	const query = `
		INSERT INTO transactions (id, user_id, market_id, type, amount, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := q.Exec(ctx, query, e.ID, e.UserID, marketID, string(e.Type), e.Amount, e.Description, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: append ledger entry for %s: %w", e.UserID, err)
	}
	return nil
}

// window appends created_at style bounds from opts to query.
func window(query string, args []any, col string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND %s >= $%d", col, len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND %s <= $%d", col, len(args))
	}
	return query, args
}

func paginate(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// pgTx implements domain.Tx. Row locks taken by the ForUpdate reads are
// held until commit or rollback; callers lock the market row before the
// user row.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) MarketForUpdate(ctx context.Context, id string) (domain.Market, error) {
	return getMarket(ctx, t.tx, id, " FOR UPDATE")
}

func (t *pgTx) UserForUpdate(ctx context.Context, id string) (domain.User, error) {
	return getUser(ctx, t.tx, `SELECT `+userCols+` FROM users WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) BetsByMarket(ctx context.Context, marketID string) ([]domain.Bet, error) {
	return betsByMarket(ctx, t.tx, marketID)
}

func (t *pgTx) SaveMarketShares(ctx context.Context, m domain.Market) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE markets SET yes_shares = $2, no_shares = $3 WHERE id = $1 AND resolved = FALSE`,
		m.ID, m.YesShares, m.NoShares)
	if err != nil {
		return fmt.Errorf("postgres: save market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: save market %s: %w", m.ID, domain.ErrMarketClosed)
	}
	return nil
}

func (t *pgTx) ResolveMarket(ctx context.Context, m domain.Market) error {
	if m.Outcome == nil {
		return fmt.Errorf("postgres: resolve market %s: %w", m.ID, domain.ErrInvalidOutcome)
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE markets SET resolved = TRUE, outcome = $2, resolved_at = $3
		WHERE id = $1 AND resolved = FALSE`,
		m.ID, string(*m.Outcome), m.ResolvedAt)
	if err != nil {
		return fmt.Errorf("postgres: resolve market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: resolve market %s: %w", m.ID, domain.ErrAlreadyResolved)
	}
	return nil
}

func (t *pgTx) SaveUser(ctx context.Context, u domain.User) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE users SET balance = $2, last_bonus_claim = $3 WHERE id = $1`,
		u.ID, u.Balance, u.LastBonusClaim)
	if err != nil {
		if pgCode(err) == codeCheckViolation {
			return fmt.Errorf("postgres: save user %s: %w", u.ID, domain.ErrInsufficientFunds)
		}
		return fmt.Errorf("postgres: save user %s: %w", u.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: save user %s: %w", u.ID, domain.ErrUserNotFound)
	}
	return nil
}

func (t *pgTx) InsertBet(ctx context.Context, b domain.Bet) error {
	const query = `
		INSERT INTO bets (id, user_id, market_id, side, amount, price, total_cost, voided, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := t.tx.Exec(ctx, query,
		b.ID, b.UserID, b.MarketID, string(b.Side), b.Amount, b.Price, b.TotalCost, b.Voided, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert bet %s: %w", b.ID, err)
	}
	return nil
}

func (t *pgTx) AppendLedger(ctx context.Context, e domain.LedgerEntry) error {
	return appendLedger(ctx, t.tx, e)
}

func (t *pgTx) AppendPricePoint(ctx context.Context, p domain.PricePoint) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO price_history (market_id, price_yes, price_no, created_at) VALUES ($1, $2, $3, $4)`,
		p.MarketID, p.PriceYes, p.PriceNo, p.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: append price point %s: %w", p.MarketID, err)
	}
	return nil
}

package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// ArchiveSource is the read access the archiver needs. domain.Store
// satisfies it.
type ArchiveSource interface {
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListMarkets(ctx context.Context, filter domain.MarketFilter) ([]domain.Market, error)
	ListBetsByMarket(ctx context.Context, marketID string) ([]domain.Bet, error)
	ListPriceHistory(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.PricePoint, error)
}

// Archiver implements domain.Archiver. It writes one JSONL object per
// resolved market: a header line for the market, then every bet, then the
// price history. Archives are write-once; a market already archived is
// skipped.
type Archiver struct {
	source ArchiveSource
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore

	// Objects larger than this go through the multipart uploader.
	multipartThreshold int64
}

// NewArchiver creates an Archiver.
func NewArchiver(source ArchiveSource, writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *Archiver {
	return &Archiver{
		source:             source,
		writer:             writer,
		reader:             reader,
		audit:              audit,
		multipartThreshold: minPartSize,
	}
}

// archiveLine is one JSONL record. Exactly one of the payload fields is set.
type archiveLine struct {
	Kind   string            `json:"kind"`
	Market *marketRecord     `json:"market,omitempty"`
	Bet    *betRecord        `json:"bet,omitempty"`
	Price  *pricePointRecord `json:"price,omitempty"`
}

type marketRecord struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Liquidity   float64    `json:"liquidity"`
	YesShares   float64    `json:"yes_shares"`
	NoShares    float64    `json:"no_shares"`
	Outcome     string     `json:"outcome"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

type betRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Side      string    `json:"side"`
	Amount    float64   `json:"amount"`
	Price     float64   `json:"price"`
	TotalCost float64   `json:"total_cost"`
	Voided    bool      `json:"voided,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type pricePointRecord struct {
	PriceYes  float64   `json:"price_yes"`
	PriceNo   float64   `json:"price_no"`
	Timestamp time.Time `json:"timestamp"`
}

// ArchivePath is the object key for a market's ledger archive.
func ArchivePath(marketID string) string {
	return fmt.Sprintf("archive/markets/%s/ledger.jsonl", marketID)
}

// ArchiveMarket uploads the ledger of a resolved market and returns its
// object path. Unresolved markets are rejected with domain.ErrInvalidMarket.
func (a *Archiver) ArchiveMarket(ctx context.Context, marketID string) (string, error) {
	m, err := a.source.GetMarket(ctx, marketID)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %s: %w", marketID, err)
	}
	if !m.Resolved {
		return "", fmt.Errorf("s3blob: archive market %s: %w: not resolved", marketID, domain.ErrInvalidMarket)
	}

	path := ArchivePath(marketID)
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %s: %w", marketID, err)
	}
	if exists {
		return path, nil
	}

	bets, err := a.source.ListBetsByMarket(ctx, marketID)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %s bets: %w", marketID, err)
	}
	history, err := a.source.ListPriceHistory(ctx, marketID, domain.ListOpts{})
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %s history: %w", marketID, err)
	}

	buf, err := marshalJSONL(ledgerLines(m, bets, history))
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %s marshal: %w", marketID, err)
	}

	if int64(len(buf)) > a.multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), a.multipartThreshold)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %s upload: %w", marketID, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.market", map[string]any{
			"market_id": marketID,
			"path":      path,
			"bets":      len(bets),
			"bytes":     len(buf),
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive market %s audit log: %w", marketID, err)
		}
	}
	return path, nil
}

// ArchiveResolved archives every resolved market and returns how many
// objects it checked. It stops at the first failure.
func (a *Archiver) ArchiveResolved(ctx context.Context) (int, error) {
	resolved := true
	markets, err := a.source.ListMarkets(ctx, domain.MarketFilter{Resolved: &resolved})
	if err != nil {
		return 0, fmt.Errorf("s3blob: list resolved markets: %w", err)
	}
	for i, m := range markets {
		if _, err := a.ArchiveMarket(ctx, m.ID); err != nil {
			return i, err
		}
	}
	return len(markets), nil
}

func ledgerLines(m domain.Market, bets []domain.Bet, history []domain.PricePoint) []archiveLine {
	outcome := ""
	if m.Outcome != nil {
		outcome = string(*m.Outcome)
	}
	lines := make([]archiveLine, 0, 1+len(bets)+len(history))
	lines = append(lines, archiveLine{Kind: "market", Market: &marketRecord{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		Liquidity:   m.Liquidity,
		YesShares:   m.YesShares,
		NoShares:    m.NoShares,
		Outcome:     outcome,
		CreatedAt:   m.CreatedAt,
		ResolvedAt:  m.ResolvedAt,
	}})
	for _, b := range bets {
		lines = append(lines, archiveLine{Kind: "bet", Bet: &betRecord{
			ID:        b.ID,
			UserID:    b.UserID,
			Side:      string(b.Side),
			Amount:    b.Amount,
			Price:     b.Price,
			TotalCost: b.TotalCost,
			Voided:    b.Voided,
			CreatedAt: b.CreatedAt,
		}})
	}
	for _, p := range history {
		lines = append(lines, archiveLine{Kind: "price", Price: &pricePointRecord{
			PriceYes:  p.PriceYes,
			PriceNo:   p.PriceNo,
			Timestamp: p.Timestamp,
		}})
	}
	return lines
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)

// Package postgres is the durable store backend. Writers of one opportunity's
// aggregate serialise on its row lock (SELECT … FOR UPDATE) and every mutation
// commits in a single transaction, so cancelled or failed requests leave no
// partial state. Uniqueness of votes, NDA rows, comment tokens and provenance
// versions is enforced by the schema.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"asirinvest/core-service/internal/model"
	"asirinvest/core-service/internal/retry"
)

// Store implements every component store interface on a pgx pool.
type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// New returns a Store. timeout bounds each store call; zero means no bound
// beyond the caller's context.
func New(pool *pgxpool.Pool, timeout time.Duration) *Store {
	return &Store{pool: pool, timeout: timeout}
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// inTx runs fn in one transaction. fn receives the bounded context and must
// use it for every statement, lock waits included.
func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return classify(pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(ctx, tx)
	}))
}

// classify maps driver errors onto the domain: missing rows become
// model.ErrNotFound and errors worth another attempt are marked transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", // serialization_failure
			pgErr.Code == "40P01",             // deadlock_detected
			pgErr.Code == "57P01",             // admin_shutdown
			strings.HasPrefix(pgErr.Code, "08"): // connection exceptions
			return retry.MarkTransient(err)
		case pgErr.Code == "23503": // foreign_key_violation: the opportunity is gone
			return model.ErrNotFound
		}
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return retry.MarkTransient(err)
	}
	return err
}

// ─── Opportunities ───────────────────────────────────────────────────────────

const oppColumns = `id, title, description, sector, location, latitude, longitude,
	budget_required, expected_roi, status, owner_id, listed, is_protected,
	fingerprint_hash, fingerprint_timestamp, fingerprint_version, fingerprint_nonce,
	likes_count, dislikes_count, comments_count, created_at, updated_at`

func scanOpportunity(row pgx.Row) (model.Opportunity, error) {
	var (
		o       model.Opportunity
		stamped *time.Time
	)
	err := row.Scan(
		&o.ID, &o.Title, &o.Description, &o.Sector, &o.Location, &o.Latitude, &o.Longitude,
		&o.BudgetRequired, &o.ExpectedROI, &o.Status, &o.OwnerID, &o.Listed, &o.IsProtected,
		&o.FingerprintHash, &stamped, &o.FingerprintVersion, &o.FingerprintNonce,
		&o.LikesCount, &o.DislikesCount, &o.CommentsCount, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return model.Opportunity{}, err
	}
	if stamped != nil {
		o.FingerprintTimestamp = stamped.UTC()
	}
	return o, nil
}

// InsertDraft stores a new unlisted opportunity and assigns its id.
func (s *Store) InsertDraft(ctx context.Context, o model.Opportunity) (model.Opportunity, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	out, err := scanOpportunity(s.pool.QueryRow(ctx,
		`INSERT INTO opportunities
		   (title, description, sector, location, latitude, longitude, budget_required,
		    expected_roi, status, owner_id, is_protected, fingerprint_nonce)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING `+oppColumns,
		o.Title, o.Description, o.Sector, o.Location, o.Latitude, o.Longitude, o.BudgetRequired,
		o.ExpectedROI, o.Status, o.OwnerID, o.IsProtected, o.FingerprintNonce,
	))
	if err != nil {
		return model.Opportunity{}, fmt.Errorf("insertDraft: %w", classify(err))
	}
	return out, nil
}

// Publish marks a stamped opportunity as listed.
func (s *Store) Publish(ctx context.Context, id int64) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var stamped bool
	err := s.pool.QueryRow(ctx,
		`WITH upd AS (
		   UPDATE opportunities SET listed = true, updated_at = NOW()
		   WHERE id = $1 AND fingerprint_version > 0
		   RETURNING id
		 )
		 SELECT EXISTS (SELECT 1 FROM upd)
		 FROM opportunities WHERE id = $1`,
		id,
	).Scan(&stamped)
	if err != nil {
		return fmt.Errorf("publish: %w", classify(err))
	}
	if !stamped {
		return fmt.Errorf("cannot list unstamped opportunity %d", id)
	}
	return nil
}

// LoadOpportunity returns the stored opportunity, listed or not.
func (s *Store) LoadOpportunity(ctx context.Context, id int64) (model.Opportunity, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	o, err := scanOpportunity(s.pool.QueryRow(ctx,
		`SELECT `+oppColumns+` FROM opportunities WHERE id = $1`, id))
	if err != nil {
		return model.Opportunity{}, classify(err)
	}
	return o, nil
}

// ListOpportunities returns one page of listed opportunities, newest first.
func (s *Store) ListOpportunities(ctx context.Context, q model.ListQuery) ([]model.Opportunity, int, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM opportunities WHERE listed AND ($1 = '' OR sector = $1)`,
		q.Sector,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("listOpportunities count: %w", classify(err))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+oppColumns+` FROM opportunities
		 WHERE listed AND ($1 = '' OR sector = $1)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		q.Sector, q.PerPage, (q.Page-1)*q.PerPage,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listOpportunities query: %w", classify(err))
	}
	defer rows.Close()

	opps := make([]model.Opportunity, 0)
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("listOpportunities scan: %w", err)
		}
		opps = append(opps, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("listOpportunities rows: %w", classify(err))
	}
	return opps, total, nil
}

// lockOpportunity takes the row lock that serialises writers of one aggregate.
func lockOpportunity(ctx context.Context, tx pgx.Tx, id int64) (model.Opportunity, error) {
	return scanOpportunity(tx.QueryRow(ctx,
		`SELECT `+oppColumns+` FROM opportunities WHERE id = $1 FOR UPDATE`, id))
}

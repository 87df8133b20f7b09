package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"asirinvest/core-service/internal/model"
)

const provenanceColumns = `opportunity_id, kind::text, version, hash, prev_hash, payload,
	COALESCE(recipient_id, 0), stamped_at`

func scanProvenance(row pgx.Row) (model.ProvenanceRecord, error) {
	var (
		r    model.ProvenanceRecord
		kind string
	)
	if err := row.Scan(&r.OpportunityID, &kind, &r.Version, &r.Hash, &r.PrevHash,
		&r.Payload, &r.RecipientID, &r.StampedAt); err != nil {
		return model.ProvenanceRecord{}, err
	}
	r.Kind = model.ProvenanceKind(kind)
	r.StampedAt = r.StampedAt.UTC()
	return r, nil
}

func insertStamp(ctx context.Context, tx pgx.Tx, rec model.ProvenanceRecord) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO provenance_records (opportunity_id, kind, version, hash, prev_hash, payload, stamped_at)
		 VALUES ($1, 'stamp', $2, $3, $4, $5, $6)`,
		rec.OpportunityID, rec.Version, rec.Hash, rec.PrevHash, rec.Payload, rec.StampedAt,
	); err != nil {
		return fmt.Errorf("insert provenance: %w", err)
	}
	return nil
}

// InsertFirstStamp writes version 1 unless the opportunity is already stamped,
// in which case the stored version 1 is returned.
func (s *Store) InsertFirstStamp(ctx context.Context, rec model.ProvenanceRecord) (model.ProvenanceRecord, error) {
	var out model.ProvenanceRecord
	err := s.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		cur, err := lockOpportunity(ctx, tx, rec.OpportunityID)
		if err != nil {
			return err
		}
		if cur.Stamped() {
			out, err = scanProvenance(tx.QueryRow(ctx,
				`SELECT `+provenanceColumns+` FROM provenance_records
				 WHERE opportunity_id = $1 AND kind = 'stamp' AND version = 1`,
				rec.OpportunityID))
			return err
		}
		if err := insertStamp(ctx, tx, rec); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE opportunities
			 SET fingerprint_hash = $2, fingerprint_timestamp = $3, fingerprint_version = $4, updated_at = NOW()
			 WHERE id = $1`,
			rec.OpportunityID, rec.Hash, rec.StampedAt, rec.Version,
		); err != nil {
			return fmt.Errorf("update fingerprint: %w", err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return model.ProvenanceRecord{}, fmt.Errorf("insertFirstStamp: %w", err)
	}
	return out, nil
}

// ApplyRestamp locks the opportunity, lets fn decide the next version and
// commits the new content, fingerprint columns and provenance record together.
func (s *Store) ApplyRestamp(ctx context.Context, id int64, edit model.ContentEdit,
	fn func(current model.Opportunity) (model.ProvenanceRecord, bool, error)) (model.ProvenanceRecord, error) {
	var out model.ProvenanceRecord
	err := s.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		cur, err := lockOpportunity(ctx, tx, id)
		if err != nil {
			return err
		}
		rec, changed, err := fn(cur)
		out = rec
		if err != nil || !changed {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE opportunities
			 SET title = $2, description = $3,
			     fingerprint_hash = $4, fingerprint_timestamp = $5, fingerprint_version = $6,
			     updated_at = NOW()
			 WHERE id = $1`,
			id, edit.Title, edit.Description, rec.Hash, rec.StampedAt, rec.Version,
		); err != nil {
			return fmt.Errorf("update content: %w", err)
		}
		return insertStamp(ctx, tx, rec)
	})
	if err != nil {
		return model.ProvenanceRecord{}, fmt.Errorf("applyRestamp: %w", err)
	}
	return out, nil
}

// ProvenanceHistory returns the log oldest first.
func (s *Store) ProvenanceHistory(ctx context.Context, id int64) ([]model.ProvenanceRecord, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+provenanceColumns+` FROM provenance_records
		 WHERE opportunity_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("provenanceHistory query: %w", classify(err))
	}
	defer rows.Close()

	recs := make([]model.ProvenanceRecord, 0)
	for rows.Next() {
		r, err := scanProvenance(rows)
		if err != nil {
			return nil, fmt.Errorf("provenanceHistory scan: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, classify(rows.Err())
}

// InsertDisclosure appends a disclosure once per recipient.
func (s *Store) InsertDisclosure(ctx context.Context, rec model.ProvenanceRecord) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO provenance_records (opportunity_id, kind, version, hash, recipient_id, stamped_at)
		 VALUES ($1, 'disclosure', $2, $3, $4, $5)
		 ON CONFLICT (opportunity_id, recipient_id) WHERE kind = 'disclosure' DO NOTHING`,
		rec.OpportunityID, rec.Version, rec.Hash, rec.RecipientID, rec.StampedAt,
	)
	if err != nil {
		return fmt.Errorf("insertDisclosure: %w", classify(err))
	}
	return nil
}

// InsertTamperFlag records a flag for manual review. It reports false when
// an open flag for the same finding already exists.
func (s *Store) InsertTamperFlag(ctx context.Context, f model.TamperFlag) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO tamper_flags (opportunity_id, version, expected_hash, actual_hash, reason, detected_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (opportunity_id, version, reason) WHERE NOT resolved DO NOTHING`,
		f.OpportunityID, f.Version, f.ExpectedHash, f.ActualHash, f.Reason, f.DetectedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insertTamperFlag: %w", classify(err))
	}
	return tag.RowsAffected() == 1, nil
}

// StampedOpportunityIDs lists stamped opportunities in id order.
func (s *Store) StampedOpportunityIDs(ctx context.Context) ([]int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM opportunities WHERE fingerprint_version > 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("stampedOpportunityIDs: %w", classify(err))
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("stampedOpportunityIDs scan: %w", classify(err))
	}
	return ids, nil
}

// exists returns model.ErrNotFound when the opportunity is missing.
func (s *Store) exists(ctx context.Context, id int64) error {
	var ok bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM opportunities WHERE id = $1)`, id,
	).Scan(&ok); err != nil {
		return classify(err)
	}
	if !ok {
		return model.ErrNotFound
	}
	return nil
}

// OpenTamperFlags returns unresolved flags, newest first.
func (s *Store) OpenTamperFlags(ctx context.Context) ([]model.TamperFlag, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx,
		`SELECT opportunity_id, version, expected_hash, actual_hash, reason, detected_at
		 FROM tamper_flags WHERE NOT resolved ORDER BY detected_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("openTamperFlags: %w", classify(err))
	}
	flags, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.TamperFlag, error) {
		var f model.TamperFlag
		err := row.Scan(&f.OpportunityID, &f.Version, &f.ExpectedHash, &f.ActualHash, &f.Reason, &f.DetectedAt)
		f.DetectedAt = f.DetectedAt.UTC()
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("openTamperFlags scan: %w", classify(err))
	}
	return flags, nil
}


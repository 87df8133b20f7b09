package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"asirinvest/core-service/internal/model"
)

// ─── NDA acceptances ─────────────────────────────────────────────────────────

// InsertAcceptance stores a once and returns the stored row.
func (s *Store) InsertAcceptance(ctx context.Context, a model.NDAAcceptance) (model.NDAAcceptance, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO nda_acceptances (user_id, opportunity_id, origin)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, opportunity_id) DO NOTHING`,
		a.UserID, a.OpportunityID, a.Origin,
	); err != nil {
		return model.NDAAcceptance{}, fmt.Errorf("insertAcceptance: %w", classify(err))
	}
	// Read back separately: a concurrent first insert is only visible to a
	// statement started after it committed.
	stored, ok, err := s.acceptance(ctx, a.UserID, a.OpportunityID)
	if err != nil {
		return model.NDAAcceptance{}, fmt.Errorf("insertAcceptance: %w", err)
	}
	if !ok {
		return model.NDAAcceptance{}, errors.New("insertAcceptance: row vanished")
	}
	return stored, nil
}

// Acceptance returns the recorded acceptance, if any.
func (s *Store) Acceptance(ctx context.Context, userID, oppID int64) (model.NDAAcceptance, bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.acceptance(ctx, userID, oppID)
}

func (s *Store) acceptance(ctx context.Context, userID, oppID int64) (model.NDAAcceptance, bool, error) {
	a := model.NDAAcceptance{UserID: userID, OpportunityID: oppID}
	err := s.pool.QueryRow(ctx,
		`SELECT accepted_at, origin FROM nda_acceptances WHERE user_id = $1 AND opportunity_id = $2`,
		userID, oppID,
	).Scan(&a.AcceptedAt, &a.Origin)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.NDAAcceptance{}, false, nil
	}
	if err != nil {
		return model.NDAAcceptance{}, false, classify(err)
	}
	a.AcceptedAt = a.AcceptedAt.UTC()
	return a, true, nil
}

// ─── Votes ───────────────────────────────────────────────────────────────────

// lockListed locks a listed opportunity; unlisted ones are reported missing.
func lockListed(ctx context.Context, tx pgx.Tx, id int64) error {
	var listed bool
	if err := tx.QueryRow(ctx,
		`SELECT listed FROM opportunities WHERE id = $1 FOR UPDATE`, id,
	).Scan(&listed); err != nil {
		return err
	}
	if !listed {
		return model.ErrNotFound
	}
	return nil
}

// ApplyVote locks the opportunity row, reads the caller's prior vote, and
// writes the vote row and both counter deltas in one transaction.
func (s *Store) ApplyVote(ctx context.Context, userID, oppID int64,
	decide func(prev *model.VoteType) (model.VoteChange, error)) (model.Tally, error) {
	var tally model.Tally
	err := s.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := lockListed(ctx, tx, oppID); err != nil {
			return err
		}

		var prev *model.VoteType
		var raw string
		err := tx.QueryRow(ctx,
			`SELECT vote_type::text FROM votes WHERE user_id = $1 AND opportunity_id = $2`,
			userID, oppID,
		).Scan(&raw)
		switch {
		case err == nil:
			t := model.VoteType(raw)
			prev = &t
		case !errors.Is(err, pgx.ErrNoRows):
			return err
		}

		change, err := decide(prev)
		if err != nil {
			return err
		}
		switch change.Op {
		case model.VoteOpInsert:
			_, err = tx.Exec(ctx,
				`INSERT INTO votes (user_id, opportunity_id, vote_type) VALUES ($1, $2, $3::vote_type)`,
				userID, oppID, string(change.Type))
		case model.VoteOpSwitch:
			_, err = tx.Exec(ctx,
				`UPDATE votes SET vote_type = $3::vote_type, updated_at = NOW()
				 WHERE user_id = $1 AND opportunity_id = $2`,
				userID, oppID, string(change.Type))
		}
		if err != nil {
			return fmt.Errorf("write vote: %w", err)
		}

		// One statement moves both counters, so no reader sees half a switch.
		return tx.QueryRow(ctx,
			`UPDATE opportunities
			 SET likes_count = likes_count + $2, dislikes_count = dislikes_count + $3
			 WHERE id = $1
			 RETURNING likes_count, dislikes_count`,
			oppID, change.LikesDelta, change.DislikesDelta,
		).Scan(&tally.Likes, &tally.Dislikes)
	})
	if err != nil {
		return model.Tally{}, fmt.Errorf("applyVote: %w", err)
	}
	return tally, nil
}

// UserVote returns the caller's ledger row, if any.
func (s *Store) UserVote(ctx context.Context, userID, oppID int64) (model.Vote, bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	v := model.Vote{UserID: userID, OpportunityID: oppID}
	var raw string
	err := s.pool.QueryRow(ctx,
		`SELECT vote_type::text, created_at, updated_at FROM votes WHERE user_id = $1 AND opportunity_id = $2`,
		userID, oppID,
	).Scan(&raw, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Vote{}, false, nil
	}
	if err != nil {
		return model.Vote{}, false, fmt.Errorf("userVote: %w", classify(err))
	}
	v.Type = model.VoteType(raw)
	return v, true, nil
}

// ─── Comments ────────────────────────────────────────────────────────────────

const commentColumns = `id, opportunity_id, user_id, username, content, client_token, created_at`

func scanComment(row pgx.Row) (model.Comment, error) {
	var c model.Comment
	err := row.Scan(&c.ID, &c.OpportunityID, &c.UserID, &c.Username, &c.Content, &c.ClientToken, &c.CreatedAt)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, err
}

// InsertComment appends c and increments comments_count in one transaction.
// The row lock also serialises duplicate submissions of one client token.
func (s *Store) InsertComment(ctx context.Context, c model.Comment) (model.Comment, error) {
	var out model.Comment
	err := s.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := lockListed(ctx, tx, c.OpportunityID); err != nil {
			return err
		}
		existing, err := scanComment(tx.QueryRow(ctx,
			`SELECT `+commentColumns+` FROM comments WHERE opportunity_id = $1 AND client_token = $2`,
			c.OpportunityID, c.ClientToken))
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		out, err = scanComment(tx.QueryRow(ctx,
			`INSERT INTO comments (opportunity_id, user_id, username, content, client_token)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING `+commentColumns,
			c.OpportunityID, c.UserID, c.Username, c.Content, c.ClientToken))
		if err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE opportunities SET comments_count = comments_count + 1 WHERE id = $1`,
			c.OpportunityID)
		return err
	})
	if err != nil {
		return model.Comment{}, fmt.Errorf("insertComment: %w", err)
	}
	return out, nil
}

// CommentByToken finds a comment by its client token.
func (s *Store) CommentByToken(ctx context.Context, oppID int64, token string) (model.Comment, bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	c, err := scanComment(s.pool.QueryRow(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE opportunity_id = $1 AND client_token = $2`,
		oppID, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Comment{}, false, nil
	}
	if err != nil {
		return model.Comment{}, false, fmt.Errorf("commentByToken: %w", classify(err))
	}
	return c, true, nil
}

// ListComments returns up to limit comments newest first, strictly after cursor.
func (s *Store) ListComments(ctx context.Context, oppID int64, after *model.CommentCursor, limit int) ([]model.Comment, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.exists(ctx, oppID); err != nil {
		return nil, err
	}

	var (
		rows pgx.Rows
		err  error
	)
	if after != nil {
		rows, err = s.pool.Query(ctx,
			`SELECT `+commentColumns+` FROM comments
			 WHERE opportunity_id = $1 AND (created_at, id) < ($2, $3)
			 ORDER BY created_at DESC, id DESC LIMIT $4`,
			oppID, after.CreatedAt, after.ID, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+commentColumns+` FROM comments
			 WHERE opportunity_id = $1
			 ORDER BY created_at DESC, id DESC LIMIT $2`,
			oppID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listComments query: %w", classify(err))
	}
	defer rows.Close()

	comments := make([]model.Comment, 0, limit)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("listComments scan: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, classify(rows.Err())
}

// ─── Stats ───────────────────────────────────────────────────────────────────

// ComputeStats aggregates the platform totals over listed opportunities.
func (s *Store) ComputeStats(ctx context.Context) (model.Stats, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	st := model.Stats{SectorDistribution: []model.SectorCount{}}
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(likes_count + dislikes_count), 0),
		        COALESCE(SUM(comments_count), 0),
		        NOW()
		 FROM opportunities WHERE listed`,
	).Scan(&st.TotalOpportunities, &st.TotalVotes, &st.TotalComments, &st.ComputedAt)
	if err != nil {
		return model.Stats{}, fmt.Errorf("computeStats totals: %w", classify(err))
	}
	st.ComputedAt = st.ComputedAt.UTC()

	rows, err := s.pool.Query(ctx,
		`SELECT sector, COUNT(*) FROM opportunities WHERE listed
		 GROUP BY sector ORDER BY COUNT(*) DESC, sector`)
	if err != nil {
		return model.Stats{}, fmt.Errorf("computeStats sectors: %w", classify(err))
	}
	defer rows.Close()
	for rows.Next() {
		var sc model.SectorCount
		if err := rows.Scan(&sc.Sector, &sc.Count); err != nil {
			return model.Stats{}, fmt.Errorf("computeStats scan: %w", err)
		}
		st.SectorDistribution = append(st.SectorDistribution, sc)
	}
	return st, classify(rows.Err())
}

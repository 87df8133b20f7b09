package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"asirinvest/core-service/internal/events"
	"asirinvest/core-service/internal/model"
	"asirinvest/core-service/internal/retry"
)

// Store is the persistence the fingerprint service owns. Hash columns and the
// provenance log are written through this interface only.
type Store interface {
	// LoadOpportunity returns the stored opportunity, listed or not.
	LoadOpportunity(ctx context.Context, id int64) (model.Opportunity, error)
	// InsertFirstStamp writes version 1 and the opportunity's fingerprint
	// columns. If the opportunity is already stamped the existing version 1
	// record is returned and nothing is written.
	InsertFirstStamp(ctx context.Context, rec model.ProvenanceRecord) (model.ProvenanceRecord, error)
	// ApplyRestamp locks the opportunity, calls fn with its current state and,
	// when fn reports a change, writes edit, the new fingerprint columns and
	// the new provenance record in one transaction.
	ApplyRestamp(ctx context.Context, id int64, edit model.ContentEdit,
		fn func(current model.Opportunity) (model.ProvenanceRecord, bool, error)) (model.ProvenanceRecord, error)
	// ProvenanceHistory returns every record for the opportunity, oldest first.
	ProvenanceHistory(ctx context.Context, id int64) ([]model.ProvenanceRecord, error)
	// InsertDisclosure appends a disclosure record unless one already exists
	// for the same recipient.
	InsertDisclosure(ctx context.Context, rec model.ProvenanceRecord) error
	// InsertTamperFlag reports false when the finding is already flagged.
	InsertTamperFlag(ctx context.Context, f model.TamperFlag) (bool, error)
	StampedOpportunityIDs(ctx context.Context) ([]int64, error)
}

// Stamp is the public result of a stamping event.
type Stamp struct {
	Hash      string    `json:"fingerprint_hash"`
	Timestamp time.Time `json:"fingerprint_timestamp"`
	Version   int       `json:"fingerprint_version"`
}

// Verification is the outcome of recomputing an opportunity's fingerprint.
type Verification struct {
	OpportunityID int64     `json:"opportunity_id"`
	Version       int       `json:"version"`
	Intact        bool      `json:"intact"`
	Reason        string    `json:"reason,omitempty"`
	CheckedAt     time.Time `json:"checked_at"`
}

// Service stamps, restamps and verifies fingerprints.
type Service struct {
	store  Store
	events events.Publisher
	retry  retry.Policy
	now    func() time.Time
}

// NewService returns a configured Service.
func NewService(store Store, pub events.Publisher, policy retry.Policy) *Service {
	return &Service{store: store, events: pub, retry: policy, now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) timestamp() time.Time {
	// Postgres keeps microseconds; truncating keeps the hashed text and the
	// stored column identical.
	return s.now().UTC().Truncate(time.Microsecond)
}

// Stamp fingerprints a freshly created opportunity as version 1. Repeating the
// call for an already-stamped opportunity returns the original stamp.
func (s *Service) Stamp(ctx context.Context, opp model.Opportunity) (Stamp, error) {
	if opp.ID <= 0 {
		return Stamp{}, model.Invalid("opportunity id is required")
	}
	if opp.FingerprintNonce == "" {
		return Stamp{}, model.Invalid("opportunity %d has no creation nonce", opp.ID)
	}
	if opp.Stamped() {
		return Stamp{Hash: opp.FingerprintHash, Timestamp: opp.FingerprintTimestamp, Version: opp.FingerprintVersion}, nil
	}

	at := s.timestamp()
	hash, payload := Compute(Content{
		Title:       opp.Title,
		Description: opp.Description,
		OwnerID:     opp.OwnerID,
		Nonce:       opp.FingerprintNonce,
		Version:     1,
		StampedAt:   at,
	})
	rec := model.ProvenanceRecord{
		OpportunityID: opp.ID,
		Kind:          model.ProvenanceStamp,
		Version:       1,
		Hash:          hash,
		Payload:       payload,
		StampedAt:     at,
	}

	var stored model.ProvenanceRecord
	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		var err error
		stored, err = s.store.InsertFirstStamp(ctx, rec)
		return err
	})
	if err != nil {
		return Stamp{}, fmt.Errorf("stamp opportunity %d: %w", opp.ID, err)
	}

	s.events.Publish(ctx, events.OpportunityStamped, map[string]any{
		"opportunityId": opp.ID,
		"version":       stored.Version,
		"hash":          stored.Hash,
	})
	return stampOf(stored), nil
}

// Restamp replaces the protected content of an opportunity and appends a new
// provenance version chained to the previous hash. Only the owner may edit.
// An edit that leaves the content unchanged returns the current stamp.
func (s *Service) Restamp(ctx context.Context, oppID, actorID int64, edit model.ContentEdit) (Stamp, error) {
	edit.Title = strings.TrimSpace(edit.Title)
	edit.Description = strings.TrimSpace(edit.Description)
	if edit.Title == "" || edit.Description == "" {
		return Stamp{}, model.Invalid("title and description are required")
	}

	var (
		stored  model.ProvenanceRecord
		changed bool
	)
	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		var err error
		stored, err = s.store.ApplyRestamp(ctx, oppID, edit, func(cur model.Opportunity) (model.ProvenanceRecord, bool, error) {
			if cur.OwnerID != actorID {
				return model.ProvenanceRecord{}, false, model.ErrForbidden
			}
			if !cur.Stamped() {
				return model.ProvenanceRecord{}, false, model.Invalid("opportunity %d has not been stamped", oppID)
			}
			if cur.Title == edit.Title && cur.Description == edit.Description {
				return model.ProvenanceRecord{
					OpportunityID: oppID,
					Kind:          model.ProvenanceStamp,
					Version:       cur.FingerprintVersion,
					Hash:          cur.FingerprintHash,
					StampedAt:     cur.FingerprintTimestamp,
				}, false, nil
			}

			at := s.timestamp()
			next := cur.FingerprintVersion + 1
			hash, payload := Compute(Content{
				Title:       edit.Title,
				Description: edit.Description,
				OwnerID:     cur.OwnerID,
				Nonce:       cur.FingerprintNonce,
				Version:     next,
				StampedAt:   at,
				PrevHash:    cur.FingerprintHash,
			})
			changed = true
			return model.ProvenanceRecord{
				OpportunityID: oppID,
				Kind:          model.ProvenanceStamp,
				Version:       next,
				Hash:          hash,
				PrevHash:      cur.FingerprintHash,
				Payload:       payload,
				StampedAt:     at,
			}, true, nil
		})
		return err
	})
	if err != nil {
		return Stamp{}, fmt.Errorf("restamp opportunity %d: %w", oppID, err)
	}

	if changed {
		s.events.Publish(ctx, events.OpportunityStamped, map[string]any{
			"opportunityId": oppID,
			"version":       stored.Version,
			"hash":          stored.Hash,
			"prevHash":      stored.PrevHash,
		})
	}
	return stampOf(stored), nil
}

// History returns the full provenance log of an opportunity, oldest first.
func (s *Service) History(ctx context.Context, oppID int64) ([]model.ProvenanceRecord, error) {
	recs, err := s.store.ProvenanceHistory(ctx, oppID)
	if err != nil {
		return nil, fmt.Errorf("provenance history %d: %w", oppID, err)
	}
	return recs, nil
}

// RecordDisclosure appends a "disclosed-to" entry naming the recipient and the
// hash that was current when access was granted. It is idempotent per recipient.
func (s *Service) RecordDisclosure(ctx context.Context, oppID, recipientID int64) error {
	return retry.Do(ctx, s.retry, func(ctx context.Context) error {
		opp, err := s.store.LoadOpportunity(ctx, oppID)
		if err != nil {
			return err
		}
		return s.store.InsertDisclosure(ctx, model.ProvenanceRecord{
			OpportunityID: oppID,
			Kind:          model.ProvenanceDisclosure,
			Version:       opp.FingerprintVersion,
			Hash:          opp.FingerprintHash,
			RecipientID:   recipientID,
			StampedAt:     s.timestamp(),
		})
	})
}

// Verify recomputes the fingerprint from the currently stored fields and walks
// the hash chain. Any mismatch is flagged for manual review and returned as a
// *model.TamperError; nothing is ever corrected automatically.
func (s *Service) Verify(ctx context.Context, oppID int64) (Verification, error) {
	opp, err := s.store.LoadOpportunity(ctx, oppID)
	if err != nil {
		return Verification{}, fmt.Errorf("verify %d: %w", oppID, err)
	}
	if !opp.Stamped() {
		return Verification{}, model.Invalid("opportunity %d has no fingerprint", oppID)
	}
	history, err := s.History(ctx, oppID)
	if err != nil {
		return Verification{}, err
	}

	v := Verification{OpportunityID: oppID, Version: opp.FingerprintVersion, CheckedAt: s.now().UTC()}
	if terr := check(opp, history); terr != nil {
		v.Reason = terr.Reason
		s.flag(ctx, terr)
		return v, terr
	}
	v.Intact = true
	return v, nil
}

// check returns the first inconsistency between opp and its stamp history.
func check(opp model.Opportunity, history []model.ProvenanceRecord) *model.TamperError {
	var stamps []model.ProvenanceRecord
	for _, r := range history {
		if r.Kind == model.ProvenanceStamp {
			stamps = append(stamps, r)
		}
	}
	tamper := func(version int, expected, actual, reason string) *model.TamperError {
		return &model.TamperError{OpportunityID: opp.ID, Version: version, Expected: expected, Actual: actual, Reason: reason}
	}
	if len(stamps) == 0 {
		return tamper(opp.FingerprintVersion, opp.FingerprintHash, "", "provenance log has no stamp records")
	}

	prev := ""
	for i, r := range stamps {
		if r.Version != i+1 {
			return tamper(r.Version, fmt.Sprint(i+1), fmt.Sprint(r.Version), "provenance versions are not contiguous")
		}
		if r.PrevHash != prev {
			return tamper(r.Version, prev, r.PrevHash, "hash chain broken")
		}
		if len(r.Payload) > 0 {
			if got := HashPayload(r.Payload); got != r.Hash {
				return tamper(r.Version, r.Hash, got, "stored payload does not match its hash")
			}
		}
		prev = r.Hash
	}

	latest := stamps[len(stamps)-1]
	if latest.Version != opp.FingerprintVersion || latest.Hash != opp.FingerprintHash {
		return tamper(opp.FingerprintVersion, latest.Hash, opp.FingerprintHash, "opportunity fingerprint differs from latest provenance record")
	}

	recomputed, _ := Compute(Content{
		Title:       opp.Title,
		Description: opp.Description,
		OwnerID:     opp.OwnerID,
		Nonce:       opp.FingerprintNonce,
		Version:     latest.Version,
		StampedAt:   latest.StampedAt,
		PrevHash:    latest.PrevHash,
	})
	if recomputed != latest.Hash {
		return tamper(latest.Version, latest.Hash, recomputed, "stored content no longer matches its fingerprint")
	}
	return nil
}

func (s *Service) flag(ctx context.Context, terr *model.TamperError) {
	slog.Error("fingerprint tamper detected",
		"opportunityId", terr.OpportunityID,
		"version", terr.Version,
		"reason", terr.Reason,
		"expected", terr.Expected,
		"actual", terr.Actual,
	)
	raised, err := s.store.InsertTamperFlag(ctx, model.TamperFlag{
		OpportunityID: terr.OpportunityID,
		Version:       terr.Version,
		ExpectedHash:  terr.Expected,
		ActualHash:    terr.Actual,
		Reason:        terr.Reason,
		DetectedAt:    s.now().UTC(),
	})
	if err != nil {
		// Still announce it: the flag row may be missing.
		slog.Warn("insert tamper flag failed", "opportunityId", terr.OpportunityID, "err", err)
	} else if !raised {
		return
	}
	s.events.Publish(ctx, events.TamperDetected, map[string]any{
		"opportunityId": terr.OpportunityID,
		"version":       terr.Version,
		"reason":        terr.Reason,
	})
}

// Sweep verifies every stamped opportunity. Tampering is flagged by Verify;
// Sweep only reports the totals.
func (s *Service) Sweep(ctx context.Context) (checked, tampered int, err error) {
	ids, err := s.store.StampedOpportunityIDs(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("load stamped ids: %w", err)
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return checked, tampered, ctx.Err()
		}
		_, verr := s.Verify(ctx, id)
		checked++
		var terr *model.TamperError
		switch {
		case errors.As(verr, &terr):
			tampered++
		case verr != nil:
			slog.Warn("verify during sweep failed", "opportunityId", id, "err", verr)
		}
	}
	return checked, tampered, nil
}

func stampOf(r model.ProvenanceRecord) Stamp {
	return Stamp{Hash: r.Hash, Timestamp: r.StampedAt, Version: r.Version}
}

// Package nda gates disclosure of protected opportunity fields behind a
// recorded NDA acceptance.
//
// Per (user, opportunity) the gate has two states:
//
//	NotRequested ──accept──► Accepted
//
// Accepted is terminal. Every field-returning path goes through Redact, which
// builds the payload from an allowlist and omits anything not proven visible.
package nda

import (
	"context"
	"fmt"
	"strings"
	"time"

	"asirinvest/core-service/internal/events"
	"asirinvest/core-service/internal/model"
	"asirinvest/core-service/internal/retry"
)

// State is the NDA state of one (user, opportunity) pair.
type State int

const (
	NotRequested State = iota
	Accepted
)

func (s State) String() string {
	if s == Accepted {
		return "accepted"
	}
	return "not_requested"
}

// Store is the persistence the gate owns. The nda_acceptances table is
// written through this interface only.
type Store interface {
	// InsertAcceptance stores a unless a row already exists for the pair and
	// returns the stored row. Unknown opportunities yield model.ErrNotFound.
	InsertAcceptance(ctx context.Context, a model.NDAAcceptance) (model.NDAAcceptance, error)
	Acceptance(ctx context.Context, userID, oppID int64) (model.NDAAcceptance, bool, error)
}

// Discloser appends the "disclosed-to" provenance entry. It must be
// idempotent per recipient.
type Discloser interface {
	RecordDisclosure(ctx context.Context, oppID, recipientID int64) error
}

// Gate records NDA acceptances and redacts opportunities for a viewer.
type Gate struct {
	store     Store
	discloser Discloser
	events    events.Publisher
	retry     retry.Policy
}

// NewGate returns a configured Gate.
func NewGate(store Store, discloser Discloser, pub events.Publisher, policy retry.Policy) *Gate {
	return &Gate{store: store, discloser: discloser, events: pub, retry: policy}
}

// Accept records that userID accepted the NDA of opp. A repeat returns the
// original acceptance unchanged. The disclosure entry is re-issued on every
// call so an acceptance whose disclosure failed is completed by retrying.
func (g *Gate) Accept(ctx context.Context, userID int64, opp model.Opportunity, origin string) (model.NDAAcceptance, error) {
	if userID <= 0 {
		return model.NDAAcceptance{}, model.ErrUnauthorized
	}
	if opp.ID <= 0 {
		return model.NDAAcceptance{}, model.Invalid("opportunity id is required")
	}

	_, existed, err := g.store.Acceptance(ctx, userID, opp.ID)
	if err != nil {
		return model.NDAAcceptance{}, fmt.Errorf("accept nda %d: %w", opp.ID, err)
	}

	var stored model.NDAAcceptance
	err = retry.Do(ctx, g.retry, func(ctx context.Context) error {
		var err error
		stored, err = g.store.InsertAcceptance(ctx, model.NDAAcceptance{
			UserID:        userID,
			OpportunityID: opp.ID,
			Origin:        strings.TrimSpace(origin),
		})
		return err
	})
	if err != nil {
		return model.NDAAcceptance{}, fmt.Errorf("accept nda %d: %w", opp.ID, err)
	}

	if err := g.discloser.RecordDisclosure(ctx, opp.ID, userID); err != nil {
		return model.NDAAcceptance{}, fmt.Errorf("record disclosure %d: %w", opp.ID, err)
	}

	if !existed {
		g.events.Publish(ctx, events.NDAAccepted, map[string]any{
			"opportunityId": opp.ID,
			"userId":        userID,
			"acceptedAt":    stored.AcceptedAt.Format(time.RFC3339Nano),
		})
	}
	return stored, nil
}

// State returns the viewer's NDA state for opp. Anonymous viewers are always
// NotRequested.
func (g *Gate) State(ctx context.Context, viewerID, oppID int64) (State, error) {
	if viewerID <= 0 {
		return NotRequested, nil
	}
	_, ok, err := g.store.Acceptance(ctx, viewerID, oppID)
	if err != nil {
		return NotRequested, fmt.Errorf("nda state %d: %w", oppID, err)
	}
	if ok {
		return Accepted, nil
	}
	return NotRequested, nil
}

// Authorized reports whether viewerID may see every protected field of opp:
// the opportunity is unprotected, the viewer owns it, or has accepted its NDA.
func (g *Gate) Authorized(ctx context.Context, viewerID int64, opp model.Opportunity) (bool, error) {
	if !opp.IsProtected {
		return true, nil
	}
	if viewerID > 0 && viewerID == opp.OwnerID {
		return true, nil
	}
	st, err := g.State(ctx, viewerID, opp.ID)
	if err != nil {
		return false, err
	}
	return st == Accepted, nil
}

// CanView reports whether viewerID may see field of opp.
func (g *Gate) CanView(ctx context.Context, viewerID int64, opp model.Opportunity, field Field) (bool, error) {
	if IsPublic(field) {
		return true, nil
	}
	return g.Authorized(ctx, viewerID, opp)
}

// Derived carries values the gate places in a view but does not compute.
type Derived struct {
	CommunityAcceptance int
}

// Redact returns the payload of opp as seen by viewerID. Protected keys are
// absent unless the viewer is authorized; on error nothing is returned.
func (g *Gate) Redact(ctx context.Context, viewerID int64, opp model.Opportunity, d Derived) (map[string]any, error) {
	authorized, err := g.Authorized(ctx, viewerID, opp)
	if err != nil {
		return nil, err
	}
	accepted := false
	if opp.IsProtected && viewerID > 0 && viewerID != opp.OwnerID {
		accepted = authorized
	}

	var stampedAt any
	if opp.Stamped() {
		stampedAt = opp.FingerprintTimestamp
	}

	values := map[Field]any{
		FieldID:                   opp.ID,
		FieldTitle:                opp.Title,
		FieldDescription:          opp.Description,
		FieldSector:               opp.Sector,
		FieldLocation:             opp.Location,
		FieldLatitude:             opp.Latitude,
		FieldLongitude:            opp.Longitude,
		FieldBudgetRequired:       opp.BudgetRequired,
		FieldExpectedROI:          opp.ExpectedROI,
		FieldStatus:               opp.Status,
		FieldOwnerID:              opp.OwnerID,
		FieldIsProtected:          opp.IsProtected,
		FieldFingerprintHash:      opp.FingerprintHash,
		FieldFingerprintTimestamp: stampedAt,
		FieldFingerprintVersion:   opp.FingerprintVersion,
		FieldLikesCount:           opp.LikesCount,
		FieldDislikesCount:        opp.DislikesCount,
		FieldCommentsCount:        opp.CommentsCount,
		FieldCommunityAcceptance:  d.CommunityAcceptance,
		FieldCreatedAt:            opp.CreatedAt,
		FieldUpdatedAt:            opp.UpdatedAt,
		FieldNDAAccepted:          accepted,
	}

	out := make(map[string]any, len(values))
	for f, v := range values {
		if IsPublic(f) || authorized {
			out[string(f)] = v
		}
	}
	if !authorized {
		if preview, ok := Preview(opp.Description); ok {
			out[string(FieldDescriptionPreview)] = preview
		}
	}
	return out, nil
}

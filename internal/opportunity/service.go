// Package opportunity composes the core components behind the boundary
// operations. It is transport-agnostic: used by the HTTP API (httpapi), the
// gRPC server (grpcserver) and the operator CLI.
package opportunity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"asirinvest/core-service/internal/comment"
	"asirinvest/core-service/internal/fingerprint"
	"asirinvest/core-service/internal/model"
	"asirinvest/core-service/internal/nda"
	"asirinvest/core-service/internal/retry"
	"asirinvest/core-service/internal/stats"
	"asirinvest/core-service/internal/vote"
)

// BaseStore is the opportunity CRUD collaborator. It never writes counters,
// fingerprint columns or NDA rows.
type BaseStore interface {
	// InsertDraft stores a new unlisted opportunity and assigns its id.
	InsertDraft(ctx context.Context, o model.Opportunity) (model.Opportunity, error)
	// Publish lists a stamped opportunity. Publishing twice is harmless.
	Publish(ctx context.Context, id int64) error
	LoadOpportunity(ctx context.Context, id int64) (model.Opportunity, error)
	// ListOpportunities returns a page of listed opportunities, newest
	// first, and the total number matching the query.
	ListOpportunities(ctx context.Context, q model.ListQuery) ([]model.Opportunity, int, error)
}

// ─── Service ─────────────────────────────────────────────────────────────────

// Service exposes every boundary operation of the core.
type Service struct {
	base     BaseStore
	fp       *fingerprint.Service
	gate     *nda.Gate
	votes    *vote.Ledger
	comments *comment.Service
	stats    *stats.Aggregator
	retry    retry.Policy
}

// Components groups the services a Service delegates to.
type Components struct {
	Fingerprint *fingerprint.Service
	Gate        *nda.Gate
	Votes       *vote.Ledger
	Comments    *comment.Service
	Stats       *stats.Aggregator
}

// NewService returns a configured Service.
func NewService(base BaseStore, c Components, policy retry.Policy) *Service {
	return &Service{
		base:     base,
		fp:       c.Fingerprint,
		gate:     c.Gate,
		votes:    c.Votes,
		comments: c.Comments,
		stats:    c.Stats,
		retry:    policy,
	}
}

// View is an opportunity as a particular viewer may see it.
type View = map[string]any

// CreateInput is the owner-supplied content of a new opportunity.
type CreateInput struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Sector         string   `json:"sector"`
	Location       string   `json:"location"`
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
	BudgetRequired float64  `json:"budget_required"`
	ExpectedROI    *float64 `json:"expected_roi"`
	// IsProtected defaults to true.
	IsProtected *bool `json:"is_protected"`
}

func (in CreateInput) validate() error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return model.Invalid("title is required")
	case strings.TrimSpace(in.Description) == "":
		return model.Invalid("description is required")
	case strings.TrimSpace(in.Sector) == "":
		return model.Invalid("sector is required")
	case in.BudgetRequired < 0:
		return model.Invalid("budget_required must not be negative")
	case in.Latitude != nil && (*in.Latitude < -90 || *in.Latitude > 90):
		return model.Invalid("latitude out of range")
	case in.Longitude != nil && (*in.Longitude < -180 || *in.Longitude > 180):
		return model.Invalid("longitude out of range")
	}
	return nil
}

// Create stores a draft, stamps its fingerprint and only then lists it, so no
// opportunity is ever visible without a stamp.
func (s *Service) Create(ctx context.Context, owner model.User, in CreateInput) (View, error) {
	if owner.ID <= 0 {
		return nil, model.ErrUnauthorized
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	protected := true
	if in.IsProtected != nil {
		protected = *in.IsProtected
	}

	draft, err := s.base.InsertDraft(ctx, model.Opportunity{
		Title:            strings.TrimSpace(in.Title),
		Description:      strings.TrimSpace(in.Description),
		Sector:           strings.TrimSpace(in.Sector),
		Location:         strings.TrimSpace(in.Location),
		Latitude:         in.Latitude,
		Longitude:        in.Longitude,
		BudgetRequired:   in.BudgetRequired,
		ExpectedROI:      in.ExpectedROI,
		Status:           model.StatusActive,
		OwnerID:          owner.ID,
		IsProtected:      protected,
		FingerprintNonce: uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("create opportunity: %w", err)
	}

	if _, err := s.fp.Stamp(ctx, draft); err != nil {
		return nil, err
	}
	err = retry.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.base.Publish(ctx, draft.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("publish opportunity %d: %w", draft.ID, err)
	}
	return s.Detail(ctx, owner.ID, draft.ID)
}

// load returns the opportunity if viewerID may know it exists: listed, or
// owned by the viewer.
func (s *Service) load(ctx context.Context, viewerID, id int64) (model.Opportunity, error) {
	opp, err := s.base.LoadOpportunity(ctx, id)
	if err != nil {
		return model.Opportunity{}, fmt.Errorf("load opportunity %d: %w", id, err)
	}
	if !opp.Listed && (viewerID <= 0 || viewerID != opp.OwnerID) {
		return model.Opportunity{}, fmt.Errorf("load opportunity %d: %w", id, model.ErrNotFound)
	}
	return opp, nil
}

func (s *Service) view(ctx context.Context, viewerID int64, opp model.Opportunity) (View, error) {
	snap := s.votes.SnapshotOf(model.Tally{Likes: opp.LikesCount, Dislikes: opp.DislikesCount})
	return s.gate.Redact(ctx, viewerID, opp, nda.Derived{CommunityAcceptance: snap.CommunityAcceptance})
}

// Detail returns one opportunity redacted for viewerID (0 for anonymous).
func (s *Service) Detail(ctx context.Context, viewerID, id int64) (View, error) {
	opp, err := s.load(ctx, viewerID, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, viewerID, opp)
}

// ListResult is one page of redacted opportunities.
type ListResult struct {
	Items   []View `json:"opportunities"`
	Total   int    `json:"total"`
	Page    int    `json:"page"`
	PerPage int    `json:"per_page"`
}

// List returns a page of listed opportunities, each redacted for viewerID.
func (s *Service) List(ctx context.Context, viewerID int64, q model.ListQuery) (ListResult, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	switch {
	case q.PerPage <= 0:
		q.PerPage = 20
	case q.PerPage > 100:
		q.PerPage = 100
	}
	q.Sector = strings.TrimSpace(q.Sector)

	opps, total, err := s.base.ListOpportunities(ctx, q)
	if err != nil {
		return ListResult{}, fmt.Errorf("list opportunities: %w", err)
	}
	res := ListResult{Items: make([]View, 0, len(opps)), Total: total, Page: q.Page, PerPage: q.PerPage}
	for _, o := range opps {
		v, err := s.view(ctx, viewerID, o)
		if err != nil {
			return ListResult{}, err
		}
		res.Items = append(res.Items, v)
	}
	return res, nil
}

// EditContent replaces title and description. Only the owner may edit; the
// change is committed together with a new fingerprint version.
func (s *Service) EditContent(ctx context.Context, actorID, id int64, edit model.ContentEdit) (fingerprint.Stamp, error) {
	if actorID <= 0 {
		return fingerprint.Stamp{}, model.ErrUnauthorized
	}
	return s.fp.Restamp(ctx, id, actorID, edit)
}

// AcceptNDA records userID's acceptance of the NDA of opportunity id.
func (s *Service) AcceptNDA(ctx context.Context, userID, id int64, origin string) (model.NDAAcceptance, error) {
	if userID <= 0 {
		return model.NDAAcceptance{}, model.ErrUnauthorized
	}
	opp, err := s.load(ctx, userID, id)
	if err != nil {
		return model.NDAAcceptance{}, err
	}
	return s.gate.Accept(ctx, userID, opp, origin)
}

// Provenance returns the provenance log. Only the owner and viewers who
// accepted the NDA may read it; non-owners see only their own disclosure.
func (s *Service) Provenance(ctx context.Context, viewerID, id int64) ([]model.ProvenanceRecord, error) {
	if viewerID <= 0 {
		return nil, model.ErrUnauthorized
	}
	opp, err := s.load(ctx, viewerID, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.gate.CanView(ctx, viewerID, opp, nda.FieldFingerprintHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.ErrForbidden
	}
	recs, err := s.fp.History(ctx, id)
	if err != nil {
		return nil, err
	}
	if viewerID == opp.OwnerID {
		return recs, nil
	}
	out := make([]model.ProvenanceRecord, 0, len(recs))
	for _, r := range recs {
		if r.Kind == model.ProvenanceDisclosure && r.RecipientID != viewerID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Verify checks the fingerprint of an opportunity on its owner's request.
func (s *Service) Verify(ctx context.Context, actorID, id int64) (fingerprint.Verification, error) {
	if actorID <= 0 {
		return fingerprint.Verification{}, model.ErrUnauthorized
	}
	opp, err := s.load(ctx, actorID, id)
	if err != nil {
		return fingerprint.Verification{}, err
	}
	if opp.OwnerID != actorID {
		return fingerprint.Verification{}, model.ErrForbidden
	}
	return s.fp.Verify(ctx, id)
}

// CastVote records the caller's vote and returns the new aggregate.
func (s *Service) CastVote(ctx context.Context, userID, id int64, voteType string) (vote.Snapshot, error) {
	return s.votes.CastVote(ctx, userID, id, voteType)
}

// MyVote returns the caller's current vote.
func (s *Service) MyVote(ctx context.Context, userID, id int64) (vote.UserVoteView, error) {
	if _, err := s.load(ctx, userID, id); err != nil {
		return vote.UserVoteView{}, err
	}
	return s.votes.UserVote(ctx, userID, id)
}

// AddComment appends a comment by user.
func (s *Service) AddComment(ctx context.Context, user model.User, id int64, content, clientToken string) (model.Comment, error) {
	return s.comments.AddComment(ctx, user, id, content, clientToken)
}

// ListComments returns a page of comments, newest first.
func (s *Service) ListComments(ctx context.Context, viewerID, id int64, p comment.Page) (comment.CommentPage, error) {
	if _, err := s.load(ctx, viewerID, id); err != nil {
		return comment.CommentPage{}, err
	}
	return s.comments.ListComments(ctx, id, p)
}

// Stats returns the platform rollup, at most one staleness window old.
func (s *Service) Stats(ctx context.Context) (model.Stats, error) {
	return s.stats.Snapshot(ctx)
}

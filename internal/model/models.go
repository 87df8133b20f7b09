// Package model defines the data structures shared by the core components
// and their storage backends.
package model

import "time"

// StatusActive is the status of an opportunity open to investors.
const StatusActive = "active"

// Opportunity mirrors the opportunities table row. The counter fields are
// written only by their owning components (vote ledger, comment store) and the
// fingerprint fields only by the fingerprint service.
type Opportunity struct {
	ID             int64
	Title          string
	Description    string
	Sector         string
	Location       string
	Latitude       *float64
	Longitude      *float64
	BudgetRequired float64
	ExpectedROI    *float64
	Status         string
	OwnerID        int64
	Listed         bool

	IsProtected          bool
	FingerprintHash      string
	FingerprintTimestamp time.Time
	FingerprintVersion   int
	FingerprintNonce     string

	LikesCount    int
	DislikesCount int
	CommentsCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Stamped reports whether the opportunity already carries a fingerprint.
func (o Opportunity) Stamped() bool { return o.FingerprintVersion > 0 }

// Tally is a consistent snapshot of an opportunity's vote counters.
type Tally struct {
	Likes    int
	Dislikes int
}

// Vote is the single ledger row for a (user, opportunity) pair.
type Vote struct {
	UserID        int64
	OpportunityID int64
	Type          VoteType
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Comment is an append-only remark on an opportunity.
type Comment struct {
	ID            int64     `json:"id"`
	OpportunityID int64     `json:"opportunity_id"`
	UserID        int64     `json:"user_id"`
	Username      string    `json:"username"`
	Content       string    `json:"content"`
	ClientToken   string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// NDAAcceptance records that a user accepted the NDA of an opportunity.
// Origin is the client network address kept for the legal record.
type NDAAcceptance struct {
	UserID        int64     `json:"user_id"`
	OpportunityID int64     `json:"opportunity_id"`
	AcceptedAt    time.Time `json:"accepted_at"`
	Origin        string    `json:"origin,omitempty"`
}

// ProvenanceKind distinguishes content stampings from controlled disclosures.
type ProvenanceKind string

const (
	ProvenanceStamp      ProvenanceKind = "stamp"
	ProvenanceDisclosure ProvenanceKind = "disclosure"
)

// ProvenanceRecord is one entry of an opportunity's append-only provenance log.
// Stamp entries carry the canonical payload that was hashed; disclosure
// entries carry the recipient and the hash that was disclosed.
type ProvenanceRecord struct {
	OpportunityID int64          `json:"opportunity_id"`
	Kind          ProvenanceKind `json:"kind"`
	Version       int            `json:"version"`
	Hash          string         `json:"hash"`
	PrevHash      string         `json:"prev_hash,omitempty"`
	Payload       []byte         `json:"-"`
	RecipientID   int64          `json:"recipient_id,omitempty"`
	StampedAt     time.Time      `json:"stamped_at"`
}

// TamperFlag is raised when a stored fingerprint no longer matches the
// content it claims to cover. Flags are resolved by manual review only.
type TamperFlag struct {
	OpportunityID int64
	Version       int
	ExpectedHash  string
	ActualHash    string
	Reason        string
	DetectedAt    time.Time
}

// SectorCount is one bucket of the sector distribution.
type SectorCount struct {
	Sector string `json:"sector"`
	Count  int    `json:"count"`
}

// Stats is the platform-wide rollup.
type Stats struct {
	TotalOpportunities int           `json:"total_opportunities"`
	TotalVotes         int           `json:"total_votes"`
	TotalComments      int           `json:"total_comments"`
	SectorDistribution []SectorCount `json:"sector_distribution"`
	ComputedAt         time.Time     `json:"computed_at"`
}

// User is supplied by the external auth collaborator.
type User struct {
	ID       int64
	Username string
}

// ContentEdit carries new values for the fingerprinted content fields.
type ContentEdit struct {
	Title       string
	Description string
}

// VoteOp is the storage action a vote decision requires.
type VoteOp int

const (
	VoteOpNone   VoteOp = iota // same vote again: nothing to write
	VoteOpInsert               // first vote by this user
	VoteOpSwitch               // existing row changes type
)

// VoteChange is the outcome of deciding a vote against the prior ledger row.
// LikesDelta and DislikesDelta are applied in the same statement.
type VoteChange struct {
	Op            VoteOp
	Type          VoteType
	LikesDelta    int
	DislikesDelta int
}

// CommentCursor marks a position in the newest-first comment listing.
type CommentCursor struct {
	CreatedAt time.Time
	ID        int64
}

// ListQuery selects a page of listed opportunities.
type ListQuery struct {
	Page    int
	PerPage int
	Sector  string
}

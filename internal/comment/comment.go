// Package comment is the append-only comment store. It is the only writer of
// an opportunity's comments_count.
package comment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"asirinvest/core-service/internal/events"
	"asirinvest/core-service/internal/model"
	"asirinvest/core-service/internal/retry"
)

const (
	// MaxRunes bounds the length of a comment body.
	MaxRunes = 2000

	DefaultLimit = 20
	MaxLimit     = 100
)

// Store is the persistence the comment store owns.
type Store interface {
	// InsertComment appends c and increments comments_count in one
	// transaction. A comment with the same client token already stored for
	// the opportunity is returned instead. Unlisted or unknown opportunities
	// yield model.ErrNotFound.
	InsertComment(ctx context.Context, c model.Comment) (model.Comment, error)
	CommentByToken(ctx context.Context, oppID int64, token string) (model.Comment, bool, error)
	// ListComments returns up to limit comments, newest first, strictly
	// after the cursor when one is given.
	ListComments(ctx context.Context, oppID int64, after *model.CommentCursor, limit int) ([]model.Comment, error)
}

// Service adds and lists comments.
type Service struct {
	store  Store
	events events.Publisher
	retry  retry.Policy
}

// NewService returns a configured Service.
func NewService(store Store, pub events.Publisher, policy retry.Policy) *Service {
	return &Service{store: store, events: pub, retry: policy}
}

// AddComment appends a comment by user on oppID. clientToken identifies the
// submission; an empty token gets a fresh one. Resubmitting with the same
// token returns the comment already stored.
//
// A transient failure is retried only once a lookup by token confirms the
// comment was not committed. If that lookup itself fails the error is
// returned and the caller must resubmit.
func (s *Service) AddComment(ctx context.Context, user model.User, oppID int64, content, clientToken string) (model.Comment, error) {
	if user.ID <= 0 {
		return model.Comment{}, model.ErrUnauthorized
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return model.Comment{}, model.Invalid("comment content is required")
	}
	if n := utf8.RuneCountInString(content); n > MaxRunes {
		return model.Comment{}, model.Invalid("comment is %d characters, the limit is %d", n, MaxRunes)
	}
	clientToken = strings.TrimSpace(clientToken)
	if clientToken == "" {
		clientToken = uuid.NewString()
	}

	c := model.Comment{
		OpportunityID: oppID,
		UserID:        user.ID,
		Username:      user.Username,
		Content:       content,
		ClientToken:   clientToken,
	}

	var stored model.Comment
	attempt := 0
	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			existing, found, err := s.store.CommentByToken(ctx, oppID, clientToken)
			if err != nil {
				// %v drops the transient mark: without the check a retry could
				// append the comment twice.
				return fmt.Errorf("duplicate check: %v", err)
			}
			if found {
				stored = existing
				return nil
			}
		}
		var err error
		stored, err = s.store.InsertComment(ctx, c)
		return err
	})
	if err != nil {
		return model.Comment{}, fmt.Errorf("add comment on %d: %w", oppID, err)
	}

	s.events.Publish(ctx, events.CommentAdded, map[string]any{
		"opportunityId": oppID,
		"commentId":     stored.ID,
		"userId":        user.ID,
	})
	return stored, nil
}

// Page selects a window of the comment listing.
type Page struct {
	Limit  int
	Cursor string
}

// CommentPage is one window of comments, newest first. NextCursor is empty on
// the last page.
type CommentPage struct {
	Comments   []model.Comment `json:"comments"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type cursorWire struct {
	At int64 `json:"t"`
	ID int64 `json:"i"`
}

// EncodeCursor renders c as an opaque token.
func EncodeCursor(c model.CommentCursor) string {
	b, _ := json.Marshal(cursorWire{At: c.CreatedAt.UnixMicro(), ID: c.ID})
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses a token produced by EncodeCursor.
func DecodeCursor(s string) (model.CommentCursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return model.CommentCursor{}, model.Invalid("malformed cursor")
	}
	var w cursorWire
	if err := json.Unmarshal(b, &w); err != nil || w.ID <= 0 {
		return model.CommentCursor{}, model.Invalid("malformed cursor")
	}
	return model.CommentCursor{CreatedAt: time.UnixMicro(w.At).UTC(), ID: w.ID}, nil
}

// ListComments returns one page of oppID's comments, newest first. Following
// NextCursor visits every comment exactly once; comments added meanwhile
// appear only on a restart from the first page.
func (s *Service) ListComments(ctx context.Context, oppID int64, p Page) (CommentPage, error) {
	limit := p.Limit
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	var after *model.CommentCursor
	if p.Cursor != "" {
		c, err := DecodeCursor(p.Cursor)
		if err != nil {
			return CommentPage{}, err
		}
		after = &c
	}

	// One extra row tells us whether another page exists.
	rows, err := s.store.ListComments(ctx, oppID, after, limit+1)
	if err != nil {
		return CommentPage{}, fmt.Errorf("list comments on %d: %w", oppID, err)
	}
	page := CommentPage{Comments: rows}
	if len(rows) > limit {
		page.Comments = rows[:limit]
		last := page.Comments[limit-1]
		page.NextCursor = EncodeCursor(model.CommentCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

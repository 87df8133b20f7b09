package comment_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asirinvest/core-service/internal/comment"
	"asirinvest/core-service/internal/events"
	"asirinvest/core-service/internal/model"
	"asirinvest/core-service/internal/retry"
	"asirinvest/core-service/internal/store/memory"
)

var (
	fastRetry = retry.Policy{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond}
	alice     = model.User{ID: 4, Username: "alice"}
)

func newService(t *testing.T) (*comment.Service, *memory.Store, int64) {
	t.Helper()
	st := memory.New()
	opp := st.Seed(model.Opportunity{Title: "Date farm", Sector: "agriculture", OwnerID: 1})
	return comment.NewService(st, events.Nop{}, fastRetry), st, opp.ID
}

func commentsCount(t *testing.T, st *memory.Store, id int64) int {
	t.Helper()
	opp, err := st.LoadOpportunity(context.Background(), id)
	require.NoError(t, err)
	return opp.CommentsCount
}

func TestAddComment_AppendsAndCounts(t *testing.T) {
	svc, st, id := newService(t)
	ctx := context.Background()

	_, err := svc.AddComment(ctx, alice, id, "first", "")
	require.NoError(t, err)
	c, err := svc.AddComment(ctx, alice, id, "  نص  ", "")
	require.NoError(t, err)
	assert.Equal(t, "نص", c.Content)
	assert.Equal(t, "alice", c.Username)
	assert.Equal(t, 2, commentsCount(t, st, id))

	page, err := svc.ListComments(ctx, id, comment.Page{})
	require.NoError(t, err)
	require.NotEmpty(t, page.Comments)
	assert.Equal(t, c.ID, page.Comments[0].ID)
}

func TestAddComment_Validation(t *testing.T) {
	svc, st, id := newService(t)
	ctx := context.Background()

	for _, content := range []string{"", "   ", "\n\t", strings.Repeat("x", comment.MaxRunes+1)} {
		_, err := svc.AddComment(ctx, alice, id, content, "")
		var ve *model.ValidationError
		assert.ErrorAs(t, err, &ve, "content %q", content)
	}
	_, err := svc.AddComment(ctx, model.User{}, id, "hello", "")
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	assert.Zero(t, commentsCount(t, st, id))
}

func TestAddComment_MaxLengthCountsRunes(t *testing.T) {
	svc, _, id := newService(t)
	_, err := svc.AddComment(context.Background(), alice, id, strings.Repeat("ع", comment.MaxRunes), "")
	assert.NoError(t, err)
}

func TestAddComment_UnknownOpportunity(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.AddComment(context.Background(), alice, 404, "hello", "")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestAddComment_SameTokenStoredOnce(t *testing.T) {
	svc, st, id := newService(t)
	ctx := context.Background()

	a, err := svc.AddComment(ctx, alice, id, "hello", "tok-1")
	require.NoError(t, err)
	b, err := svc.AddComment(ctx, alice, id, "hello", "tok-1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, 1, commentsCount(t, st, id))
}

func TestAddComment_LostAckIsNotDuplicated(t *testing.T) {
	svc, st, id := newService(t)
	st.Fail("InsertComment", memory.AfterCommit, retry.MarkTransient(errors.New("connection reset")), 1)

	c, err := svc.AddComment(context.Background(), alice, id, "hello", "")
	require.NoError(t, err)
	assert.NotZero(t, c.ID)
	assert.Equal(t, 1, commentsCount(t, st, id))
}

func TestAddComment_RetriesWhenNothingCommitted(t *testing.T) {
	svc, st, id := newService(t)
	st.Fail("InsertComment", memory.BeforeCommit, retry.MarkTransient(errors.New("serialization failure")), 1)

	_, err := svc.AddComment(context.Background(), alice, id, "hello", "")
	require.NoError(t, err)
	assert.Equal(t, 1, commentsCount(t, st, id))
}

func TestAddComment_SurfacesWhenDuplicateCheckFails(t *testing.T) {
	svc, st, id := newService(t)
	st.Fail("InsertComment", memory.BeforeCommit, retry.MarkTransient(errors.New("timeout")), 1)
	st.Fail("CommentByToken", memory.BeforeCommit, retry.MarkTransient(errors.New("timeout")), 5)

	_, err := svc.AddComment(context.Background(), alice, id, "hello", "")
	require.Error(t, err)
	assert.False(t, retry.IsTransient(err))
	assert.Zero(t, commentsCount(t, st, id))
}

func TestListComments_PagesNewestFirst(t *testing.T) {
	svc, _, id := newService(t)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		_, err := svc.AddComment(ctx, alice, id, fmt.Sprintf("c%02d", i), "")
		require.NoError(t, err)
	}

	var got []string
	cursor := ""
	pages := 0
	for {
		page, err := svc.ListComments(ctx, id, comment.Page{Limit: 10, Cursor: cursor})
		require.NoError(t, err)
		pages++
		for _, c := range page.Comments {
			got = append(got, c.Content)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, 3, pages)
	require.Len(t, got, 25)
	assert.Equal(t, "c24", got[0])
	assert.Equal(t, "c00", got[24])
}

func TestListComments_RestartableCursor(t *testing.T) {
	svc, _, id := newService(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := svc.AddComment(ctx, alice, id, fmt.Sprintf("c%d", i), "")
		require.NoError(t, err)
	}
	first, err := svc.ListComments(ctx, id, comment.Page{Limit: 2})
	require.NoError(t, err)

	a, err := svc.ListComments(ctx, id, comment.Page{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	b, err := svc.ListComments(ctx, id, comment.Page{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestListComments_BadCursor(t *testing.T) {
	svc, _, id := newService(t)
	_, err := svc.ListComments(context.Background(), id, comment.Page{Cursor: "%%%"})
	var ve *model.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestCursor_RoundTrip(t *testing.T) {
	in := model.CommentCursor{CreatedAt: time.Date(2025, 5, 1, 8, 30, 0, 123000, time.UTC), ID: 9}
	out, err := comment.DecodeCursor(comment.EncodeCursor(in))
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.ID, out.ID)
}

package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asirinvest/core-service/internal/model"
	"asirinvest/core-service/internal/store/memory"
)

func TestPublish_RequiresStamp(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	draft, err := st.InsertDraft(ctx, model.Opportunity{Title: "T", Description: "D", OwnerID: 1})
	require.NoError(t, err)

	assert.Error(t, st.Publish(ctx, draft.ID))
	assert.ErrorIs(t, st.Publish(ctx, 99), model.ErrNotFound)

	_, err = st.InsertFirstStamp(ctx, model.ProvenanceRecord{OpportunityID: draft.ID, Kind: model.ProvenanceStamp, Version: 1, Hash: "h"})
	require.NoError(t, err)
	require.NoError(t, st.Publish(ctx, draft.ID))
}

func TestListOpportunities_Pages(t *testing.T) {
	st := memory.New()
	for i := 0; i < 5; i++ {
		st.Seed(model.Opportunity{Title: "T", Sector: "energy"})
	}
	st.Seed(model.Opportunity{Title: "T", Sector: "tourism"})
	ctx := context.Background()

	page, total, err := st.ListOpportunities(ctx, model.ListQuery{Page: 2, PerPage: 4})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.Len(t, page, 2)

	page, total, err = st.ListOpportunities(ctx, model.ListQuery{Page: 1, PerPage: 10, Sector: "tourism"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, page, 1)

	page, _, err = st.ListOpportunities(ctx, model.ListQuery{Page: 9, PerPage: 10})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestFail_BeforeCommitLeavesNoTrace(t *testing.T) {
	st := memory.New()
	opp := st.Seed(model.Opportunity{Title: "T"})
	boom := errors.New("boom")
	st.Fail("InsertComment", memory.BeforeCommit, boom, 1)
	ctx := context.Background()

	_, err := st.InsertComment(ctx, model.Comment{OpportunityID: opp.ID, UserID: 1, Content: "x", ClientToken: "t"})
	require.ErrorIs(t, err, boom)
	_, found, err := st.CommentByToken(ctx, opp.ID, "t")
	require.NoError(t, err)
	assert.False(t, found)

	// The fault is spent: the next call goes through.
	_, err = st.InsertComment(ctx, model.Comment{OpportunityID: opp.ID, UserID: 1, Content: "x", ClientToken: "t"})
	require.NoError(t, err)
}

func TestFail_AfterCommitKeepsMutation(t *testing.T) {
	st := memory.New()
	opp := st.Seed(model.Opportunity{Title: "T"})
	boom := errors.New("ack lost")
	st.Fail("InsertAcceptance", memory.AfterCommit, boom, 1)
	ctx := context.Background()

	_, err := st.InsertAcceptance(ctx, model.NDAAcceptance{UserID: 2, OpportunityID: opp.ID})
	require.ErrorIs(t, err, boom)
	_, ok, err := st.Acceptance(ctx, 2, opp.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCancelledContext(t *testing.T) {
	st := memory.New()
	opp := st.Seed(model.Opportunity{Title: "T"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := st.ApplyVote(ctx, 1, opp.ID, func(*model.VoteType) (model.VoteChange, error) {
		t.Fatal("decide must not run on a cancelled request")
		return model.VoteChange{}, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInsertTamperFlag_OncePerFinding(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	f := model.TamperFlag{OpportunityID: 1, Version: 1, Reason: "hash chain broken"}

	raised, err := st.InsertTamperFlag(ctx, f)
	require.NoError(t, err)
	assert.True(t, raised)
	raised, err = st.InsertTamperFlag(ctx, f)
	require.NoError(t, err)
	assert.False(t, raised)

	f.Version = 2
	raised, err = st.InsertTamperFlag(ctx, f)
	require.NoError(t, err)
	assert.True(t, raised)
	assert.Len(t, st.TamperFlags(), 2)
}

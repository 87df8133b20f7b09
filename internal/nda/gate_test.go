package nda_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asirinvest/core-service/internal/events"
	"asirinvest/core-service/internal/fingerprint"
	"asirinvest/core-service/internal/model"
	"asirinvest/core-service/internal/nda"
	"asirinvest/core-service/internal/retry"
	"asirinvest/core-service/internal/store/memory"
)

var fastRetry = retry.Policy{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond}

var protectedKeys = []string{"description", "fingerprint_hash", "fingerprint_version"}

type fixture struct {
	store *memory.Store
	fp    *fingerprint.Service
	gate  *nda.Gate
	opp   model.Opportunity
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	fp := fingerprint.NewService(st, events.Nop{}, fastRetry)
	draft, err := st.InsertDraft(ctx, model.Opportunity{
		Title: "Abha eco-lodge", Description: "D", Sector: "tourism",
		OwnerID: 1, IsProtected: true, FingerprintNonce: "n-1",
	})
	require.NoError(t, err)
	_, err = fp.Stamp(ctx, draft)
	require.NoError(t, err)
	require.NoError(t, st.Publish(ctx, draft.ID))
	opp, err := st.LoadOpportunity(ctx, draft.ID)
	require.NoError(t, err)
	return fixture{store: st, fp: fp, gate: nda.NewGate(st, fp, events.Nop{}, fastRetry), opp: opp}
}

func TestAccept_RepeatKeepsFirstTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.gate.Accept(ctx, 2, f.opp, "10.0.0.7")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := f.gate.Accept(ctx, 2, f.opp, "10.0.0.8")
	require.NoError(t, err)

	assert.True(t, first.AcceptedAt.Equal(second.AcceptedAt))
	assert.Equal(t, "10.0.0.7", second.Origin)
}

func TestAccept_AppendsDisclosure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.gate.Accept(ctx, 2, f.opp, "")
	require.NoError(t, err)
	_, err = f.gate.Accept(ctx, 2, f.opp, "")
	require.NoError(t, err)

	history, err := f.fp.History(ctx, f.opp.ID)
	require.NoError(t, err)
	var disclosures []model.ProvenanceRecord
	for _, r := range history {
		if r.Kind == model.ProvenanceDisclosure {
			disclosures = append(disclosures, r)
		}
	}
	require.Len(t, disclosures, 1)
	assert.Equal(t, int64(2), disclosures[0].RecipientID)
	assert.Equal(t, f.opp.FingerprintHash, disclosures[0].Hash)
}

type flakyDiscloser struct {
	next  nda.Discloser
	fails int
}

func (d *flakyDiscloser) RecordDisclosure(ctx context.Context, oppID, recipientID int64) error {
	if d.fails > 0 {
		d.fails--
		return errors.New("provenance unavailable")
	}
	return d.next.RecordDisclosure(ctx, oppID, recipientID)
}

func TestAccept_RetryCompletesMissingDisclosure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gate := nda.NewGate(f.store, &flakyDiscloser{next: f.fp, fails: 1}, events.Nop{}, fastRetry)

	_, err := gate.Accept(ctx, 2, f.opp, "")
	require.Error(t, err)

	// The acceptance committed; only the disclosure is missing until the retry.
	st, err := gate.State(ctx, 2, f.opp.ID)
	require.NoError(t, err)
	assert.Equal(t, nda.Accepted, st)

	_, err = gate.Accept(ctx, 2, f.opp, "")
	require.NoError(t, err)
	history, err := f.fp.History(ctx, f.opp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProvenanceDisclosure, history[len(history)-1].Kind)
}

func TestAccept_RetriesTransientStoreErrors(t *testing.T) {
	f := newFixture(t)
	f.store.Fail("InsertAcceptance", memory.AfterCommit, retry.MarkTransient(errors.New("ack lost")), 1)

	a, err := f.gate.Accept(context.Background(), 2, f.opp, "")
	require.NoError(t, err)
	assert.False(t, a.AcceptedAt.IsZero())
}

func TestAccept_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.gate.Accept(ctx, 0, f.opp, "")
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = f.gate.Accept(ctx, 2, model.Opportunity{ID: 999}, "")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCanView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.gate.Accept(ctx, 3, f.opp, "")
	require.NoError(t, err)

	open := f.opp
	open.IsProtected = false

	cases := []struct {
		name   string
		viewer int64
		opp    model.Opportunity
		field  nda.Field
		want   bool
	}{
		{"public field to anonymous", 0, f.opp, nda.FieldTitle, true},
		{"protected field to anonymous", 0, f.opp, nda.FieldFingerprintHash, false},
		{"protected field to stranger", 2, f.opp, nda.FieldDescription, false},
		{"protected field to owner", 1, f.opp, nda.FieldDescription, true},
		{"protected field after nda", 3, f.opp, nda.FieldFingerprintHash, true},
		{"unprotected opportunity", 2, open, nda.FieldDescription, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := f.gate.CanView(ctx, tc.viewer, tc.opp, tc.field)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRedact_StrangerGetsNoProtectedKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, viewer := range []int64{0, 2, 42} {
		view, err := f.gate.Redact(ctx, viewer, f.opp, nda.Derived{CommunityAcceptance: 0})
		require.NoError(t, err)
		for _, k := range protectedKeys {
			_, present := view[k]
			assert.False(t, present, "viewer %d received %s", viewer, k)
		}
		assert.NotContains(t, view, "description_preview", "one-rune description has no strict prefix")
		assert.Equal(t, f.opp.Title, view["title"])
		assert.Equal(t, false, view["nda_accepted"])
	}
}

func TestRedact_StrangerNeverSeesDescriptionText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, desc := range []string{"D", "Short plan", strings.Repeat("خطة ", 60)} {
		opp := f.opp
		opp.Description = desc
		view, err := f.gate.Redact(ctx, 2, opp, nda.Derived{})
		require.NoError(t, err)
		for k, v := range view {
			s, isString := v.(string)
			if !isString {
				continue
			}
			assert.NotContains(t, s, desc, "key %s carries the full description", k)
		}
	}
}

func TestRedact_AcceptedViewerSeesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.gate.Accept(ctx, 2, f.opp, "")
	require.NoError(t, err)

	view, err := f.gate.Redact(ctx, 2, f.opp, nda.Derived{CommunityAcceptance: 75})
	require.NoError(t, err)
	assert.Equal(t, f.opp.FingerprintHash, view["fingerprint_hash"])
	assert.Equal(t, "D", view["description"])
	assert.Equal(t, true, view["nda_accepted"])
	assert.Equal(t, 75, view["community_acceptance"])
	assert.NotContains(t, view, "description_preview")
}

func TestRedact_OwnerSeesEverything(t *testing.T) {
	f := newFixture(t)
	view, err := f.gate.Redact(context.Background(), 1, f.opp, nda.Derived{})
	require.NoError(t, err)
	for _, k := range protectedKeys {
		assert.Contains(t, view, k)
	}
}

func TestRedact_UnprotectedIsOpen(t *testing.T) {
	f := newFixture(t)
	open := f.opp
	open.IsProtected = false
	view, err := f.gate.Redact(context.Background(), 0, open, nda.Derived{})
	require.NoError(t, err)
	assert.Equal(t, "D", view["description"])
}

func TestRedact_UnstampedHasNullTimestamp(t *testing.T) {
	f := newFixture(t)
	draft := model.Opportunity{ID: 77, Title: "draft", OwnerID: 1}
	view, err := f.gate.Redact(context.Background(), 1, draft, nda.Derived{})
	require.NoError(t, err)
	assert.Contains(t, view, "fingerprint_timestamp")
	assert.Nil(t, view["fingerprint_timestamp"])
}

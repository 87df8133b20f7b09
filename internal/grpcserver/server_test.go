package grpcserver_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"asirinvest/core-service/internal/app"
	"asirinvest/core-service/internal/auth"
	"asirinvest/core-service/internal/events"
	"asirinvest/core-service/internal/grpcserver"
	"asirinvest/core-service/internal/model"
	"asirinvest/core-service/internal/retry"
	"asirinvest/core-service/internal/store/memory"
)

type harness struct {
	conn *grpc.ClientConn
	st   *memory.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := memory.New()
	a := app.New(st, nil, events.Nop{}, app.Options{
		Retry: retry.Policy{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond},
	})

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	grpcserver.Register(gs, grpcserver.NewServer(a.Opportunities, auth.GatewayHeaders{}))
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &harness{conn: conn, st: st}
}

// call invokes an RPC as user ("" for anonymous).
func (h *harness) call(t *testing.T, name, user string, req map[string]any) (map[string]any, error) {
	t.Helper()
	in, err := structpb.NewStruct(req)
	require.NoError(t, err)
	ctx := context.Background()
	if user != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, auth.HeaderUserID, user, auth.HeaderUsername, "u"+user)
	}
	out := new(structpb.Struct)
	if err := h.conn.Invoke(ctx, grpcserver.FullMethod(name), in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (h *harness) create(t *testing.T, owner string) float64 {
	t.Helper()
	res, err := h.call(t, "CreateOpportunity", owner, map[string]any{
		"title": "Solar farm", "description": "Secret plan", "sector": "energy", "budget_required": 500000,
	})
	require.NoError(t, err)
	return res["id"].(float64)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	resp, err := healthpb.NewHealthClient(h.conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: grpcserver.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestCreateAndRedaction(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, "1")

	owned, err := h.call(t, "GetOpportunity", "1", map[string]any{"opportunity_id": id})
	require.NoError(t, err)
	assert.Equal(t, "Secret plan", owned["description"])
	assert.NotEmpty(t, owned["fingerprint_hash"])

	blind, err := h.call(t, "GetOpportunity", "2", map[string]any{"opportunity_id": id})
	require.NoError(t, err)
	assert.NotContains(t, blind, "description")
	assert.NotContains(t, blind, "fingerprint_hash")
	assert.Equal(t, false, blind["nda_accepted"])

	_, err = h.call(t, "AcceptNDA", "2", map[string]any{"opportunity_id": id})
	require.NoError(t, err)
	seen, err := h.call(t, "GetOpportunity", "2", map[string]any{"opportunity_id": id})
	require.NoError(t, err)
	assert.Equal(t, owned["fingerprint_hash"], seen["fingerprint_hash"])

	prov, err := h.call(t, "GetProvenance", "2", map[string]any{"opportunity_id": id})
	require.NoError(t, err)
	assert.NotEmpty(t, prov["records"])
}

func TestAcceptNDA_OriginComesFromPeer(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, "1")

	in, err := structpb.NewStruct(map[string]any{"opportunity_id": id, "origin": "203.0.113.99"})
	require.NoError(t, err)
	ctx := metadata.AppendToOutgoingContext(context.Background(),
		auth.HeaderUserID, "2", auth.HeaderForwardedFor, "203.0.113.98")
	require.NoError(t, h.conn.Invoke(ctx, grpcserver.FullMethod("AcceptNDA"), in, new(structpb.Struct)))

	a, ok, err := h.st.Acceptance(context.Background(), 2, int64(id))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bufconn", a.Origin, "neither the request body nor untrusted metadata may set the origin")
}

func TestVotesCommentsStats(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, "1")

	snap, err := h.call(t, "CastVote", "3", map[string]any{"opportunity_id": id, "vote_type": "like"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, snap["likes_count"])
	assert.EqualValues(t, 100, snap["community_acceptance"])

	req := map[string]any{"opportunity_id": id, "content": "Interested", "client_token": "tok-1"}
	first, err := h.call(t, "AddComment", "4", req)
	require.NoError(t, err)
	again, err := h.call(t, "AddComment", "4", req)
	require.NoError(t, err)
	assert.Equal(t, first["id"], again["id"])

	page, err := h.call(t, "ListComments", "", map[string]any{"opportunity_id": id, "limit": 10})
	require.NoError(t, err)
	assert.Len(t, page["comments"], 1)

	st, err := h.call(t, "GetStats", "", map[string]any{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, st["total_opportunities"])
	assert.EqualValues(t, 1, st["total_votes"])
	assert.EqualValues(t, 1, st["total_comments"])

	list, err := h.call(t, "ListOpportunities", "", map[string]any{"sector": "energy"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, list["total"])

	trending, err := h.call(t, "GetTrending", "5", map[string]any{"limit": 3})
	require.NoError(t, err)
	items := trending["trending_opportunities"].([]any)
	require.Len(t, items, 1)
	hot := items[0].(map[string]any)["opportunity"].(map[string]any)
	assert.Equal(t, id, hot["id"])
	assert.NotContains(t, hot, "description")
	assert.NotContains(t, hot, "fingerprint_hash")
}

func TestErrorCodes(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, "1")

	cases := []struct {
		name   string
		method string
		user   string
		req    map[string]any
		want   codes.Code
	}{
		{"missing id", "GetOpportunity", "2", map[string]any{}, codes.InvalidArgument},
		{"unknown opportunity", "GetOpportunity", "2", map[string]any{"opportunity_id": 999}, codes.NotFound},
		{"bad vote type", "CastVote", "2", map[string]any{"opportunity_id": id, "vote_type": "meh"}, codes.InvalidArgument},
		{"anonymous vote", "CastVote", "", map[string]any{"opportunity_id": id, "vote_type": "like"}, codes.Unauthenticated},
		{"bad credentials", "ListOpportunities", "abc", map[string]any{}, codes.Unauthenticated},
		{"provenance without nda", "GetProvenance", "2", map[string]any{"opportunity_id": id}, codes.PermissionDenied},
		{"verify by stranger", "VerifyFingerprint", "2", map[string]any{"opportunity_id": id}, codes.PermissionDenied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.call(t, tc.method, tc.user, tc.req)
			assert.Equal(t, tc.want, status.Code(err), err)
		})
	}
}

func TestVerifyFingerprint_TamperIsDataLoss(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, "1")

	res, err := h.call(t, "VerifyFingerprint", "1", map[string]any{"opportunity_id": id})
	require.NoError(t, err)
	assert.Equal(t, true, res["intact"])

	require.NoError(t, h.st.Mutate(int64(id), func(o *model.Opportunity) { o.Title = "Forged" }))
	_, err = h.call(t, "VerifyFingerprint", "1", map[string]any{"opportunity_id": id})
	assert.Equal(t, codes.DataLoss, status.Code(err))
}

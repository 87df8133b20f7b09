// Package grpcserver exposes the opportunity core over gRPC.
//
// It delegates all business logic to opportunity.Service and handles
// only the gRPC transport concerns: metadata authentication, error mapping,
// and conversion between domain values and google.protobuf.Struct messages.
package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"asirinvest/core-service/internal/auth"
	"asirinvest/core-service/internal/comment"
	"asirinvest/core-service/internal/model"
	"asirinvest/core-service/internal/opportunity"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "asirinvest.core.v1.OpportunityCore"

// OpportunityCoreServer is the RPC surface. Every request and response is a
// google.protobuf.Struct whose keys match the JSON API.
type OpportunityCoreServer interface {
	ListOpportunities(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOpportunity(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateOpportunity(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CastVote(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddComment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListComments(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AcceptNDA(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetProvenance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyFingerprint(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTrending(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Server implements OpportunityCoreServer.
type Server struct {
	svc     *opportunity.Service
	auth    auth.Provider
	proxies auth.Proxies
}

// NewServer constructs a gRPC Server backed by the given opportunity.Service.
func NewServer(svc *opportunity.Service, provider auth.Provider) *Server {
	return &Server{svc: svc, auth: provider}
}

// WithTrustedProxies sets the peers whose x-forwarded-for metadata is
// believed when recording an NDA origin. By default only the peer counts.
func (s *Server) WithTrustedProxies(p auth.Proxies) *Server {
	s.proxies = p
	return s
}

// Register installs the core service and the standard health service on gs.
func Register(gs *grpc.Server, srv *Server) {
	gs.RegisterService(&ServiceDesc, srv)
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
}

// ─── RPC implementations ──────────────────────────────────────────────────────

// ListOpportunities returns a page of listed opportunities, redacted for the caller.
func (s *Server) ListOpportunities(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.List(ctx, p.UserID, model.ListQuery{
		Page:    int(number(req, "page")),
		PerPage: int(number(req, "per_page")),
		Sector:  text(req, "sector"),
	})
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(res)
}

// GetOpportunity returns one opportunity, redacted for the caller.
func (s *Server) GetOpportunity(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, id, err := s.target(ctx, req)
	if err != nil {
		return nil, err
	}
	v, err := s.svc.Detail(ctx, p.UserID, id)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(v)
}

// CreateOpportunity stamps and lists a new opportunity owned by the caller.
func (s *Server) CreateOpportunity(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}
	var in opportunity.CreateInput
	if err := fromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, "malformed opportunity")
	}
	v, err := s.svc.Create(ctx, model.User{ID: p.UserID, Username: p.Username}, in)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(v)
}

// CastVote records the caller's like or dislike.
func (s *Server) CastVote(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, id, err := s.target(ctx, req)
	if err != nil {
		return nil, err
	}
	snap, err := s.svc.CastVote(ctx, p.UserID, id, text(req, "vote_type"))
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(snap)
}

// AddComment appends a comment by the caller. client_token makes retries safe.
func (s *Server) AddComment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, id, err := s.target(ctx, req)
	if err != nil {
		return nil, err
	}
	c, err := s.svc.AddComment(ctx, model.User{ID: p.UserID, Username: p.Username}, id,
		text(req, "content"), text(req, "client_token"))
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(c)
}

// ListComments returns a page of comments, newest first.
func (s *Server) ListComments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, id, err := s.target(ctx, req)
	if err != nil {
		return nil, err
	}
	page, err := s.svc.ListComments(ctx, p.UserID, id, comment.Page{
		Limit:  int(number(req, "limit")),
		Cursor: text(req, "cursor"),
	})
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(page)
}

// AcceptNDA records the caller's NDA acceptance together with the caller's
// network address, taken from the connection peer. Request fields never
// supply it.
func (s *Server) AcceptNDA(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, id, err := s.target(ctx, req)
	if err != nil {
		return nil, err
	}
	a, err := s.svc.AcceptNDA(ctx, p.UserID, id, s.origin(ctx))
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(map[string]any{"accepted_at": a.AcceptedAt})
}

// GetProvenance returns the provenance records visible to the caller.
func (s *Server) GetProvenance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, id, err := s.target(ctx, req)
	if err != nil {
		return nil, err
	}
	recs, err := s.svc.Provenance(ctx, p.UserID, id)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(map[string]any{"records": recs})
}

// VerifyFingerprint re-checks the caller's own opportunity.
func (s *Server) VerifyFingerprint(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, id, err := s.target(ctx, req)
	if err != nil {
		return nil, err
	}
	v, err := s.svc.Verify(ctx, p.UserID, id)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(v)
}

// GetStats returns the platform rollup.
func (s *Server) GetStats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st, err := s.svc.Stats(ctx)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(st)
}

// GetTrending returns the most engaged active opportunities, redacted for
// the caller.
func (s *Server) GetTrending(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.Trending(ctx, p.UserID, int(number(req, "limit")))
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(res)
}

// ─── Service descriptor ──────────────────────────────────────────────────────

// ServiceDesc describes OpportunityCore for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OpportunityCoreServer)(nil),
	Methods: []grpc.MethodDesc{
		method("ListOpportunities", OpportunityCoreServer.ListOpportunities),
		method("GetOpportunity", OpportunityCoreServer.GetOpportunity),
		method("CreateOpportunity", OpportunityCoreServer.CreateOpportunity),
		method("CastVote", OpportunityCoreServer.CastVote),
		method("AddComment", OpportunityCoreServer.AddComment),
		method("ListComments", OpportunityCoreServer.ListComments),
		method("AcceptNDA", OpportunityCoreServer.AcceptNDA),
		method("GetProvenance", OpportunityCoreServer.GetProvenance),
		method("VerifyFingerprint", OpportunityCoreServer.VerifyFingerprint),
		method("GetStats", OpportunityCoreServer.GetStats),
		method("GetTrending", OpportunityCoreServer.GetTrending),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "asirinvest/core/v1/core.proto",
}

// FullMethod returns the invoke path of an RPC, e.g. for conn.Invoke.
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

type rpc func(OpportunityCoreServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func method(name string, call rpc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OpportunityCoreServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(OpportunityCoreServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// mdHeaders adapts incoming metadata to auth.Headers.
type mdHeaders metadata.MD

func (m mdHeaders) Get(key string) string {
	vals := metadata.MD(m).Get(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// principal authenticates the caller from x-user-id (or authorization)
// metadata. Missing credentials yield an anonymous principal.
func (s *Server) principal(ctx context.Context) (auth.Principal, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	p, err := s.auth.Authenticate(mdHeaders(md))
	if err != nil {
		return auth.Principal{}, status.Error(codes.Unauthenticated, err.Error())
	}
	return p, nil
}

// target authenticates the caller and reads the opportunity_id field.
func (s *Server) target(ctx context.Context, req *structpb.Struct) (auth.Principal, int64, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return auth.Principal{}, 0, err
	}
	raw := number(req, "opportunity_id")
	if raw <= 0 || raw != math.Trunc(raw) {
		return auth.Principal{}, 0, status.Error(codes.InvalidArgument, "opportunity_id is required")
	}
	return p, int64(raw), nil
}

// origin resolves the caller's address from the transport peer, following
// x-forwarded-for only through trusted proxies.
func (s *Server) origin(ctx context.Context) string {
	var remote string
	if pr, ok := peer.FromContext(ctx); ok && pr.Addr != nil {
		remote = pr.Addr.String()
	}
	md, _ := metadata.FromIncomingContext(ctx)
	return s.proxies.Origin(remote, strings.Join(md.Get(auth.HeaderForwardedFor), ","))
}

func number(req *structpb.Struct, key string) float64 {
	return req.GetFields()[key].GetNumberValue()
}

func text(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

// toStruct converts a JSON-serialisable value into a Struct with the same keys.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}

func fromStruct(s *structpb.Struct, dst any) error {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// toGRPCError maps domain errors to gRPC status errors.
func toGRPCError(err error) error {
	var (
		ve *model.ValidationError
		te *model.TamperError
	)
	switch {
	case errors.As(err, &ve):
		return status.Error(codes.InvalidArgument, ve.Msg)
	case errors.Is(err, model.ErrNotFound):
		return status.Error(codes.NotFound, "opportunity not found")
	case errors.Is(err, model.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, model.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.As(err, &te):
		return status.Error(codes.DataLoss, te.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, "internal server error")
}

package grpc

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ValidateToken resolves a session token to its user id. Every failure is
// reported the same way.
func (s *GRPCServer) ValidateToken(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	userID, err := s.users.Authenticate(ctx, req.GetValue())
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	return wrapperspb.String(userID), nil
}

func (s *GRPCServer) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}
	return wrapperspb.String(userID), nil
}

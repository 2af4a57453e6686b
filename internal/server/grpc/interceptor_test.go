package grpc

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/spots/internal/common"
	"github.com/dmitrijs2005/spots/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	goodToken = "good-token"
	testUser  = "6f1c1b8e-4a53-4b8b-9d0e-0f3c2f6c7a11"
)

type fakeUsers struct {
	calls int
}

func (f *fakeUsers) Authenticate(ctx context.Context, token string) (string, error) {
	f.calls++
	if token != goodToken {
		return "", common.ErrorUnauthorized
	}
	return testUser, nil
}

// helper to build server
func newTestServer() (*GRPCServer, *fakeUsers) {
	us := &fakeUsers{}
	return NewGRPCServer("127.0.0.1:0", logging.Discard(), us), us
}

func withToken(tok string) context.Context {
	md := metadata.New(map[string]string{common.AccessTokenHeaderName: tok})
	return metadata.NewIncomingContext(context.Background(), md)
}

func TestInterceptor_UnprotectedAllowsWithoutToken(t *testing.T) {
	s, us := newTestServer()

	info := &grpc.UnaryServerInfo{FullMethod: ValidateTokenMethod}
	handlerCalled := false

	h := func(ctx context.Context, req any) (any, error) {
		handlerCalled = true
		return "ok", nil
	}

	resp, err := s.accessTokenInterceptor(context.Background(), nil, info, h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handlerCalled {
		t.Fatal("handler was not called")
	}
	if resp != "ok" {
		t.Fatalf("unexpected handler resp: %v", resp)
	}
	if us.calls != 0 {
		t.Fatalf("interceptor should not authenticate unprotected methods")
	}
}

func TestInterceptor_MissingToken(t *testing.T) {
	s, _ := newTestServer()

	info := &grpc.UnaryServerInfo{FullMethod: WhoAmIMethod}

	h := func(ctx context.Context, req any) (any, error) {
		t.Fatal("handler should not be called when token missing")
		return nil, nil
	}

	for _, ctx := range []context.Context{context.Background(), withToken("")} {
		_, err := s.accessTokenInterceptor(ctx, nil, info, h)
		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("expected Unauthenticated, got %v", status.Code(err))
		}
		if status.Convert(err).Message() != "missing token" {
			t.Fatalf("expected 'missing token', got %q", status.Convert(err).Message())
		}
	}
}

func TestInterceptor_InvalidToken(t *testing.T) {
	s, _ := newTestServer()

	info := &grpc.UnaryServerInfo{FullMethod: WhoAmIMethod}

	h := func(ctx context.Context, req any) (any, error) {
		t.Fatal("handler should not be called for invalid token")
		return nil, nil
	}

	_, err := s.accessTokenInterceptor(withToken("tampered"), nil, info, h)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", status.Code(err))
	}
	if status.Convert(err).Message() != "invalid token" {
		t.Fatalf("expected 'invalid token', got %q", status.Convert(err).Message())
	}
}

func TestInterceptor_ValidToken_SetsUserID(t *testing.T) {
	s, _ := newTestServer()

	info := &grpc.UnaryServerInfo{FullMethod: WhoAmIMethod}

	var gotFromCtx string
	h := func(ctx context.Context, req any) (any, error) {
		gotFromCtx, _ = UserIDFromContext(ctx)
		return "ok", nil
	}

	resp, err := s.accessTokenInterceptor(withToken(goodToken), nil, info, h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "ok" {
		t.Fatalf("unexpected handler resp: %v", resp)
	}
	if gotFromCtx != testUser {
		t.Fatalf("user id not propagated in context: got %v want %v", gotFromCtx, testUser)
	}
}

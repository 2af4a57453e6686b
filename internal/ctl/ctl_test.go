package ctl

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/dmitrijs2005/spots/internal/common"
	"github.com/dmitrijs2005/spots/internal/cryptox"
	"github.com/dmitrijs2005/spots/internal/logging"
	gs "github.com/dmitrijs2005/spots/internal/server/grpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// stubPasswords replaces the terminal reader with a fixed sequence of inputs.
func stubPasswords(t *testing.T, inputs ...string) {
	t.Helper()
	old := readPassword
	t.Cleanup(func() { readPassword = old })

	readPassword = func(int) ([]byte, error) {
		if len(inputs) == 0 {
			return nil, io.EOF
		}
		pw := inputs[0]
		inputs = inputs[1:]
		return []byte(pw), nil
	}
}

func run(args ...string) (int, string, string) {
	var out, errOut bytes.Buffer
	code := Run(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRun_Usage(t *testing.T) {
	code, _, stderr := run()
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "usage: spotsctl")

	code, _, stderr = run("frobnicate")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, `unknown command "frobnicate"`)

	code, stdout, _ := run("help")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "keygen")
}

func TestKeygen(t *testing.T) {
	code, a, _ := run("keygen")
	require.Equal(t, exitOK, code)
	_, b, _ := run("keygen")

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(a))
	require.NoError(t, err)
	assert.Len(t, raw, cryptox.MinSecretSize)
	assert.NotEqual(t, a, b)

	_, err = cryptox.DeriveKey([]byte(strings.TrimSpace(a)), "spots:session-token:v1")
	assert.NoError(t, err, "generated secret must be accepted as TOKEN_SECRET_KEY")
}

func TestHashAndVerify(t *testing.T) {
	stubPasswords(t, "correct-horse", "correct-horse")
	code, stdout, stderr := run("hash")
	require.Equal(t, exitOK, code, stderr)
	h := strings.TrimSpace(stdout)
	assert.True(t, strings.HasPrefix(h, "$argon2id$"))
	assert.NotContains(t, stdout+stderr, "correct-horse")

	stubPasswords(t, "correct-horse")
	code, stdout, _ = run("verify", h)
	assert.Equal(t, exitOK, code)
	assert.Equal(t, "match\n", stdout)

	stubPasswords(t, "wrong")
	code, stdout, _ = run("verify", h)
	assert.Equal(t, exitMismatch, code)
	assert.Equal(t, "no match\n", stdout)
}

func TestHash_Errors(t *testing.T) {
	stubPasswords(t, "a", "b")
	code, _, stderr := run("hash")
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "passwords do not match")

	stubPasswords(t, "secret", "secret1")
	code, stdout, stderr := run("hash")
	assert.Equal(t, exitError, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "passwords do not match")

	stubPasswords(t, "", "")
	code, _, stderr = run("hash")
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, cryptox.ErrEmptyPassword.Error())

	old := readPassword
	t.Cleanup(func() { readPassword = old })
	readPassword = func(int) ([]byte, error) { return nil, errors.New("boom") }
	code, _, _ = run("hash")
	assert.Equal(t, exitError, code)
}

func TestVerify_Errors(t *testing.T) {
	code, _, _ := run("verify")
	assert.Equal(t, exitUsage, code)

	stubPasswords(t, "pw")
	code, _, stderr := run("verify", "not-a-hash")
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, cryptox.ErrInvalidHashFormat.Error())
}

type fakeUsers struct{}

func (fakeUsers) Authenticate(ctx context.Context, token string) (string, error) {
	if token != "good" {
		return "", common.ErrorUnauthorized
	}
	return "6f1c1b8e-4a53-4b8b-9d0e-0f3c2f6c7a11", nil
}

func startServer(t *testing.T) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := gs.NewGRPCServer("bufnet", logging.Discard(), fakeUsers{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	old := dialGRPC
	dialGRPC = func(addr string) (grpc.ClientConnInterface, io.Closer, error) {
		conn, err := grpc.NewClient("passthrough:///"+addr,
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		if err != nil {
			return nil, nil, err
		}
		return conn, conn, nil
	}

	t.Cleanup(func() {
		dialGRPC = old
		cancel()
		<-done
	})
}

func TestCheckToken(t *testing.T) {
	startServer(t)

	code, stdout, stderr := run("check-token", "-a", "bufnet", "good")
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "6f1c1b8e-4a53-4b8b-9d0e-0f3c2f6c7a11\n", stdout)

	code, _, stderr = run("check-token", "-a", "bufnet", "tampered")
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "unauthorized: invalid token")

	code, _, _ = run("check-token")
	assert.Equal(t, exitUsage, code)

	code, _, _ = run("check-token", "-x", "tok")
	assert.Equal(t, exitUsage, code)
}

// Package ctl implements spotsctl, the operator tool for the spots server.
//
// Commands:
//
//	keygen                      print a fresh TOKEN_SECRET_KEY
//	hash                        prompt for a password and print its PHC hash
//	verify <hash>               prompt for a password and check it against hash
//	check-token [-a addr] <tok> ask a running server who a token belongs to
package ctl

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/spots/internal/common"
	"github.com/dmitrijs2005/spots/internal/cryptox"
	gs "github.com/dmitrijs2005/spots/internal/server/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	exitOK       = 0
	exitMismatch = 1
	exitUsage    = 2
	exitError    = 3

	defaultGRPCAddr = "localhost:50051"
	callTimeout     = 5 * time.Second
)

var ErrUsage = errors.New("usage error")

// dialGRPC is a test seam for grpc.NewClient.
var dialGRPC = func(addr string) (grpc.ClientConnInterface, io.Closer, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	return conn, conn, nil
}

const usage = `usage: spotsctl <command> [args]

commands:
  keygen                       print a fresh TOKEN_SECRET_KEY
  hash                         hash a password read from the terminal
  verify <hash>                check a password read from the terminal
  check-token [-a addr] <tok>  resolve a session token via the gRPC API
`

// Run executes one command and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}

	var err error
	code := exitOK

	switch args[0] {
	case "keygen":
		err = keygen(stdout)
	case "hash":
		err = hash(stdout, stderr)
	case "verify":
		code, err = verify(args[1:], stdout, stderr)
	case "check-token":
		err = checkToken(ctx, args[1:], stdout)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
	default:
		err = fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}

	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		if errors.Is(err, ErrUsage) {
			fmt.Fprint(stderr, usage)
			return exitUsage
		}
		return exitError
	}
	return code
}

func keygen(w io.Writer) error {
	key := make([]byte, cryptox.MinSecretSize)
	if _, err := rand.Read(key); err != nil {
		return err
	}
	defer cryptox.Wipe(key)

	_, err := fmt.Fprintln(w, base64.RawURLEncoding.EncodeToString(key))
	return err
}

func hash(stdout, stderr io.Writer) error {
	pw, err := GetPassword(stderr, "Enter password: ")
	if err != nil {
		return err
	}
	defer cryptox.Wipe(pw)

	confirm, err := GetPassword(stderr, "Repeat password: ")
	if err != nil {
		return err
	}
	defer cryptox.Wipe(confirm)

	if subtle.ConstantTimeCompare(pw, confirm) != 1 {
		return errors.New("passwords do not match")
	}

	h, err := cryptox.HashPassword(string(pw))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, h)
	return err
}

func verify(args []string, stdout, stderr io.Writer) (int, error) {
	if len(args) != 1 {
		return exitUsage, fmt.Errorf("%w: verify takes exactly one hash", ErrUsage)
	}

	pw, err := GetPassword(stderr, "Enter password: ")
	if err != nil {
		return exitError, err
	}
	defer cryptox.Wipe(pw)

	ok, err := cryptox.VerifyPassword(string(pw), args[0])
	if err != nil {
		return exitError, err
	}
	if !ok {
		fmt.Fprintln(stdout, "no match")
		return exitMismatch, nil
	}
	fmt.Fprintln(stdout, "match")
	return exitOK, nil
}

func checkToken(ctx context.Context, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("check-token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	addr := fs.String("a", defaultGRPCAddr, "gRPC server address")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: check-token takes exactly one token", ErrUsage)
	}

	conn, closer, err := dialGRPC(*addr)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := gs.NewSessionServiceClient(conn).ValidateToken(ctx, wrapperspb.String(fs.Arg(0)))
	if err != nil {
		if status.Code(err) == codes.Unauthenticated {
			return fmt.Errorf("%w: %s", common.ErrorUnauthorized, status.Convert(err).Message())
		}
		return err
	}

	_, err = fmt.Fprintln(w, resp.GetValue())
	return err
}

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/scanrebate/internal/adminapi"
	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/dmitrijs2005/scanrebate/internal/filex"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	defaultServer = "127.0.0.1:50051"
	serverEnv     = "REBATECTL_SERVER"
	stateDir      = ".rebatectl"
	tokenFileName = "token"
)

var errNotLoggedIn = errors.New("not logged in, run `rebatectl login` first")

type dialFunc func(addr string) (adminapi.AdminClient, io.Closer, error)

// App holds the state shared by all commands of one invocation.
type App struct {
	in  *bufio.Reader
	out io.Writer

	server    string
	tokenFile string
	dial      dialFunc
}

func NewApp(in io.Reader, out io.Writer) *App {
	return &App{
		in:   bufio.NewReader(in),
		out:  out,
		dial: dialAdmin,
	}
}

func dialAdmin(addr string) (adminapi.AdminClient, io.Closer, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	return adminapi.NewAdminClient(conn), conn, nil
}

func defaultServerAddr() string {
	if v := os.Getenv(serverEnv); v != "" {
		return v
	}
	return defaultServer
}

// resolveTokenFile defaults the token file to ~/.rebatectl/token.
func (a *App) resolveTokenFile() error {
	if a.tokenFile != "" {
		return nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("home dir: %w", err)
	}
	dir, err := filex.EnsureSubdir(home, stateDir)
	if err != nil {
		return err
	}
	a.tokenFile = filepath.Join(dir, tokenFileName)
	return nil
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

// call dials the server and runs fn, attaching the saved access token
// unless the call is anonymous.
func (a *App) call(ctx context.Context, anonymous bool, fn func(ctx context.Context, c adminapi.AdminClient) error) error {
	if !anonymous {
		token, err := filex.ReadSecret(a.tokenFile)
		if errors.Is(err, common.ErrorNotFound) {
			return errNotLoggedIn
		}
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		ctx = withAccessToken(ctx, token)
	}

	client, closer, err := a.dial(a.server)
	if err != nil {
		return fmt.Errorf("connect %s: %w", a.server, err)
	}
	defer closer.Close()

	return describeRPCError(fn(ctx, client))
}

// describeRPCError turns gRPC statuses into operator-friendly messages.
func describeRPCError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unauthenticated:
		if st.Message() == common.ErrTokenExpired.Error() || st.Message() == common.ErrInvalidToken.Error() {
			return fmt.Errorf("session %s, run `rebatectl login` again", st.Message())
		}
		return errors.New(st.Message())
	case codes.NotFound:
		return fmt.Errorf("not found: %s", st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("not allowed in the current state: %s", st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("invalid request: %s", st.Message())
	case codes.Unavailable:
		return fmt.Errorf("server unavailable: %s", st.Message())
	}
	return fmt.Errorf("%s: %s", st.Code(), st.Message())
}

// Command egi is a CLI client for the EGI reservation service.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	grpcinsecure "google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	v1 "github.com/autobooknft/egi-reservations/internal/api/reservationsv1"
	"github.com/autobooknft/egi-reservations/internal/identity"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "egi-reservations")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "egi-reservations")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (run token or login)")
	}
	return tf.AccessToken, nil
}

// ---- grpc dial ----

// bearerCreds attaches the saved access token to every call.
type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

// walletCreds identifies a weak bidder by wallet session.
type walletCreds struct{ session string }

func (w walletCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{identity.WalletSessionHeader: w.session}, nil
}
func (walletCreds) RequireTransportSecurity() bool { return false }

// caller selects the identity sent with a call.
type caller struct {
	token  string
	wallet string
}

func loadTLS(caPath string, insecure bool) (credentials.TransportCredentials, error) {
	if insecure {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

type conn struct {
	addr      string
	caPath    string
	insecure  bool
	plaintext bool
}

func (c conn) dial(ctx context.Context, who caller) (*grpc.ClientConn, v1.ReservationsClient, error) {
	var opts []grpc.DialOption
	if c.plaintext {
		opts = append(opts, grpc.WithTransportCredentials(grpcinsecure.NewCredentials()))
	} else {
		creds, err := loadTLS(c.caPath, c.insecure)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	}
	switch {
	case who.token != "":
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: who.token, secure: !c.plaintext}))
	case who.wallet != "":
		opts = append(opts, grpc.WithPerRPCCredentials(walletCreds{session: who.wallet}))
	}
	//nolint:staticcheck // DialContext is supported through 1.x; migrate when grpc.NewClient is stable
	cc, err := grpc.DialContext(ctx, c.addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cc, v1.NewReservationsClient(cc), nil
}

// resolveCaller prefers an explicit wallet session, then the saved token.
func resolveCaller(wallet string) (caller, error) {
	if w := strings.TrimSpace(wallet); w != "" {
		return caller{wallet: w}, nil
	}
	tok, err := loadToken()
	if err != nil {
		return caller{}, fmt.Errorf("%w; or pass -wallet <session>", err)
	}
	return caller{token: tok}, nil
}

// ---- utils ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `egi CLI
Usage:
  egi -addr HOST:PORT [-cacert file | -insecure | -plaintext] <cmd> [args]

Commands:
  version
  token      -key <jwt key> -sub <subject> [-ttl 1h]   (dev: mint and save a token)
  login      -token <jwt>                              (save a token)
  reserve    -egi <id> -amount <decimal> [-currency EUR] [-wallet session]
  cancel     -id <reservation id> [-wallet session]
  status     -egi <id> [-wallet session]
  list       -egi <id> [-wallet session] [-json]
  verify     -uuid <certificate uuid>
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS/identity for RPC calls.
func main() {
	// global flags
	addr := flag.String("addr", "localhost:8443", "server addr")
	caPath := flag.String("cacert", "", "CA cert (PEM)")
	insecure := flag.Bool("insecure", false, "skip cert verify (dev)")
	plaintext := flag.Bool("plaintext", false, "no TLS (dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]
	c := conn{addr: *addr, caPath: *caPath, insecure: *insecure, plaintext: *plaintext}

	switch cmd {
	case "version":
		fmt.Printf("egi %s (%s)\n", version, buildDate)
	case "token":
		cmdToken(args)
	case "login":
		cmdLogin(args)
	case "reserve":
		cmdReserve(args, c)
	case "cancel":
		cmdCancel(args, c)
	case "status":
		cmdStatus(args, c)
	case "list":
		cmdList(args, c)
	case "verify":
		cmdVerify(args, c)
	default:
		usage()
	}
}

// ---- helpers ----

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

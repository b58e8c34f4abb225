package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	u "github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"

	v1 "github.com/autobooknft/egi-reservations/internal/api/reservationsv1"
	"github.com/autobooknft/egi-reservations/internal/identity"
)

// ------- validators -------

// parseAmount accepts a positive decimal with at most 8 fractional digits.
func parseAmount(s string) (string, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("amount %q is not a decimal", s)
	}
	if !d.IsPositive() {
		return "", errors.New("amount must be positive")
	}
	if d.Exponent() < -8 {
		return "", errors.New("amount has more than 8 decimal places")
	}
	return d.String(), nil
}

func validUUID(s string) bool {
	_, err := u.FromString(strings.TrimSpace(s))
	return err == nil
}

func choose(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func pretty(b []byte) string {
	var out any
	if json.Unmarshal(b, &out) == nil {
		j, _ := json.MarshalIndent(out, "", "  ")
		return string(j)
	}
	return string(b)
}

// ------- formatting -------

func printReservations(w io.Writer, rs []v1.Reservation) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tBIDDER\tAUTH\tOFFER\tCRYPTO\tSTATUS\tCURRENT\tCREATED")
	for _, r := range rs {
		cur := ""
		if r.IsCurrent {
			cur = "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s %s\t%s %s\t%s\t%s\t%s\n",
			r.ID, r.BidderID, r.AuthStrength,
			r.OfferFiat, r.Currency, r.OfferCrypto, r.CryptoCurrency,
			r.Status, cur, r.CreatedAt.UTC().Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func describeVerification(v *v1.VerifyCertificateResponse) string {
	var b strings.Builder
	verdict := "INVALID"
	if v.Valid {
		verdict = "valid"
	}
	fmt.Fprintf(&b, "certificate %s: %s\n", v.UUID, verdict)
	if s := v.Snapshot; s != nil {
		fmt.Fprintf(&b, "  %s / %s (%s)\n", s.CollectionName, s.EGITitle, s.EGIID)
		fmt.Fprintf(&b, "  offer %s %s (%s %s) by %s bidder, issued %s\n",
			s.OfferFiat, s.Currency, s.OfferCrypto, s.CryptoCurrency, s.AuthStrength, s.CreatedAt)
	}
	if v.Live.ReservationStatus != "" {
		fmt.Fprintf(&b, "  now: %s, highest=%t, unminted=%t\n",
			v.Live.ReservationStatus, v.Live.IsCurrentHighest, v.Live.EGIUnminted)
	}
	return b.String()
}

// ------- commands -------

// cmdToken mints a token with the server's key. Dev setups only.
func cmdToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	key := fs.String("key", os.Getenv("EGI_JWT_KEY"), "HS256 key (or EGI_JWT_KEY)")
	sub := fs.String("sub", "", "subject (account id)")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	_ = fs.Parse(args)
	if *key == "" || *sub == "" {
		fmt.Fprintln(os.Stderr, "need -key and -sub")
		os.Exit(1)
	}
	tok, exp, err := identity.IssueToken([]byte(*key), *sub, *ttl)
	if err != nil {
		fail(err)
	}
	if err := saveToken(tok, exp); err != nil {
		fail(err)
	}
	fmt.Println("ok, expires", exp.UTC().Format(time.RFC3339))
}

// cmdLogin saves a token obtained elsewhere.
func cmdLogin(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	tok := fs.String("token", "", "access token")
	ttl := fs.Duration("ttl", 15*time.Minute, "assumed lifetime when unknown")
	_ = fs.Parse(args)
	if *tok == "" {
		fmt.Fprintln(os.Stderr, "need -token")
		os.Exit(1)
	}
	if err := saveToken(*tok, time.Now().Add(*ttl)); err != nil {
		fail(err)
	}
	fmt.Println("ok")
}

func cmdReserve(args []string, c conn) {
	fs := flag.NewFlagSet("reserve", flag.ExitOnError)
	egi := fs.String("egi", "", "EGI id")
	amount := fs.String("amount", "", "offer amount")
	currency := fs.String("currency", "", "offer currency (default EUR)")
	wallet := fs.String("wallet", "", "wallet session (weak bidder)")
	_ = fs.Parse(args)
	if *egi == "" || *amount == "" {
		fmt.Fprintln(os.Stderr, "need -egi and -amount")
		os.Exit(1)
	}
	amt, err := parseAmount(*amount)
	if err != nil {
		fail(err)
	}
	who, err := resolveCaller(*wallet)
	if err != nil {
		fail(err)
	}

	ctx, cancel := withTimeout()
	defer cancel()
	cc, cli, err := c.dial(ctx, who)
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	out, err := cli.CreateReservation(ctx, &v1.CreateReservationRequest{
		EGIID: *egi, OfferFiat: amt, Currency: strings.ToUpper(choose(*currency, "EUR")),
	})
	if err != nil {
		fail(err)
	}
	fmt.Printf("reservation %d: %s\n", out.Reservation.ID, out.Decision)
	fmt.Printf("certificate %s\n", out.Certificate.UUID)
	fmt.Println(pretty(out.Certificate.Snapshot))
}

func cmdCancel(args []string, c conn) {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	id := fs.Int64("id", 0, "reservation id")
	wallet := fs.String("wallet", "", "wallet session (weak bidder)")
	_ = fs.Parse(args)
	if *id <= 0 {
		fmt.Fprintln(os.Stderr, "need -id")
		os.Exit(1)
	}
	who, err := resolveCaller(*wallet)
	if err != nil {
		fail(err)
	}

	ctx, cancel := withTimeout()
	defer cancel()
	cc, cli, err := c.dial(ctx, who)
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	if _, err := cli.CancelReservation(ctx, &v1.CancelReservationRequest{ReservationID: *id}); err != nil {
		fail(err)
	}
	fmt.Println("cancelled")
}

func cmdStatus(args []string, c conn) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	egi := fs.String("egi", "", "EGI id")
	wallet := fs.String("wallet", "", "wallet session (weak bidder)")
	_ = fs.Parse(args)
	if *egi == "" {
		fmt.Fprintln(os.Stderr, "need -egi")
		os.Exit(1)
	}
	who, err := resolveCaller(*wallet)
	if err != nil {
		fail(err)
	}

	ctx, cancel := withTimeout()
	defer cancel()
	cc, cli, err := c.dial(ctx, who)
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	out, err := cli.GetReservationStatus(ctx, &v1.GetReservationStatusRequest{EGIID: *egi})
	if err != nil {
		fail(err)
	}
	if out.Rank > 0 {
		fmt.Printf("rank %d of %d, highest %s %s\n", out.Rank, out.Standing, out.HighestAmount, out.Currency)
	} else {
		fmt.Printf("not standing (%s)\n", out.Reservation.Status)
	}
	printReservations(os.Stdout, []v1.Reservation{out.Reservation})
}

func cmdList(args []string, c conn) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	egi := fs.String("egi", "", "EGI id")
	wallet := fs.String("wallet", "", "wallet session (weak bidder)")
	asJSON := fs.Bool("json", false, "print JSON")
	_ = fs.Parse(args)
	if *egi == "" {
		fmt.Fprintln(os.Stderr, "need -egi")
		os.Exit(1)
	}
	who, err := resolveCaller(*wallet)
	if err != nil {
		fail(err)
	}

	ctx, cancel := withTimeout()
	defer cancel()
	cc, cli, err := c.dial(ctx, who)
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	out, err := cli.ListReservations(ctx, &v1.ListReservationsRequest{EGIID: *egi})
	if err != nil {
		fail(err)
	}
	if *asJSON {
		printJSON(out.Reservations)
		return
	}
	printReservations(os.Stdout, out.Reservations)
}

func cmdVerify(args []string, c conn) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	id := fs.String("uuid", "", "certificate uuid")
	_ = fs.Parse(args)
	if !validUUID(*id) {
		fmt.Fprintln(os.Stderr, "need -uuid <uuid>")
		os.Exit(1)
	}

	ctx, cancel := withTimeout()
	defer cancel()
	cc, cli, err := c.dial(ctx, caller{})
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	out, err := cli.VerifyCertificate(ctx, &v1.VerifyCertificateRequest{UUID: strings.TrimSpace(*id)})
	if err != nil {
		fail(err)
	}
	fmt.Print(describeVerification(out))
	if !out.Valid {
		os.Exit(3)
	}
}

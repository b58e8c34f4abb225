package grpcserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	v1 "github.com/autobooknft/egi-reservations/internal/api/reservationsv1"
	"github.com/autobooknft/egi-reservations/internal/errs"
	"github.com/autobooknft/egi-reservations/internal/model"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

func TestLoggingUnary_Passthrough(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := LoggingUnary(log)

	ctx := context.Background()

	ctx = peer.NewContext(ctx, &peer.Peer{Addr: fakeAddr{}})

	h := func(ctx context.Context, req any) (any, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: v1.ListReservationsMethod}

	resp, err := ic(ctx, "req", info, h)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s, _ := resp.(string); s != "ok" {
		t.Fatalf("resp mismatch: %v", resp)
	}

	wantErr := errors.New("boom")
	hErr := func(ctx context.Context, req any) (any, error) { return nil, wantErr }
	_, err = ic(ctx, "req", info, hErr)
	if !errors.Is(err, wantErr) {
		t.Fatalf("want original error, got: %v", err)
	}
}

func TestRecoverUnary_CatchesPanic(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := RecoverUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: v1.CreateReservationMethod}

	panicH := func(ctx context.Context, req any) (any, error) {
		panic("oh no")
	}

	_, err := ic(ctx, "req", info, panicH)
	if err == nil {
		t.Fatalf("expected error from panic")
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
}

func TestRecoverUnary_NoPanicPassThrough(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := RecoverUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: v1.CancelReservationMethod}

	h := func(ctx context.Context, req any) (any, error) { return 42, nil }

	resp, err := ic(ctx, "req", info, h)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if resp.(int) != 42 {
		t.Fatalf("resp mismatch: %v", resp)
	}
}

func TestLoggingUnary_DurationFieldDoesNotBlock(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := LoggingUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: v1.GetReservationStatusMethod}
	h := func(ctx context.Context, req any) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return "done", nil
	}

	start := time.Now()
	resp, err := ic(ctx, "req", info, h)
	if err != nil || resp.(string) != "done" {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Fatalf("duration should reflect handler time")
	}
}

type fakeResolver struct {
	b     model.Bidder
	err   error
	calls int
}

func (f *fakeResolver) Resolve(context.Context) (model.Bidder, error) {
	f.calls++
	return f.b, f.err
}

func TestAuthUnary_StoresBidder(t *testing.T) {
	t.Parallel()

	r := &fakeResolver{b: model.Bidder{ID: "user:alice", Strength: model.AuthStrong}}
	ic := AuthUnary(r, PublicMethods...)
	info := &grpc.UnaryServerInfo{FullMethod: v1.CreateReservationMethod}

	var got model.Bidder
	h := func(ctx context.Context, req any) (any, error) {
		got, _ = BidderFromCtx(ctx)
		return "ok", nil
	}
	if _, err := ic(context.Background(), "req", info, h); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got != r.b {
		t.Fatalf("bidder mismatch: %+v", got)
	}
}

func TestAuthUnary_RejectsUnknownCaller(t *testing.T) {
	t.Parallel()

	r := &fakeResolver{err: errs.ErrUnauthorized}
	ic := AuthUnary(r, PublicMethods...)
	info := &grpc.UnaryServerInfo{FullMethod: v1.CancelReservationMethod}

	called := false
	h := func(ctx context.Context, req any) (any, error) { called = true; return nil, nil }
	_, err := ic(context.Background(), "req", info, h)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("want Unauthenticated, got %v", err)
	}
	if called {
		t.Fatal("handler must not run")
	}
}

func TestAuthUnary_PublicMethodSkipsResolver(t *testing.T) {
	t.Parallel()

	r := &fakeResolver{err: errs.ErrUnauthorized}
	ic := AuthUnary(r, PublicMethods...)
	info := &grpc.UnaryServerInfo{FullMethod: v1.VerifyCertificateMethod}

	h := func(ctx context.Context, req any) (any, error) {
		if _, ok := BidderFromCtx(ctx); ok {
			t.Error("public call must not carry a bidder")
		}
		return "ok", nil
	}
	if _, err := ic(context.Background(), "req", info, h); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if r.calls != 0 {
		t.Fatalf("resolver called %d times", r.calls)
	}
}

// chain nests interceptors the way grpc.ChainUnaryInterceptor does: the
// first one is outermost.
func chain(ics ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, h grpc.UnaryHandler) (any, error) {
		next := h
		for i := len(ics) - 1; i >= 0; i-- {
			ic, inner := ics[i], next
			next = func(ctx context.Context, req any) (any, error) { return ic(ctx, req, info, inner) }
		}
		return next(ctx, req)
	}
}

func TestLoggingUnary_RecordsReasonAndBidder(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	r := &fakeResolver{b: model.Bidder{ID: "user:alice", Strength: model.AuthStrong}}
	ic := chain(LoggingUnary(zap.New(core)), AuthUnary(r, PublicMethods...))
	info := &grpc.UnaryServerInfo{FullMethod: v1.CreateReservationMethod}

	h := func(context.Context, any) (any, error) { return nil, toStatus(errs.ErrDuplicateReservation) }
	_, err := ic(context.Background(), "req", info, h)
	require.Equal(t, codes.AlreadyExists, status.Code(err))

	entries := logs.FilterMessage("grpc").All()
	require.Len(t, entries, 1)
	f := entries[0].ContextMap()
	require.Equal(t, v1.CreateReservationMethod, f["method"])
	require.Equal(t, "AlreadyExists", f["code"])
	require.Equal(t, "duplicate_reservation", f["reason"])
	require.Equal(t, "user:alice", f["bidder_id"])
	require.Equal(t, "strong", f["strength"])
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
}

func TestLoggingUnary_SuccessAndRejectedCaller(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)
	info := &grpc.UnaryServerInfo{FullMethod: v1.ListReservationsMethod}
	ok := func(context.Context, any) (any, error) { return "ok", nil }

	_, err := chain(LoggingUnary(log), AuthUnary(&fakeResolver{b: model.Bidder{ID: "wallet:0xabc", Strength: model.AuthWeak}}))(
		context.Background(), "req", info, ok)
	require.NoError(t, err)
	_, err = chain(LoggingUnary(log), AuthUnary(&fakeResolver{err: errs.ErrUnauthorized}))(
		context.Background(), "req", info, ok)
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	entries := logs.FilterMessage("grpc").All()
	require.Len(t, entries, 2)

	good := entries[0].ContextMap()
	require.Equal(t, "OK", good["code"])
	require.NotContains(t, good, "reason")
	require.Equal(t, "wallet:0xabc", good["bidder_id"])

	bad := entries[1].ContextMap()
	require.Equal(t, "unauthorized", bad["reason"])
	require.NotContains(t, bad, "bidder_id")
}

func TestRecoverUnary_LogsPanicWithBidder(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)
	r := &fakeResolver{b: model.Bidder{ID: "user:bob", Strength: model.AuthStrong}}
	ic := chain(LoggingUnary(log), RecoverUnary(log), AuthUnary(r))
	info := &grpc.UnaryServerInfo{FullMethod: v1.CancelReservationMethod}

	_, err := ic(context.Background(), "req", info, func(context.Context, any) (any, error) { panic("nil plan") })
	require.Equal(t, codes.Internal, status.Code(err))

	panics := logs.FilterMessage("handler panic").All()
	require.Len(t, panics, 1)
	f := panics[0].ContextMap()
	require.Equal(t, v1.CancelReservationMethod, f["method"])
	require.Equal(t, "user:bob", f["bidder_id"])
	require.Equal(t, "nil plan", f["panic"])

	access := logs.FilterMessage("grpc").All()
	require.Len(t, access, 1)
	require.Equal(t, zapcore.ErrorLevel, access[0].Level)
	require.Equal(t, "internal", access[0].ContextMap()["reason"])
}

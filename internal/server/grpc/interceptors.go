package grpcserver

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/autobooknft/egi-reservations/internal/identity"
	"github.com/autobooknft/egi-reservations/internal/model"
)

// callRecord collects what inner interceptors learn about a call so the
// access log line can carry it.
type callRecord struct {
	bidder model.Bidder
}

const callRecordKey ctxKey = "egi.call"

func recordFromCtx(ctx context.Context) *callRecord {
	c, _ := ctx.Value(callRecordKey).(*callRecord)
	return c
}

// LoggingUnary writes one line per call with the method, status code, reason
// code and the resolved bidder. It goes first in the chain so it also sees
// recovered panics and rejected credentials.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		call := &callRecord{}
		resp, err := next(context.WithValue(ctx, callRecordKey, call), req)
		st := status.Convert(err)

		// metadata only, never payloads
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", st.Code().String()),
			zap.Duration("dur", time.Since(start)),
		}
		if reason := reasonCode(st); reason != "" {
			fields = append(fields, zap.String("reason", reason))
		}
		if call.bidder.ID != "" {
			fields = append(fields,
				zap.String("bidder_id", call.bidder.ID),
				zap.String("strength", string(call.bidder.Strength)),
			)
		}
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			fields = append(fields, zap.String("peer", p.Addr.String()))
		}
		log.Log(levelFor(st.Code()), "grpc", fields...)
		return resp, err
	}
}

// reasonCode extracts the reason code that toStatus puts in front of the
// message.
func reasonCode(st *status.Status) string {
	if st.Code() == codes.OK {
		return ""
	}
	reason, _, _ := strings.Cut(st.Message(), ": ")
	for _, r := range reason {
		if (r < 'a' || r > 'z') && r != '_' {
			return ""
		}
	}
	return reason
}

func levelFor(c codes.Code) zapcore.Level {
	switch c {
	case codes.Internal, codes.Unknown, codes.DataLoss:
		return zapcore.ErrorLevel
	case codes.Unavailable, codes.ResourceExhausted:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// RecoverUnary turns a handler panic into codes.Internal and logs it with the
// method and, when already resolved, the bidder.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				fields := []zap.Field{
					zap.String("method", info.FullMethod),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				}
				if call := recordFromCtx(ctx); call != nil && call.bidder.ID != "" {
					fields = append(fields, zap.String("bidder_id", call.bidder.ID))
				}
				log.Error("handler panic", fields...)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}

// AuthUnary resolves the caller with r and stores the bidder in the context.
// Methods listed in public skip resolution.
func AuthUnary(r identity.Resolver, public ...string) grpc.UnaryServerInterceptor {
	skip := make(map[string]struct{}, len(public))
	for _, m := range public {
		skip[m] = struct{}{}
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if _, ok := skip[info.FullMethod]; ok {
			return next(ctx, req)
		}
		b, err := r.Resolve(ctx)
		if err != nil {
			return nil, toStatus(err)
		}
		if call := recordFromCtx(ctx); call != nil {
			call.bidder = b
		}
		return next(WithBidder(ctx, b), req)
	}
}

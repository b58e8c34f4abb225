// Package grpcserver exposes the reservation engine over gRPC.
package grpcserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	v1 "github.com/autobooknft/egi-reservations/internal/api/reservationsv1"
	"github.com/autobooknft/egi-reservations/internal/convert"
	"github.com/autobooknft/egi-reservations/internal/errs"
	"github.com/autobooknft/egi-reservations/internal/limiter"
	"github.com/autobooknft/egi-reservations/internal/model"
	"github.com/autobooknft/egi-reservations/internal/service"
)

// ReservationService is the application API the handlers call.
type ReservationService interface {
	CreateReservation(ctx context.Context, in service.CreateInput) (model.Reservation, model.Certificate, error)
	CancelReservation(ctx context.Context, reservationID int64, requester model.Bidder) error
	VerifyCertificate(ctx context.Context, id string) (model.VerificationResult, error)
	GetReservationStatus(ctx context.Context, egiID string, bidder model.Bidder) (model.RankInfo, error)
	ListReservations(ctx context.Context, egiID string) ([]model.Reservation, error)
}

// PublicMethods need no caller identity.
var PublicMethods = []string{v1.VerifyCertificateMethod}

// Server wires the service into gRPC handlers.
type Server struct {
	svc ReservationService
	lim limiter.Limiter
	log *zap.Logger
}

var _ v1.ReservationsServer = (*Server)(nil)

// New constructs a gRPC server. lim may be nil to disable throttling.
func New(svc ReservationService, lim limiter.Limiter, log *zap.Logger) *Server {
	if lim == nil {
		lim = limiter.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, lim: lim, log: log}
}

// CreateReservation places an offer on an EGI. Bidders whose attempts keep
// being rejected are blocked for a while.
func (s *Server) CreateReservation(ctx context.Context, req *v1.CreateReservationRequest) (*v1.CreateReservationResponse, error) {
	b, err := s.bidder(ctx)
	if err != nil {
		return nil, err
	}
	key := limiter.Key(b.ID)
	if ok, retryAfter, err := s.lim.Allow(ctx, key); err != nil {
		// fail open: throttling is best effort
		s.log.Warn("limiter allow", zap.Error(err))
	} else if !ok {
		return nil, status.Error(codes.ResourceExhausted,
			fmt.Sprintf("%s: retry after %s", errs.Reason(errs.ErrRateLimited), retryAfter.Round(time.Second)))
	}

	amount, err := convert.FromAPIOffer(req.OfferFiat)
	if err == nil {
		var (
			res  model.Reservation
			cert model.Certificate
		)
		res, cert, err = s.svc.CreateReservation(ctx, service.CreateInput{
			EGIID:     strings.TrimSpace(req.EGIID),
			Bidder:    b,
			OfferFiat: amount,
			Currency:  req.Currency,
		})
		if err == nil {
			if err := s.lim.Success(ctx, key); err != nil {
				s.log.Warn("limiter success", zap.Error(err))
			}
			return convert.ToAPICreateResponse(res, cert), nil
		}
	}

	switch errs.Classify(err) {
	case errs.ClassValidation, errs.ClassConflict:
		if blocked, _, lerr := s.lim.Failure(ctx, key); lerr != nil {
			s.log.Warn("limiter failure", zap.Error(lerr))
		} else if blocked {
			s.log.Info("bidder throttled", zap.String("reason", errs.Reason(err)))
		}
	}
	return nil, toStatus(err)
}

// CancelReservation cancels one of the caller's reservations.
func (s *Server) CancelReservation(ctx context.Context, req *v1.CancelReservationRequest) (*v1.CancelReservationResponse, error) {
	b, err := s.bidder(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.svc.CancelReservation(ctx, req.ReservationID, b); err != nil {
		return nil, toStatus(err)
	}
	return &v1.CancelReservationResponse{}, nil
}

// VerifyCertificate checks a certificate. Callable without identity.
func (s *Server) VerifyCertificate(ctx context.Context, req *v1.VerifyCertificateRequest) (*v1.VerifyCertificateResponse, error) {
	res, err := s.svc.VerifyCertificate(ctx, req.UUID)
	if err != nil {
		return nil, toStatus(err)
	}
	return convert.ToAPIVerification(res), nil
}

// GetReservationStatus returns the caller's rank on an EGI.
func (s *Server) GetReservationStatus(ctx context.Context, req *v1.GetReservationStatusRequest) (*v1.GetReservationStatusResponse, error) {
	b, err := s.bidder(ctx)
	if err != nil {
		return nil, err
	}
	info, err := s.svc.GetReservationStatus(ctx, strings.TrimSpace(req.EGIID), b)
	if err != nil {
		return nil, toStatus(err)
	}
	return convert.ToAPIRankInfo(info), nil
}

// ListReservations returns the reservation history of an EGI.
func (s *Server) ListReservations(ctx context.Context, req *v1.ListReservationsRequest) (*v1.ListReservationsResponse, error) {
	if _, err := s.bidder(ctx); err != nil {
		return nil, err
	}
	rs, err := s.svc.ListReservations(ctx, strings.TrimSpace(req.EGIID))
	if err != nil {
		return nil, toStatus(err)
	}
	return &v1.ListReservationsResponse{Reservations: convert.ToAPIReservations(rs)}, nil
}

func (s *Server) bidder(ctx context.Context) (model.Bidder, error) {
	b, ok := BidderFromCtx(ctx)
	if !ok {
		return model.Bidder{}, status.Error(codes.Unauthenticated, "unauthorized: no identity")
	}
	return b, nil
}

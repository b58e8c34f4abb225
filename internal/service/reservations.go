// Package service contains the reservation engine's application service.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/autobooknft/egi-reservations/internal/audit"
	"github.com/autobooknft/egi-reservations/internal/certificate"
	"github.com/autobooknft/egi-reservations/internal/clock"
	"github.com/autobooknft/egi-reservations/internal/egilock"
	"github.com/autobooknft/egi-reservations/internal/errs"
	"github.com/autobooknft/egi-reservations/internal/metrics"
	"github.com/autobooknft/egi-reservations/internal/model"
	"github.com/autobooknft/egi-reservations/internal/notify"
	"github.com/autobooknft/egi-reservations/internal/priority"
	"github.com/autobooknft/egi-reservations/internal/rates"
	"github.com/autobooknft/egi-reservations/internal/repository"
)

// Store is everything the service reads and writes.
type Store interface {
	repository.ReservationRepository
	repository.EGIRepository
	repository.CertificateRepository
}

// MintGate reports whether an EGI has been minted or published.
type MintGate interface {
	IsLocked(ctx context.Context, egiID string) (bool, error)
}

// Signer issues and checks certificates.
type Signer interface {
	Issue(snap model.Snapshot) (model.Certificate, error)
	Verify(c model.Certificate) bool
}

// Dispatcher receives rank change events after commit, while the EGI section
// is still held. Dispatch must not block.
type Dispatcher interface {
	Dispatch(evs ...model.RankChangeEvent)
}

// ReservationService is the only writer of reservation state.
type ReservationService struct {
	store  Store
	gate   MintGate
	rates  rates.Converter
	signer Signer

	locks      *egilock.Locker
	clock      clock.Clock
	dispatcher Dispatcher
	audit      audit.Log
	metrics    *metrics.Metrics
	log        *zap.Logger
	tracer     trace.Tracer

	minOffer       decimal.Decimal
	currency       string
	cryptoCurrency string
}

// Option configures a ReservationService.
type Option func(*ReservationService)

const (
	defaultCurrency       = "EUR"
	defaultCryptoCurrency = "ETH"
	defaultLockTimeout    = 5 * time.Second
)

// New builds the service. gate is usually the store itself.
func New(store Store, gate MintGate, conv rates.Converter, signer Signer, opts ...Option) *ReservationService {
	s := &ReservationService{
		store:          store,
		gate:           gate,
		rates:          conv,
		signer:         signer,
		locks:          egilock.New(defaultLockTimeout),
		clock:          clock.System(),
		dispatcher:     nopDispatcher{},
		audit:          audit.Nop{},
		log:            zap.NewNop(),
		tracer:         otel.Tracer("github.com/autobooknft/egi-reservations/internal/service"),
		currency:       defaultCurrency,
		cryptoCurrency: defaultCryptoCurrency,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// WithLocker sets the in-process per-EGI locker.
func WithLocker(l *egilock.Locker) Option {
	return func(s *ReservationService) {
		if l != nil {
			s.locks = l
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *ReservationService) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithDispatcher sets where rank change events go.
func WithDispatcher(d Dispatcher) Option {
	return func(s *ReservationService) {
		if d != nil {
			s.dispatcher = d
		}
	}
}

// WithAudit sets the audit log.
func WithAudit(a audit.Log) Option {
	return func(s *ReservationService) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ReservationService) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *ReservationService) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMinOffer rejects offers below floor.
func WithMinOffer(floor decimal.Decimal) Option {
	return func(s *ReservationService) { s.minOffer = floor }
}

// WithCurrency sets the settlement currency offers must be made in.
func WithCurrency(c string) Option {
	return func(s *ReservationService) {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			s.currency = c
		}
	}
}

// WithCryptoCurrency sets the currency offers are converted to.
func WithCryptoCurrency(c string) Option {
	return func(s *ReservationService) {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			s.cryptoCurrency = c
		}
	}
}

// Currency returns the settlement currency.
func (s *ReservationService) Currency() string { return s.currency }

// CreateInput is a reservation request.
type CreateInput struct {
	EGIID     string
	Bidder    model.Bidder
	OfferFiat decimal.Decimal
	Currency  string
}

// CreateReservation ranks a new offer and issues its certificate. Everything
// it writes commits together or not at all. Events and audit follow the
// commit but are handed off before the EGI section is released, so one EGI's
// events are queued in commit order.
func (s *ReservationService) CreateReservation(ctx context.Context, in CreateInput) (model.Reservation, model.Certificate, error) {
	ctx, span := s.tracer.Start(ctx, "ReservationService.CreateReservation",
		trace.WithAttributes(attribute.String("egi.id", in.EGIID)))
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveOp("create", time.Since(start)) }()

	res, cert, plan, err := s.create(ctx, in)
	if err != nil {
		s.fail(span, "create", err)
		return model.Reservation{}, model.Certificate{}, err
	}

	s.metrics.Accepted(plan.Decision.String())
	s.countWrites(plan.Writes)
	span.SetAttributes(attribute.Int64("reservation.id", res.ID), attribute.String("decision", plan.Decision.String()))
	s.log.Info("reservation accepted",
		zap.Int64("reservation_id", res.ID),
		zap.String("egi_id", res.EGIID),
		zap.String("decision", plan.Decision.String()),
		zap.String("strength", string(res.AuthStrength)),
	)
	return res, cert, nil
}

func (s *ReservationService) create(ctx context.Context, in CreateInput) (model.Reservation, model.Certificate, priority.Plan, error) {
	var (
		res  model.Reservation
		cert model.Certificate
		plan priority.Plan
	)
	if err := s.validateCreate(in); err != nil {
		return res, cert, plan, err
	}
	if locked, err := s.gate.IsLocked(ctx, in.EGIID); err != nil {
		return res, cert, plan, err
	} else if locked {
		return res, cert, plan, errs.ErrMintLocked
	}

	// The rate is resolved outside the section and frozen for this request.
	crypto, err := s.rates.Convert(ctx, in.OfferFiat, s.currency, s.cryptoCurrency)
	if err != nil {
		if !errors.Is(err, errs.ErrRateUnavailable) {
			err = fmt.Errorf("%w: %v", errs.ErrRateUnavailable, err)
		}
		return res, cert, plan, err
	}

	release, err := s.locks.Acquire(ctx, in.EGIID)
	if err != nil {
		return res, cert, plan, err
	}
	defer release()

	err = s.store.WithinEGI(ctx, in.EGIID, func(ctx context.Context, tx repository.ReservationTx) error {
		now := s.clock.Now()
		egi, err := tx.LockEGI(ctx, in.EGIID)
		if err != nil {
			return err
		}
		if egi.MintLocked {
			return errs.ErrMintLocked
		}
		if egi.WindowClosed(now) {
			return errs.ErrWindowClosed
		}
		if dup, err := tx.HasActive(ctx, in.EGIID, in.Bidder.ID); err != nil {
			return err
		} else if dup {
			return errs.ErrDuplicateReservation
		}
		standing, err := tx.ListStanding(ctx, in.EGIID)
		if err != nil {
			return err
		}
		id, seq, err := tx.Allocate(ctx)
		if err != nil {
			return err
		}

		plan = priority.PlanCreate(model.Reservation{
			ID:             id,
			EGIID:          in.EGIID,
			BidderID:       in.Bidder.ID,
			AuthStrength:   in.Bidder.Strength,
			OfferFiat:      in.OfferFiat,
			Currency:       s.currency,
			OfferCrypto:    crypto,
			CryptoCurrency: s.cryptoCurrency,
			Seq:            seq,
			CreatedAt:      now,
			UpdatedAt:      now,
		}, standing)

		if err := applyWrites(ctx, tx, plan.Writes, now); err != nil {
			return err
		}
		if err := tx.Insert(ctx, *plan.Candidate); err != nil {
			return err
		}
		c, err := s.signer.Issue(certificate.SnapshotOf(*plan.Candidate, *egi))
		if err != nil {
			return fmt.Errorf("issue certificate: %w", err)
		}
		if err := tx.InsertCertificate(ctx, c); err != nil {
			return err
		}
		res, cert = *plan.Candidate, c
		return nil
	})
	if err != nil {
		return model.Reservation{}, model.Certificate{}, priority.Plan{}, err
	}
	s.publishCreate(ctx, res, cert, plan)
	return res, cert, plan, nil
}

// publishCreate queues the events and audit entries of a committed creation.
// The caller still holds the EGI section.
func (s *ReservationService) publishCreate(ctx context.Context, res model.Reservation, cert model.Certificate, plan priority.Plan) {
	s.dispatcher.Dispatch(notify.Events(plan, res.EGIID, s.currency, res.CreatedAt)...)
	s.audit.Record(ctx, audit.KindCreated, res.BidderID, map[string]string{
		"reservation_id": strconv.FormatInt(res.ID, 10),
		"egi_id":         res.EGIID,
		"decision":       plan.Decision.String(),
		"certificate":    cert.UUID,
	})
	for _, w := range plan.Writes {
		kind := audit.KindSuperseded
		if w.Status == model.StatusCancelled {
			kind = audit.KindCancelled
		}
		s.audit.Record(ctx, kind, res.BidderID, map[string]string{
			"reservation_id": strconv.FormatInt(w.ID, 10),
			"egi_id":         w.EGIID,
			"by":             strconv.FormatInt(res.ID, 10),
		})
	}
}

func (s *ReservationService) validateCreate(in CreateInput) error {
	if strings.TrimSpace(in.EGIID) == "" {
		return fmt.Errorf("%w: empty egi id", errs.ErrInvalidArgument)
	}
	if in.Bidder.ID == "" || !in.Bidder.Strength.Valid() {
		return errs.ErrUnauthorized
	}
	if !in.OfferFiat.IsPositive() {
		return fmt.Errorf("%w: offer must be positive", errs.ErrInvalidAmount)
	}
	if in.OfferFiat.LessThan(s.minOffer) {
		return fmt.Errorf("%w: offer below minimum %s", errs.ErrInvalidAmount, s.minOffer)
	}
	if in.OfferFiat.Exponent() < -8 {
		return fmt.Errorf("%w: more than 8 decimal places", errs.ErrInvalidAmount)
	}
	if !strings.EqualFold(strings.TrimSpace(in.Currency), s.currency) {
		return fmt.Errorf("%w: offers are ranked in %s", errs.ErrInvalidCurrency, s.currency)
	}
	return nil
}

// CancelReservation cancels a standing reservation owned by requester. If it
// was current, the best remaining reservation is promoted.
func (s *ReservationService) CancelReservation(ctx context.Context, reservationID int64, requester model.Bidder) error {
	ctx, span := s.tracer.Start(ctx, "ReservationService.CancelReservation",
		trace.WithAttributes(attribute.Int64("reservation.id", reservationID)))
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveOp("cancel", time.Since(start)) }()

	plan, r, err := s.cancel(ctx, reservationID, requester)
	if err != nil {
		s.fail(span, "cancel", err)
		return err
	}

	s.countWrites(plan.Writes)
	s.log.Info("reservation cancelled",
		zap.Int64("reservation_id", r.ID),
		zap.String("egi_id", r.EGIID),
		zap.Bool("was_current", r.IsCurrent),
	)
	return nil
}

func (s *ReservationService) cancel(ctx context.Context, id int64, requester model.Bidder) (priority.Plan, model.Reservation, error) {
	var plan priority.Plan
	if id <= 0 {
		return plan, model.Reservation{}, fmt.Errorf("%w: reservation id", errs.ErrInvalidArgument)
	}
	if requester.ID == "" {
		return plan, model.Reservation{}, errs.ErrUnauthorized
	}
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return plan, model.Reservation{}, err
	}
	if r.BidderID != requester.ID {
		return plan, model.Reservation{}, errs.ErrForbidden
	}
	if r.Status.Terminal() {
		return plan, model.Reservation{}, errs.ErrAlreadyTerminal
	}
	if locked, err := s.gate.IsLocked(ctx, r.EGIID); err != nil {
		return plan, model.Reservation{}, err
	} else if locked {
		return plan, model.Reservation{}, errs.ErrMintLocked
	}

	release, err := s.locks.Acquire(ctx, r.EGIID)
	if err != nil {
		return plan, model.Reservation{}, err
	}
	defer release()

	var (
		target model.Reservation
		now    time.Time
	)
	err = s.store.WithinEGI(ctx, r.EGIID, func(ctx context.Context, tx repository.ReservationTx) error {
		now = s.clock.Now()
		egi, err := tx.LockEGI(ctx, r.EGIID)
		if err != nil {
			return err
		}
		if egi.MintLocked {
			return errs.ErrMintLocked
		}
		standing, err := tx.ListStanding(ctx, r.EGIID)
		if err != nil {
			return err
		}
		found := false
		for _, st := range standing {
			if st.ID == id {
				target, found = st, true
				break
			}
		}
		if !found {
			return errs.ErrAlreadyTerminal
		}
		plan = priority.PlanRemoval([]int64{id}, model.StatusCancelled, standing)
		return applyWrites(ctx, tx, plan.Writes, now)
	})
	if err != nil {
		return priority.Plan{}, model.Reservation{}, err
	}
	s.dispatcher.Dispatch(notify.Events(plan, r.EGIID, s.currency, now)...)
	s.auditRemoval(ctx, plan, requester.ID, audit.KindCancelled)
	return plan, target, nil
}

// ExpireDue expires the standing reservations of one EGI that are past due at
// the current time: weak ones older than weakTTL, and all of them once the
// mint window has closed. Mint-locked EGIs are left untouched. It returns the
// number of expired reservations.
func (s *ReservationService) ExpireDue(ctx context.Context, egiID string, weakTTL time.Duration) (int, error) {
	ctx, span := s.tracer.Start(ctx, "ReservationService.ExpireDue",
		trace.WithAttributes(attribute.String("egi.id", egiID)))
	defer span.End()

	release, err := s.locks.Acquire(ctx, egiID)
	if err != nil {
		s.fail(span, "expire", err)
		return 0, err
	}
	defer release()

	var (
		plan priority.Plan
		now  time.Time
	)
	err = s.store.WithinEGI(ctx, egiID, func(ctx context.Context, tx repository.ReservationTx) error {
		now = s.clock.Now()
		egi, err := tx.LockEGI(ctx, egiID)
		if err != nil {
			return err
		}
		if egi.MintLocked {
			return nil
		}
		standing, err := tx.ListStanding(ctx, egiID)
		if err != nil {
			return err
		}
		closed := egi.WindowClosed(now)
		var due []int64
		for _, r := range standing {
			weakDue := weakTTL > 0 && r.AuthStrength == model.AuthWeak && !r.CreatedAt.Add(weakTTL).After(now)
			if closed || weakDue {
				due = append(due, r.ID)
			}
		}
		if len(due) == 0 {
			return nil
		}
		plan = priority.PlanRemoval(due, model.StatusExpired, standing)
		return applyWrites(ctx, tx, plan.Writes, now)
	})
	if err != nil {
		s.fail(span, "expire", err)
		return 0, err
	}
	if len(plan.Writes) == 0 {
		return 0, nil
	}

	// still inside the section: release runs on return
	s.dispatcher.Dispatch(notify.Events(plan, egiID, s.currency, now)...)
	s.auditRemoval(ctx, plan, "sweeper", audit.KindExpired)
	s.countWrites(plan.Writes)

	n := 0
	for _, w := range plan.Writes {
		if w.Status == model.StatusExpired {
			n++
		}
	}
	span.SetAttributes(attribute.Int("expired", n))
	s.log.Info("reservations expired", zap.String("egi_id", egiID), zap.Int("count", n))
	return n, nil
}

// VerifyCertificate checks a certificate against its own stored snapshot and
// adds live facts read from current state. An invalid signature is a result,
// not an error.
func (s *ReservationService) VerifyCertificate(ctx context.Context, id string) (model.VerificationResult, error) {
	ctx, span := s.tracer.Start(ctx, "ReservationService.VerifyCertificate")
	defer span.End()

	u, err := uuid.FromString(strings.TrimSpace(id))
	if err != nil {
		err = fmt.Errorf("%w: certificate uuid", errs.ErrInvalidArgument)
		s.fail(span, "verify", err)
		return model.VerificationResult{}, err
	}
	cert, err := s.store.GetCertificate(ctx, u.String())
	if err != nil {
		s.fail(span, "verify", err)
		return model.VerificationResult{}, err
	}

	out := model.VerificationResult{UUID: cert.UUID, Valid: s.signer.Verify(*cert)}
	if snap, err := certificate.Decode(cert.Snapshot); err == nil {
		out.Snapshot = &snap
	}

	r, err := s.store.GetReservation(ctx, cert.ReservationID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		s.log.Warn("certificate without reservation", zap.String("uuid", cert.UUID), zap.Int64("reservation_id", cert.ReservationID))
	case err != nil:
		s.fail(span, "verify", err)
		return model.VerificationResult{}, err
	default:
		locked, err := s.gate.IsLocked(ctx, r.EGIID)
		if err != nil {
			s.fail(span, "verify", err)
			return model.VerificationResult{}, err
		}
		out.Live = model.LiveFacts{
			ReservationStatus: r.Status,
			IsCurrentHighest:  r.IsCurrent,
			EGIUnminted:       !locked,
		}
	}

	s.metrics.Verified(out.Valid)
	span.SetAttributes(attribute.Bool("valid", out.Valid))
	return out, nil
}

// GetReservationStatus returns the bidder's reservation on an EGI with its live
// rank. The bidder's standing reservation is preferred over older ones.
func (s *ReservationService) GetReservationStatus(ctx context.Context, egiID string, bidder model.Bidder) (model.RankInfo, error) {
	ctx, span := s.tracer.Start(ctx, "ReservationService.GetReservationStatus",
		trace.WithAttributes(attribute.String("egi.id", egiID)))
	defer span.End()

	if bidder.ID == "" {
		return model.RankInfo{}, errs.ErrUnauthorized
	}
	mine, err := s.store.FindLatestForBidder(ctx, egiID, bidder.ID)
	if err != nil {
		s.fail(span, "status", err)
		return model.RankInfo{}, err
	}
	all, err := s.store.ListByEGI(ctx, egiID)
	if err != nil {
		s.fail(span, "status", err)
		return model.RankInfo{}, err
	}

	var standing []model.Reservation
	for _, r := range all {
		if r.ID == mine.ID {
			*mine = r
		}
		if r.Status.Standing() {
			standing = append(standing, r)
		}
	}
	priority.Sort(standing)

	info := model.RankInfo{
		Reservation: *mine,
		Rank:        priority.Ranks(standing)[mine.ID],
		Standing:    len(standing),
		Currency:    s.currency,
	}
	if len(standing) > 0 {
		info.HighestAmount = standing[0].OfferFiat
	}
	return info, nil
}

// ListReservations returns the full history of an EGI: standing reservations
// in rank order first, then the terminal ones newest first.
func (s *ReservationService) ListReservations(ctx context.Context, egiID string) ([]model.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "ReservationService.ListReservations",
		trace.WithAttributes(attribute.String("egi.id", egiID)))
	defer span.End()

	if strings.TrimSpace(egiID) == "" {
		return nil, fmt.Errorf("%w: empty egi id", errs.ErrInvalidArgument)
	}
	all, err := s.store.ListByEGI(ctx, egiID)
	if err != nil {
		s.fail(span, "list", err)
		return nil, err
	}
	var standing, rest []model.Reservation
	for _, r := range all {
		if r.Status.Standing() {
			standing = append(standing, r)
		} else {
			rest = append(rest, r)
		}
	}
	priority.Sort(standing)
	for i, j := 0, len(rest)-1; i < j; i, j = i+1, j-1 {
		rest[i], rest[j] = rest[j], rest[i]
	}
	return append(standing, rest...), nil
}

func applyWrites(ctx context.Context, tx repository.ReservationTx, writes []model.Reservation, now time.Time) error {
	for i := range writes {
		writes[i].UpdatedAt = now
		if err := tx.Update(ctx, writes[i]); err != nil {
			return fmt.Errorf("update reservation %d: %w", writes[i].ID, err)
		}
	}
	return nil
}

func (s *ReservationService) auditRemoval(ctx context.Context, plan priority.Plan, actor string, kind audit.Kind) {
	for _, w := range plan.Writes {
		k := kind
		if w.IsCurrent {
			k = audit.KindPromoted
		}
		s.audit.Record(ctx, k, actor, map[string]string{
			"reservation_id": strconv.FormatInt(w.ID, 10),
			"egi_id":         w.EGIID,
			"bidder_id":      w.BidderID,
		})
	}
}

func (s *ReservationService) countWrites(writes []model.Reservation) {
	for _, w := range writes {
		status := string(w.Status)
		if w.IsCurrent {
			status = "promoted"
		}
		s.metrics.Transition(status, 1)
	}
}

func (s *ReservationService) fail(span trace.Span, op string, err error) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, errs.Reason(err))
	s.metrics.Rejected(op, errs.Reason(err))
	if errs.Classify(err) == errs.ClassInternal {
		s.log.Error("operation failed", zap.String("op", op), zap.Error(err))
	}
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(...model.RankChangeEvent) {}

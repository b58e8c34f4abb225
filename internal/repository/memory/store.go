// Package memory is an in-process implementation of the repository interfaces.
// It backs single-instance deployments and tests.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/autobooknft/egi-reservations/internal/egilock"
	"github.com/autobooknft/egi-reservations/internal/errs"
	"github.com/autobooknft/egi-reservations/internal/model"
	"github.com/autobooknft/egi-reservations/internal/repository"
)

// Store keeps EGIs, reservations and certificates in maps. Write
// transactions are serialized per EGI; mu only guards map access, so
// transactions on different EGIs run side by side. Staged writes become
// visible only on success.
type Store struct {
	mu    sync.RWMutex
	egis  map[string]model.EGI
	res   map[int64]model.Reservation
	certs map[string]model.Certificate
	byRes map[int64]string

	sections *egilock.Locker
	nextID   atomic.Int64
	nextSeq  atomic.Int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		egis:     make(map[string]model.EGI),
		res:      make(map[int64]model.Reservation),
		certs:    make(map[string]model.Certificate),
		byRes:    make(map[int64]string),
		sections: egilock.New(0),
	}
}

var (
	_ repository.ReservationRepository = (*Store)(nil)
	_ repository.EGIRepository         = (*Store)(nil)
	_ repository.CertificateRepository = (*Store)(nil)
)

// PutEGI inserts or replaces an EGI. It stands in for the collection subsystem.
func (s *Store) PutEGI(e model.EGI) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.egis[e.ID] = e
}

// SetMintLocked flips the mint flag of a known EGI.
func (s *Store) SetMintLocked(id string, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.egis[id]
	if !ok {
		return errs.ErrNotFound
	}
	e.MintLocked = locked
	s.egis[id] = e
	return nil
}

// WithinEGI runs fn with exclusive write access to one EGI. Waiting for the
// EGI ends with errs.ErrBusy once ctx's deadline passes. Staged writes are
// applied only when fn returns nil.
func (s *Store) WithinEGI(
	ctx context.Context, egiID string, fn func(ctx context.Context, tx repository.ReservationTx) error,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	release, err := s.sections.Acquire(ctx, egiID)
	if err != nil {
		return err
	}
	defer release()

	tx := &memTx{s: s, staged: make(map[int64]model.Reservation)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range tx.staged {
		s.res[id] = r
	}
	for _, c := range tx.certs {
		s.certs[c.UUID] = c
		s.byRes[c.ReservationID] = c.UUID
	}
	return nil
}

func (s *Store) GetReservation(_ context.Context, id int64) (*model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.res[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &r, nil
}

func (s *Store) ListByEGI(_ context.Context, egiID string) ([]model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(func(r model.Reservation) bool { return r.EGIID == egiID }), nil
}

func (s *Store) FindLatestForBidder(_ context.Context, egiID, bidderID string) (*model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs := s.filter(func(r model.Reservation) bool { return r.EGIID == egiID && r.BidderID == bidderID })
	if len(rs) == 0 {
		return nil, errs.ErrNotFound
	}
	best := rs[len(rs)-1]
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i].Status.Standing() {
			best = rs[i]
			break
		}
	}
	return &best, nil
}

func (s *Store) ExpiryCandidates(_ context.Context, now, weakCutoff time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, r := range s.res {
		if !r.Status.Standing() {
			continue
		}
		e, ok := s.egis[r.EGIID]
		if !ok || e.MintLocked {
			continue
		}
		weakDue := r.AuthStrength == model.AuthWeak && !r.CreatedAt.After(weakCutoff)
		if weakDue || e.WindowClosed(now) {
			seen[r.EGIID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetEGI(_ context.Context, id string) (*model.EGI, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.egis[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &e, nil
}

func (s *Store) IsLocked(ctx context.Context, id string) (bool, error) {
	e, err := s.GetEGI(ctx, id)
	if err != nil {
		return false, err
	}
	return e.MintLocked, nil
}

func (s *Store) GetCertificate(_ context.Context, uuid string) (*model.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.certs[uuid]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c.Snapshot = slices.Clone(c.Snapshot)
	return &c, nil
}

func (s *Store) GetCertificateByReservation(ctx context.Context, reservationID int64) (*model.Certificate, error) {
	s.mu.RLock()
	id, ok := s.byRes[reservationID]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.ErrNotFound
	}
	return s.GetCertificate(ctx, id)
}

// filter returns matching reservations ordered by id. Caller holds mu.
func (s *Store) filter(keep func(model.Reservation) bool) []model.Reservation {
	var out []model.Reservation
	for _, r := range s.res {
		if keep(r) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b model.Reservation) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// memTx reads through its staged writes to the committed maps. Each read
// takes the store's read lock on its own; the EGI section held by WithinEGI
// keeps the EGI's rows stable between reads.
type memTx struct {
	s      *Store
	staged map[int64]model.Reservation
	certs  []model.Certificate
}

func (t *memTx) view(id int64) (model.Reservation, bool) {
	if r, ok := t.staged[id]; ok {
		return r, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	r, ok := t.s.res[id]
	return r, ok
}

func (t *memTx) all(keep func(model.Reservation) bool) []model.Reservation {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []model.Reservation
	for id := range t.s.res {
		if _, ok := t.staged[id]; ok {
			continue
		}
		if r := t.s.res[id]; keep(r) {
			out = append(out, r)
		}
	}
	for _, r := range t.staged {
		if keep(r) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b model.Reservation) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (t *memTx) LockEGI(ctx context.Context, egiID string) (*model.EGI, error) {
	return t.s.GetEGI(ctx, egiID)
}

func (t *memTx) ListStanding(_ context.Context, egiID string) ([]model.Reservation, error) {
	return t.all(func(r model.Reservation) bool { return r.EGIID == egiID && r.Status.Standing() }), nil
}

func (t *memTx) HasActive(_ context.Context, egiID, bidderID string) (bool, error) {
	rs := t.all(func(r model.Reservation) bool {
		return r.EGIID == egiID && r.BidderID == bidderID && r.Status == model.StatusActive
	})
	return len(rs) > 0, nil
}

func (t *memTx) Allocate(context.Context) (int64, int64, error) {
	return t.s.nextID.Add(1), t.s.nextSeq.Add(1), nil
}

func (t *memTx) Insert(ctx context.Context, r model.Reservation) error {
	if _, ok := t.view(r.ID); ok {
		return errs.ErrDuplicateReservation
	}
	if r.Status == model.StatusActive {
		dup, _ := t.HasActive(ctx, r.EGIID, r.BidderID)
		if dup {
			return errs.ErrDuplicateReservation
		}
	}
	if r.IsCurrent && len(t.all(func(o model.Reservation) bool { return o.EGIID == r.EGIID && o.IsCurrent })) > 0 {
		return errs.ErrIntegrity
	}
	t.staged[r.ID] = r
	return nil
}

func (t *memTx) Update(_ context.Context, r model.Reservation) error {
	cur, ok := t.view(r.ID)
	if !ok {
		return errs.ErrNotFound
	}
	cur.Status = r.Status
	cur.IsCurrent = r.IsCurrent
	cur.SupersededByID = r.SupersededByID
	cur.UpdatedAt = r.UpdatedAt
	t.staged[r.ID] = cur
	return nil
}

func (t *memTx) InsertCertificate(_ context.Context, c model.Certificate) error {
	t.s.mu.RLock()
	_, taken := t.s.byRes[c.ReservationID]
	t.s.mu.RUnlock()
	if taken {
		return errs.ErrIntegrity
	}
	c.Snapshot = slices.Clone(c.Snapshot)
	t.certs = append(t.certs, c)
	return nil
}

package postgres

import "time"

// Store bundles the reservation, EGI and certificate repositories over one pool.
type Store struct {
	*ReservationRepo
	*EGIRepo
}

// NewStore wires all repositories to db.
func NewStore(db *DB, lockTimeout time.Duration) *Store {
	return &Store{ReservationRepo: NewReservationRepo(db, lockTimeout), EGIRepo: NewEGIRepo(db)}
}

// Package priority holds the ranking rules for reservations competing for one EGI.
// Everything here is pure: callers load state, ask for a plan, and persist it.
package priority

import (
	"slices"

	"github.com/autobooknft/egi-reservations/internal/model"
)

// Outranks reports whether a takes priority over b. The order is total:
// strong beats weak regardless of amount, then the higher fiat offer wins,
// then the earlier sequence number, and finally the lower id.
func Outranks(a, b model.Reservation) bool {
	if a.AuthStrength != b.AuthStrength {
		return a.AuthStrength == model.AuthStrong
	}
	if c := a.OfferFiat.Cmp(b.OfferFiat); c != 0 {
		return c > 0
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.ID < b.ID
}

// Sort orders rs best first, in place.
func Sort(rs []model.Reservation) {
	slices.SortFunc(rs, func(a, b model.Reservation) int {
		switch {
		case Outranks(a, b):
			return -1
		case Outranks(b, a):
			return 1
		default:
			return 0
		}
	})
}

// Ranked returns a sorted copy of rs.
func Ranked(rs []model.Reservation) []model.Reservation {
	out := slices.Clone(rs)
	Sort(out)
	return out
}

// Ranks maps reservation id to its 1-based position in a sorted slice.
func Ranks(sorted []model.Reservation) map[int64]int {
	out := make(map[int64]int, len(sorted))
	for i, r := range sorted {
		out[r.ID] = i + 1
	}
	return out
}

// Best returns the top reservation of rs, or nil when rs is empty.
func Best(rs []model.Reservation) *model.Reservation {
	if len(rs) == 0 {
		return nil
	}
	best := rs[0]
	for _, r := range rs[1:] {
		if Outranks(r, best) {
			best = r
		}
	}
	return &best
}

// Current returns the reservation flagged as current, or nil.
func Current(rs []model.Reservation) *model.Reservation {
	for i := range rs {
		if rs[i].IsCurrent {
			c := rs[i]
			return &c
		}
	}
	return nil
}

package priority

import (
	"github.com/autobooknft/egi-reservations/internal/model"
)

// Decision is the outcome of comparing a candidate with the current reservation.
type Decision int

const (
	// AcceptAsHighest makes the candidate current, superseding the previous one if any.
	AcceptAsHighest Decision = iota + 1
	// AcceptAsQueued stores the candidate as a standing backup bid.
	AcceptAsQueued
)

func (d Decision) String() string {
	switch d {
	case AcceptAsHighest:
		return "highest"
	case AcceptAsQueued:
		return "queued"
	default:
		return "none"
	}
}

// Decide compares a candidate against the live current reservation.
func Decide(candidate model.Reservation, current *model.Reservation) Decision {
	if current == nil || Outranks(candidate, *current) {
		return AcceptAsHighest
	}
	return AcceptAsQueued
}

// Plan is the full set of writes for one serialized transition on an EGI,
// plus the standing sets before and after it, both ranked best first.
type Plan struct {
	Decision  Decision
	Candidate *model.Reservation // set for creations only
	// Writes are final states of pre-existing reservations, in the order they
	// must be persisted: rows losing is_current come before the row gaining it.
	Writes []model.Reservation
	Before []model.Reservation
	After  []model.Reservation
}

// PlanCreate places candidate (already carrying its allocated ID and Seq)
// among the standing reservations of its EGI. A superseded reservation held
// by the same bidder is retired, since the new bid replaces it.
func PlanCreate(candidate model.Reservation, standing []model.Reservation) Plan {
	p := Plan{Before: Ranked(standing)}

	pool := make([]model.Reservation, 0, len(standing)+1)
	for _, r := range standing {
		if r.BidderID == candidate.BidderID && r.Status == model.StatusSuperseded {
			r.Status = model.StatusCancelled
			r.IsCurrent = false
			p.Writes = append(p.Writes, r)
			continue
		}
		pool = append(pool, r)
	}

	candidate.Status = model.StatusActive
	candidate.IsCurrent = false
	candidate.SupersededByID = nil

	current := Current(pool)
	p.Decision = Decide(candidate, current)
	if p.Decision == AcceptAsHighest {
		if current != nil {
			for i := range pool {
				if pool[i].ID != current.ID {
					continue
				}
				id := candidate.ID
				pool[i].Status = model.StatusSuperseded
				pool[i].IsCurrent = false
				pool[i].SupersededByID = &id
				p.Writes = append(p.Writes, pool[i])
			}
		}
		candidate.IsCurrent = true
	}

	pool = append(pool, candidate)
	Sort(pool)
	p.Candidate = &candidate
	p.After = pool
	return p
}

// PlanRemoval moves the reservations in ids to the terminal status and, if the
// current reservation was among them, promotes the best remaining one.
// Ids not present in standing are ignored.
func PlanRemoval(ids []int64, terminal model.Status, standing []model.Reservation) Plan {
	p := Plan{Before: Ranked(standing)}

	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	lostCurrent := false
	pool := make([]model.Reservation, 0, len(standing))
	for _, r := range standing {
		if _, ok := drop[r.ID]; !ok {
			pool = append(pool, r)
			continue
		}
		if r.IsCurrent {
			lostCurrent = true
		}
		r.Status = terminal
		r.IsCurrent = false
		p.Writes = append(p.Writes, r)
	}

	if lostCurrent {
		if next := Promote(pool); next != nil {
			for i := range pool {
				if pool[i].ID == next.ID {
					pool[i] = *next
				}
			}
			p.Writes = append(p.Writes, *next)
		}
	}

	Sort(pool)
	p.After = pool
	return p
}

// Promote returns the best standing reservation transitioned to current, or nil
// when nothing remains. A superseded reservation keeps its superseded_by
// history when it is promoted back.
func Promote(standing []model.Reservation) *model.Reservation {
	best := Best(standing)
	if best == nil {
		return nil
	}
	best.Status = model.StatusActive
	best.IsCurrent = true
	return best
}

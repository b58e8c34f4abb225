// Package notify turns committed ranking transitions into per-bidder events
// and delivers them after the transaction, out of band.
package notify

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/autobooknft/egi-reservations/internal/model"
	"github.com/autobooknft/egi-reservations/internal/priority"
)

// Events lists the notifications implied by a committed plan, in the order
// of the ranking after it. The reservation that triggered a creation is not
// notified about itself, and neither is a bidder whose reservation was
// cancelled.
func Events(p priority.Plan, egiID, currency string, at time.Time) []model.RankChangeEvent {
	highest := decimal.Zero
	if len(p.After) > 0 {
		highest = p.After[0].OfferFiat
	}
	mk := func(r model.Reservation, kind model.EventKind, rank int) model.RankChangeEvent {
		return model.RankChangeEvent{
			ReservationID: r.ID,
			EGIID:         egiID,
			BidderID:      r.BidderID,
			Kind:          kind,
			NewRank:       rank,
			HighestAmount: highest,
			Currency:      currency,
			OccurredAt:    at,
		}
	}

	before := priority.Ranks(p.Before)
	wasCurrent := make(map[int64]bool, len(p.Before))
	for _, r := range p.Before {
		wasCurrent[r.ID] = r.IsCurrent
	}

	var out []model.RankChangeEvent
	for _, w := range p.Writes {
		if w.Status == model.StatusExpired {
			out = append(out, mk(w, model.EventExpired, 0))
		}
	}

	for i, r := range p.After {
		rank := i + 1
		if p.Candidate != nil && r.ID == p.Candidate.ID {
			continue
		}
		switch {
		case r.IsCurrent && !wasCurrent[r.ID]:
			out = append(out, mk(r, model.EventPromoted, rank))
		case !r.IsCurrent && wasCurrent[r.ID]:
			out = append(out, mk(r, model.EventSuperseded, rank))
		case before[r.ID] != rank:
			out = append(out, mk(r, model.EventRankChanged, rank))
		}
	}
	return out
}

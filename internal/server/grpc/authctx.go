package grpcserver

import (
	"context"

	"github.com/autobooknft/egi-reservations/internal/model"
)

type ctxKey string

const bidderKey ctxKey = "egi.bidder"

// WithBidder stores the resolved bidder in context.
func WithBidder(ctx context.Context, b model.Bidder) context.Context {
	return context.WithValue(ctx, bidderKey, b)
}

// BidderFromCtx fetches the bidder from context.
func BidderFromCtx(ctx context.Context) (model.Bidder, bool) {
	v := ctx.Value(bidderKey)
	if v == nil {
		return model.Bidder{}, false
	}
	b, ok := v.(model.Bidder)
	return b, ok && b.ID != ""
}

package priority

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/autobooknft/egi-reservations/internal/model"
)

func res(id int64, bidder string, st model.AuthStrength, amount string) model.Reservation {
	return model.Reservation{
		ID:           id,
		Seq:          id,
		EGIID:        "e1",
		BidderID:     bidder,
		AuthStrength: st,
		OfferFiat:    decimal.RequireFromString(amount),
		Currency:     "EUR",
		Status:       model.StatusActive,
	}
}

func TestOutranks_Rules(t *testing.T) {
	t.Parallel()

	weakRich := res(1, "a", model.AuthWeak, "1000")
	strongPoor := res(2, "b", model.AuthStrong, "1")
	require.True(t, Outranks(strongPoor, weakRich), "strong beats weak regardless of amount")
	require.False(t, Outranks(weakRich, strongPoor))

	hi := res(3, "c", model.AuthWeak, "20")
	lo := res(4, "d", model.AuthWeak, "10")
	require.True(t, Outranks(hi, lo))

	early := res(5, "e", model.AuthWeak, "10")
	late := res(6, "f", model.AuthWeak, "10.00")
	require.True(t, Outranks(early, late), "earlier seq wins ties")
	require.False(t, Outranks(late, early))

	sameSeqA := res(7, "g", model.AuthWeak, "10")
	sameSeqB := res(8, "h", model.AuthWeak, "10")
	sameSeqB.Seq = sameSeqA.Seq
	require.True(t, Outranks(sameSeqA, sameSeqB), "id is the final tie-break")
	require.False(t, Outranks(sameSeqA, sameSeqA), "irreflexive")
}

func TestSort_DeterministicRegardlessOfInputOrder(t *testing.T) {
	t.Parallel()

	base := []model.Reservation{
		res(1, "a", model.AuthWeak, "100"),
		res(2, "b", model.AuthStrong, "50"),
		res(3, "c", model.AuthWeak, "100"),
		res(4, "d", model.AuthStrong, "75"),
		res(5, "e", model.AuthWeak, "250"),
		res(6, "f", model.AuthStrong, "50"),
	}
	want := []int64{4, 2, 6, 5, 1, 3}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		in := append([]model.Reservation(nil), base...)
		rng.Shuffle(len(in), func(i, j int) { in[i], in[j] = in[j], in[i] })
		Sort(in)
		got := make([]int64, len(in))
		for k, r := range in {
			got[k] = r.ID
		}
		require.Equal(t, want, got)
	}
}

func TestDecide(t *testing.T) {
	t.Parallel()

	cand := res(2, "b", model.AuthWeak, "10")
	require.Equal(t, AcceptAsHighest, Decide(cand, nil))

	cur := res(1, "a", model.AuthWeak, "10")
	require.Equal(t, AcceptAsQueued, Decide(cand, &cur), "equal amount loses to earlier bid")

	cur = res(1, "a", model.AuthWeak, "5")
	require.Equal(t, AcceptAsHighest, Decide(cand, &cur))
}

func TestPlanCreate_Supersedes(t *testing.T) {
	t.Parallel()

	cur := res(1, "a", model.AuthWeak, "100")
	cur.IsCurrent = true

	p := PlanCreate(res(2, "b", model.AuthStrong, "50"), []model.Reservation{cur})
	require.Equal(t, AcceptAsHighest, p.Decision)
	require.True(t, p.Candidate.IsCurrent)
	require.Len(t, p.Writes, 1)
	require.Equal(t, int64(1), p.Writes[0].ID)
	require.Equal(t, model.StatusSuperseded, p.Writes[0].Status)
	require.False(t, p.Writes[0].IsCurrent)
	require.NotNil(t, p.Writes[0].SupersededByID)
	require.Equal(t, int64(2), *p.Writes[0].SupersededByID)

	require.Len(t, p.After, 2)
	require.Equal(t, int64(2), p.After[0].ID)
	require.Equal(t, int64(1), p.Before[0].ID)
}

func TestPlanCreate_Queued(t *testing.T) {
	t.Parallel()

	cur := res(1, "a", model.AuthStrong, "100")
	cur.IsCurrent = true

	p := PlanCreate(res(2, "b", model.AuthWeak, "500"), []model.Reservation{cur})
	require.Equal(t, AcceptAsQueued, p.Decision)
	require.False(t, p.Candidate.IsCurrent)
	require.Equal(t, model.StatusActive, p.Candidate.Status)
	require.Empty(t, p.Writes)
	require.Equal(t, []int64{1, 2}, ids(p.After))
}

func TestPlanCreate_RebidRetiresOwnSupersededBid(t *testing.T) {
	t.Parallel()

	old := res(1, "a", model.AuthWeak, "100")
	old.Status = model.StatusSuperseded
	sup := int64(2)
	old.SupersededByID = &sup
	cur := res(2, "b", model.AuthWeak, "150")
	cur.IsCurrent = true

	p := PlanCreate(res(3, "a", model.AuthWeak, "200"), []model.Reservation{old, cur})
	require.Equal(t, AcceptAsHighest, p.Decision)
	require.Len(t, p.Writes, 2)
	require.Equal(t, int64(1), p.Writes[0].ID)
	require.Equal(t, model.StatusCancelled, p.Writes[0].Status)
	require.Equal(t, int64(2), p.Writes[1].ID)
	require.Equal(t, model.StatusSuperseded, p.Writes[1].Status)
	require.Equal(t, []int64{3, 2}, ids(p.After))
}

func TestPlanRemoval_PromotesBestRemaining(t *testing.T) {
	t.Parallel()

	cur := res(1, "a", model.AuthStrong, "10")
	cur.IsCurrent = true
	q1 := res(2, "b", model.AuthWeak, "300")
	q2 := res(3, "c", model.AuthWeak, "400")
	sup := res(4, "d", model.AuthWeak, "350")
	sup.Status = model.StatusSuperseded

	p := PlanRemoval([]int64{1}, model.StatusCancelled, []model.Reservation{cur, q1, q2, sup})
	require.Len(t, p.Writes, 2)
	require.Equal(t, model.StatusCancelled, p.Writes[0].Status)
	require.False(t, p.Writes[0].IsCurrent)
	require.Equal(t, int64(3), p.Writes[1].ID)
	require.True(t, p.Writes[1].IsCurrent)
	require.Equal(t, []int64{3, 4, 2}, ids(p.After))
	require.Equal(t, 1, countCurrent(p.After))
}

func TestPlanRemoval_PromotesSupersededBackToActive(t *testing.T) {
	t.Parallel()

	weak := res(1, "a", model.AuthWeak, "100")
	weak.Status = model.StatusSuperseded
	by := int64(2)
	weak.SupersededByID = &by
	strong := res(2, "b", model.AuthStrong, "50")
	strong.IsCurrent = true

	p := PlanRemoval([]int64{2}, model.StatusCancelled, []model.Reservation{weak, strong})
	require.Len(t, p.Writes, 2)
	promoted := p.Writes[1]
	require.Equal(t, int64(1), promoted.ID)
	require.Equal(t, model.StatusActive, promoted.Status)
	require.True(t, promoted.IsCurrent)
	require.NotNil(t, promoted.SupersededByID, "history is kept")
}

func TestPlanRemoval_NonCurrentAndEmpty(t *testing.T) {
	t.Parallel()

	cur := res(1, "a", model.AuthWeak, "100")
	cur.IsCurrent = true
	q := res(2, "b", model.AuthWeak, "50")

	p := PlanRemoval([]int64{2}, model.StatusExpired, []model.Reservation{cur, q})
	require.Len(t, p.Writes, 1)
	require.Equal(t, model.StatusExpired, p.Writes[0].Status)
	require.Equal(t, []int64{1}, ids(p.After))

	p = PlanRemoval([]int64{1}, model.StatusCancelled, []model.Reservation{cur})
	require.Len(t, p.Writes, 1)
	require.Empty(t, p.After)
	require.Nil(t, Promote(nil))
}

func TestSingleCurrent_RandomSequences(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	var standing []model.Reservation
	var nextID int64

	for step := 0; step < 500; step++ {
		if len(standing) == 0 || rng.Intn(3) > 0 {
			nextID++
			st := model.AuthWeak
			if rng.Intn(4) == 0 {
				st = model.AuthStrong
			}
			cand := res(nextID, string(rune('a'+rng.Intn(26)))+"x", st, decimal.NewFromInt(int64(1+rng.Intn(50))).String())
			p := PlanCreate(cand, standing)
			standing = p.After
		} else {
			victim := standing[rng.Intn(len(standing))]
			p := PlanRemoval([]int64{victim.ID}, model.StatusCancelled, standing)
			standing = p.After
		}
		if len(standing) > 0 {
			require.Equal(t, 1, countCurrent(standing), "step %d", step)
			require.True(t, standing[0].IsCurrent, "current is always the best standing bid")
		}
		for _, r := range standing {
			if r.IsCurrent {
				require.Equal(t, model.StatusActive, r.Status)
			}
		}
	}
}

func ids(rs []model.Reservation) []int64 {
	out := make([]int64, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func countCurrent(rs []model.Reservation) int {
	n := 0
	for _, r := range rs {
		if r.IsCurrent {
			n++
		}
	}
	return n
}

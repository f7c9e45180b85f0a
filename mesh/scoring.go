package mesh

import (
	"sort"

	"icn-mesh/internal/reputation"
	"icn-mesh/internal/types"
)

// ScoreWeights are the composite bid-score coefficients.
type ScoreWeights struct {
	Price      float64
	Reputation float64
	Resources  float64
}

// DefaultScoreWeights returns the standard bid-scoring coefficients.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{Price: 0.5, Reputation: 0.35, Resources: 0.15}
}

// resourceHeadroom scores how far a bid's offered resources exceed the
// required profile, normalized to [0,1] per dimension and averaged. A
// dimension with a zero requirement scores 1; otherwise a bid meeting the
// requirement exactly scores 0 there, and headroom saturates at 1 once
// offered resources reach double the requirement. The exact headroom curve
// is otherwise unconstrained; this mirrors the [0,1]-normalized shape used
// for the other two score terms.
func resourceHeadroom(offered, required types.ResourceProfile) float64 {
	ratio := func(have, need uint64) float64 {
		if need == 0 {
			return 1
		}
		if have <= need {
			return 0
		}
		h := float64(have-need) / float64(need)
		if h > 1 {
			h = 1
		}
		return h
	}
	cpu := ratio(uint64(offered.CPU), uint64(required.CPU))
	mem := ratio(offered.Mem, required.Mem)
	storage := ratio(offered.Storage, required.Storage)
	return (cpu + mem + storage) / 3
}

type scoredBid struct {
	bid        types.Bid
	score      float64
	reputation uint64
}

// selectExecutor ranks admissible bids by the composite score and returns
// the winning bid (false when bids is empty), with deterministic
// tie-break: higher reputation, then lower price, then lexicographically
// smallest executor DID.
func selectExecutor(bids []types.Bid, required types.ResourceProfile, rep reputation.Store, weights ScoreWeights) (types.Bid, bool) {
	if len(bids) == 0 {
		return types.Bid{}, false
	}

	var maxPrice uint64
	for _, b := range bids {
		if b.PriceMana > maxPrice {
			maxPrice = b.PriceMana
		}
	}
	var maxRep uint64
	for _, sd := range rep.TopN(-1) {
		if sd.Score > maxRep {
			maxRep = sd.Score
		}
	}

	priceScore := func(price uint64) float64 {
		if maxPrice == 0 {
			return 1
		}
		return 1 - float64(price)/float64(maxPrice)
	}
	normalizeRep := func(score uint64) float64 {
		if maxRep == 0 {
			return 0
		}
		return float64(score) / float64(maxRep)
	}

	candidates := make([]scoredBid, 0, len(bids))
	for _, b := range bids {
		r := rep.GetReputation(b.Executor)
		s := weights.Price*priceScore(b.PriceMana) +
			weights.Reputation*normalizeRep(r) +
			weights.Resources*resourceHeadroom(b.Resources, required)
		candidates = append(candidates, scoredBid{bid: b, score: s, reputation: r})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.reputation != b.reputation {
			return a.reputation > b.reputation
		}
		if a.bid.PriceMana != b.bid.PriceMana {
			return a.bid.PriceMana < b.bid.PriceMana
		}
		return a.bid.Executor < b.bid.Executor
	})

	return candidates[0].bid, true
}

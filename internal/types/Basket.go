/*

This is a custom type for the basket configuration which contains the target
allocation state the engine rebalances toward.

*/

package types

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// AllocationScale is the denominator for target allocations. A token with
	// TargetAllocation == AllocationScale would hold the entire portfolio.
	AllocationScale = 1_000_000

	// MinBasketSize and MaxBasketSize bound the number of tokens a basket may hold.
	MinBasketSize = 1
	MaxBasketSize = 6
)

// TokenEntry is one whitelisted token in the basket with its price feed and
// target share of total portfolio USD value.
type TokenEntry struct {
	Token            common.Address `json:"token"`             // ERC-20 contract address
	PriceFeed        common.Address `json:"price_feed"`        // aggregator contract reporting the token's USD price
	TargetAllocation int64          `json:"target_allocation"` // parts-per-million of AllocationScale
}

// Basket is the ordered, bounded set of whitelisted tokens for one vault instance.
type Basket []TokenEntry

// IndexOf returns the position of token in the basket, or -1 if absent.
func (b Basket) IndexOf(token common.Address) int {
	for i := range b {
		if b[i].Token == token {
			return i
		}
	}
	return -1
}

// Contains reports whether token is whitelisted by this basket.
func (b Basket) Contains(token common.Address) bool {
	return b.IndexOf(token) >= 0
}

// AllocationSum returns the sum of all target allocations.
func (b Basket) AllocationSum() int64 {
	var sum int64
	for i := range b {
		sum += b[i].TargetAllocation
	}
	return sum
}

// PairKey identifies an unordered token pair. The two addresses are stored in
// canonical byte order so (a,b) and (b,a) produce the same key.
type PairKey struct {
	A common.Address `json:"a"`
	B common.Address `json:"b"`
}

// NewPairKey builds the canonical key for a token pair.
func NewPairKey(a, b common.Address) PairKey {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		a, b = b, a
	}
	return PairKey{A: a, B: b}
}

// RouteCache maps unordered token pairs to the liquidity pool that trades
// them. It is populated once at basket-configuration time and is not
// re-validated at swap time.
type RouteCache map[PairKey]common.Address

// Lookup returns the cached pool for the pair, if any.
func (r RouteCache) Lookup(a, b common.Address) (common.Address, bool) {
	pool, ok := r[NewPairKey(a, b)]
	return pool, ok
}

package enums

// MatchStrategy records which attribution rule produced a match.
type MatchStrategy string

const (
	MatchStrategyProduct MatchStrategy = "product"
	MatchStrategyUTM     MatchStrategy = "utm"
	// MatchStrategyRecency is last-click-wins across the user's active links.
	// It trades precision for coverage when storefront checkouts strip campaign params.
	MatchStrategyRecency MatchStrategy = "recency"
)

// MatchStrategyOrder is the strict priority in which strategies are evaluated.
var MatchStrategyOrder = []MatchStrategy{
	MatchStrategyProduct,
	MatchStrategyUTM,
	MatchStrategyRecency,
}

func (s MatchStrategy) String() string {
	return string(s)
}

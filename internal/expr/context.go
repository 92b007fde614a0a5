package expr

// Context is the read-only snapshot one evaluation cycle sees: current and
// previous indicator values, instance variables, open-trade fields, the risk
// profile, and the current mid price. The engine builds a fresh Context per
// cycle; evaluation never mutates it, so a Context value is safe to share
// across goroutines.
type Context struct {
	// Indicators holds current values keyed by indicator id, then field.
	Indicators map[string]map[string]float64
	// Prev holds the previous cycle's indicator values.
	Prev map[string]map[string]float64
	// Vars holds the instance's variable values.
	Vars map[string]float64
	// Trade holds open-position fields (open_price, lot, sl, tp, direction).
	// Empty or nil while the instance is flat, which makes every trade.*
	// reference unresolved and the owning rule false.
	Trade map[string]float64
	// Risk holds the playbook's risk profile fields.
	Risk map[string]float64
	// Price is the current mid price, referenced as the bare _price
	// identifier. HasPrice guards contexts built without one.
	Price    float64
	HasPrice bool
}

// Trade field names exposed under the trade.* reference root.
const (
	TradeFieldOpenPrice = "open_price"
	TradeFieldLot       = "lot"
	TradeFieldSL        = "sl"
	TradeFieldTP        = "tp"
	TradeFieldDirection = "direction"
)

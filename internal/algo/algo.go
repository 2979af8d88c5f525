package algo

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"autotrader/internal/models"
)

// Signals emitted by every algorithm.
const (
	SignalBuy  = "buy"
	SignalSell = "sell"
	SignalHold = "hold"
)

// Decision is the outcome of one evaluation. AutoQuantity is set only
// when the algorithm can derive an order size from the target band.
type Decision struct {
	Signal       string
	Strength     float64
	Reason       string
	AutoQuantity *decimal.Decimal
}

// PortfolioState carries the strategy's holdings snapshot and target
// band into the algorithms. Quantity of -1 means unknown.
type PortfolioState struct {
	Quantity  decimal.Decimal
	TargetMin decimal.Decimal
	TargetMax decimal.Decimal
}

func (p PortfolioState) Unknown() bool {
	return p.Quantity.IsNegative()
}

// Params is the decoded strategy parameter map. All values are numeric.
type Params map[string]float64

func (p Params) Get(key string, fallback float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return fallback
}

// DecodeParams parses the stored JSON parameter blob, ignoring
// non-numeric entries.
func DecodeParams(raw []byte) (Params, error) {
	if len(raw) == 0 {
		return Params{}, nil
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	out := Params{}
	for key, value := range generic {
		if num, ok := value.(float64); ok {
			out[key] = num
		}
	}
	return out, nil
}

// Calculator is one registered algorithm.
type Calculator func(candles []models.Candle, params Params, portfolio PortfolioState) Decision

var registry = map[string]Calculator{
	models.AlgoThreshold:   Threshold,
	models.AlgoMACrossover: MACrossover,
	models.AlgoRSI:         RSI,
	models.AlgoBollinger:   Bollinger,
	models.AlgoMACD:        MACD,
	models.AlgoGrid:        Grid,
}

// Get returns the calculator for a kind, or nil when unknown.
func Get(kind string) Calculator {
	return registry[kind]
}

// Kinds lists the registered algorithm kinds in stable order.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for kind := range registry {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

// Evaluate dispatches to the registered calculator. Unknown kinds and
// empty histories degrade to hold with the cause in the reason text.
func Evaluate(kind string, candles []models.Candle, params Params, portfolio PortfolioState) Decision {
	calc := Get(kind)
	if calc == nil {
		return hold(0, "unknown algorithm: "+kind)
	}
	if len(candles) == 0 {
		return hold(0, "no price history")
	}
	return calc(candles, params, portfolio)
}

// ShouldExecuteOrder gates order routing by execution mode: simulate
// never places orders, paper and live always may.
func ShouldExecuteOrder(mode string) bool {
	switch mode {
	case models.ModePaper, models.ModeLive:
		return true
	default:
		return false
	}
}

// DefaultParams returns the documented defaults for a kind. Parameters
// without a sensible default (price thresholds, grid bounds) are absent
// and must be supplied by the caller.
func DefaultParams(kind string) Params {
	base := Params{"order_size": 1.0, "stop_loss": 0.05}
	switch kind {
	case models.AlgoThreshold:
	case models.AlgoMACrossover:
		base["ma1_period"] = 20
		base["ma2_period"] = 50
	case models.AlgoRSI:
		base["rsi_period"] = 14
		base["rsi_low"] = 30
		base["rsi_high"] = 70
	case models.AlgoBollinger:
		base["bb_period"] = 20
		base["bb_std"] = 2.0
	case models.AlgoMACD:
		base["macd_fast"] = 12
		base["macd_slow"] = 26
		base["macd_signal"] = 9
	case models.AlgoGrid:
		base["grid_levels"] = 10
	default:
		return nil
	}
	return base
}

// ValidateParams rejects malformed parameter maps at write time.
func ValidateParams(kind string, params Params) error {
	if Get(kind) == nil {
		return fmt.Errorf("unknown algorithm kind %q", kind)
	}
	checkPositive := func(keys ...string) error {
		for _, key := range keys {
			if v, ok := params[key]; ok && v <= 0 {
				return fmt.Errorf("parameter %q must be positive, got %v", key, v)
			}
		}
		return nil
	}
	switch kind {
	case models.AlgoThreshold:
		low, hasLow := params["threshold_low"]
		high, hasHigh := params["threshold_high"]
		if !hasLow || !hasHigh {
			return fmt.Errorf("threshold requires threshold_low and threshold_high")
		}
		if low <= 0 || high <= 0 {
			return fmt.Errorf("thresholds must be positive")
		}
		if low >= high {
			return fmt.Errorf("threshold_low must be below threshold_high")
		}
	case models.AlgoMACrossover:
		if err := checkPositive("ma1_period", "ma2_period"); err != nil {
			return err
		}
	case models.AlgoRSI:
		if err := checkPositive("rsi_period"); err != nil {
			return err
		}
		low := params["rsi_low"]
		high := params["rsi_high"]
		if low != 0 && high != 0 && low >= high {
			return fmt.Errorf("rsi_low must be below rsi_high")
		}
	case models.AlgoBollinger:
		if err := checkPositive("bb_period", "bb_std"); err != nil {
			return err
		}
	case models.AlgoMACD:
		if err := checkPositive("macd_fast", "macd_slow", "macd_signal"); err != nil {
			return err
		}
		fast := params["macd_fast"]
		slow := params["macd_slow"]
		if fast != 0 && slow != 0 && fast >= slow {
			return fmt.Errorf("macd_fast must be below macd_slow")
		}
	case models.AlgoGrid:
		min, hasMin := params["grid_min"]
		max, hasMax := params["grid_max"]
		if !hasMin || !hasMax {
			return fmt.Errorf("grid requires grid_min and grid_max")
		}
		if max <= min {
			return fmt.Errorf("grid_max must be above grid_min")
		}
		if err := checkPositive("grid_levels"); err != nil {
			return err
		}
	}
	return checkPositive("order_size")
}

func hold(strength float64, reason string) Decision {
	return Decision{Signal: SignalHold, Strength: clamp01(strength), Reason: reason}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

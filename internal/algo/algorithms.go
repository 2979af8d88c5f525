package algo

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"autotrader/internal/models"
)

func closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func sma(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := sma(values)
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

// ema produces the exponential moving average series; the first value is
// the SMA seed over the period.
func ema(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	seed := sma(values[:period])
	out = append(out, seed)
	k := 2.0 / (float64(period) + 1.0)
	prev := seed
	for _, v := range values[period:] {
		prev = prev + k*(v-prev)
		out = append(out, prev)
	}
	return out
}

// Threshold buys below the low threshold while under target-max and
// sells above the high threshold while over target-min. The auto
// quantity is the distance to the target clamped by order_size.
func Threshold(candles []models.Candle, params Params, portfolio PortfolioState) Decision {
	price := candles[len(candles)-1].Close
	low := params.Get("threshold_low", 0)
	high := params.Get("threshold_high", 0)
	orderSize := decimal.NewFromFloat(params.Get("order_size", 1.0))

	if portfolio.Unknown() {
		return hold(0, "portfolio quantity unknown")
	}
	priceDec := decimal.NewFromFloat(price)

	if low > 0 && price <= low && portfolio.Quantity.LessThan(portfolio.TargetMax) {
		qty := decimal.Min(portfolio.TargetMax.Sub(portfolio.Quantity), orderSize)
		if qty.IsNegative() {
			qty = decimal.Zero
		}
		strength := clamp01((low - price) / low * 2)
		return Decision{
			Signal:       SignalBuy,
			Strength:     strength,
			Reason:       fmt.Sprintf("price %s at or below buy threshold %.4f", priceDec, low),
			AutoQuantity: &qty,
		}
	}
	if high > 0 && price >= high && portfolio.Quantity.GreaterThan(portfolio.TargetMin) {
		qty := decimal.Min(portfolio.Quantity.Sub(portfolio.TargetMin), orderSize)
		if qty.IsNegative() {
			qty = decimal.Zero
		}
		strength := clamp01((price - high) / high * 2)
		return Decision{
			Signal:       SignalSell,
			Strength:     strength,
			Reason:       fmt.Sprintf("price %s at or above sell threshold %.4f", priceDec, high),
			AutoQuantity: &qty,
		}
	}
	return hold(0, fmt.Sprintf("price %s inside threshold band", priceDec))
}

// MACrossover signals on the crossing of two simple moving averages
// between the previous and the latest sample.
func MACrossover(candles []models.Candle, params Params, portfolio PortfolioState) Decision {
	series := closes(candles)
	if len(series) < 50 {
		return hold(0, fmt.Sprintf("need at least 50 samples, have %d", len(series)))
	}
	p1 := int(params.Get("ma1_period", 20))
	p2 := int(params.Get("ma2_period", 50))
	if p1 <= 0 || p2 <= 0 || len(series) < p2+1 || len(series) < p1+1 {
		return hold(0, "insufficient history for configured periods")
	}
	fast := sma(series[len(series)-p1:])
	slow := sma(series[len(series)-p2:])
	prevFast := sma(series[len(series)-p1-1 : len(series)-1])
	prevSlow := sma(series[len(series)-p2-1 : len(series)-1])

	strength := 0.0
	if slow != 0 {
		strength = clamp01(math.Abs(fast-slow) / slow * 10)
	}
	switch {
	case prevFast <= prevSlow && fast > slow:
		return Decision{Signal: SignalBuy, Strength: strength,
			Reason: fmt.Sprintf("fast MA %.4f crossed above slow MA %.4f", fast, slow)}
	case prevFast >= prevSlow && fast < slow:
		return Decision{Signal: SignalSell, Strength: strength,
			Reason: fmt.Sprintf("fast MA %.4f crossed below slow MA %.4f", fast, slow)}
	default:
		return hold(strength*0.5, fmt.Sprintf("no crossing, fast MA %.4f vs slow MA %.4f", fast, slow))
	}
}

// RSI is the SMA-based variant: average gains and losses over the last
// period of close-to-close changes.
func RSI(candles []models.Candle, params Params, portfolio PortfolioState) Decision {
	series := closes(candles)
	period := int(params.Get("rsi_period", 14))
	if period <= 0 {
		return hold(0, "rsi_period must be positive")
	}
	if len(series) < 30 || len(series) < period+1 {
		return hold(0, fmt.Sprintf("need at least %d samples, have %d", maxInt(30, period+1), len(series)))
	}
	window := series[len(series)-period-1:]
	gains, losses := 0.0, 0.0
	for i := 1; i < len(window); i++ {
		diff := window[i] - window[i-1]
		if diff > 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	rsi := 100.0
	if avgLoss > 0 {
		rs := avgGain / avgLoss
		rsi = 100.0 - 100.0/(1.0+rs)
	}

	low := params.Get("rsi_low", 30)
	high := params.Get("rsi_high", 70)
	switch {
	case rsi <= low:
		strength := 0.0
		if low > 0 {
			strength = clamp01((low - rsi) / low)
		}
		return Decision{Signal: SignalBuy, Strength: strength,
			Reason: fmt.Sprintf("RSI %.2f at or below oversold level %.2f", rsi, low)}
	case rsi >= high:
		strength := 0.0
		if high < 100 {
			strength = clamp01((rsi - high) / (100 - high))
		}
		return Decision{Signal: SignalSell, Strength: strength,
			Reason: fmt.Sprintf("RSI %.2f at or above overbought level %.2f", rsi, high)}
	default:
		return hold(0, fmt.Sprintf("RSI %.2f in neutral zone", rsi))
	}
}

// Bollinger signals on band touches; proximity to a band without a
// touch yields a weak hold.
func Bollinger(candles []models.Candle, params Params, portfolio PortfolioState) Decision {
	series := closes(candles)
	period := int(params.Get("bb_period", 20))
	k := params.Get("bb_std", 2.0)
	if period <= 0 || k <= 0 {
		return hold(0, "invalid bollinger parameters")
	}
	if len(series) < 20 || len(series) < period {
		return hold(0, fmt.Sprintf("need at least %d samples, have %d", maxInt(20, period), len(series)))
	}
	window := series[len(series)-period:]
	mid := sma(window)
	dev := stddev(window)
	upper := mid + k*dev
	lower := mid - k*dev
	price := series[len(series)-1]
	width := upper - lower
	if width <= 0 {
		return hold(0, "flat band, no signal")
	}
	position := (price - lower) / width

	switch {
	case price <= lower:
		strength := clamp01(0.5 + (lower-price)/width)
		return Decision{Signal: SignalBuy, Strength: strength,
			Reason: fmt.Sprintf("price %.4f at or below lower band %.4f", price, lower)}
	case price >= upper:
		strength := clamp01(0.5 + (price-upper)/width)
		return Decision{Signal: SignalSell, Strength: strength,
			Reason: fmt.Sprintf("price %.4f at or above upper band %.4f", price, upper)}
	case position < 0.2:
		return hold(0.3, fmt.Sprintf("price near lower band, position %.2f", position))
	case position > 0.8:
		return hold(0.3, fmt.Sprintf("price near upper band, position %.2f", position))
	default:
		return hold(0, fmt.Sprintf("price mid-band, position %.2f", position))
	}
}

// MACD signals when the MACD line crosses its signal line.
func MACD(candles []models.Candle, params Params, portfolio PortfolioState) Decision {
	series := closes(candles)
	fast := int(params.Get("macd_fast", 12))
	slow := int(params.Get("macd_slow", 26))
	signalPeriod := int(params.Get("macd_signal", 9))
	if fast <= 0 || slow <= 0 || signalPeriod <= 0 || fast >= slow {
		return hold(0, "invalid macd parameters")
	}
	if len(series) < 50 || len(series) < slow+signalPeriod {
		return hold(0, fmt.Sprintf("need at least %d samples, have %d", maxInt(50, slow+signalPeriod), len(series)))
	}

	macdLine, signalLine, ok := macdAt(series, fast, slow, signalPeriod)
	prevMACD, prevSignal, prevOK := macdAt(series[:len(series)-1], fast, slow, signalPeriod)
	if !ok || !prevOK {
		return hold(0, "insufficient history for macd series")
	}

	strength := 0.0
	if signalLine != 0 {
		strength = clamp01(math.Abs(macdLine-signalLine) / math.Abs(signalLine))
	}
	switch {
	case prevMACD <= prevSignal && macdLine > signalLine:
		return Decision{Signal: SignalBuy, Strength: strength,
			Reason: fmt.Sprintf("MACD %.4f crossed above signal %.4f", macdLine, signalLine)}
	case prevMACD >= prevSignal && macdLine < signalLine:
		return Decision{Signal: SignalSell, Strength: strength,
			Reason: fmt.Sprintf("MACD %.4f crossed below signal %.4f", macdLine, signalLine)}
	default:
		return hold(strength*0.5, fmt.Sprintf("no crossing, MACD %.4f vs signal %.4f", macdLine, signalLine))
	}
}

func macdAt(series []float64, fast, slow, signalPeriod int) (macdLine, signalLine float64, ok bool) {
	fastEMA := ema(series, fast)
	slowEMA := ema(series, slow)
	if len(fastEMA) == 0 || len(slowEMA) == 0 {
		return 0, 0, false
	}
	// Align the tails: both series end at the latest sample.
	n := len(slowEMA)
	macdSeries := make([]float64, n)
	for i := 0; i < n; i++ {
		macdSeries[i] = fastEMA[len(fastEMA)-n+i] - slowEMA[i]
	}
	signalSeries := ema(macdSeries, signalPeriod)
	if len(signalSeries) == 0 {
		return 0, 0, false
	}
	return macdSeries[len(macdSeries)-1], signalSeries[len(signalSeries)-1], true
}

// Grid partitions [grid_min, grid_max] into grid_levels steps and
// signals when the price sits within 10% of a step of a grid line.
func Grid(candles []models.Candle, params Params, portfolio PortfolioState) Decision {
	price := candles[len(candles)-1].Close
	min := params.Get("grid_min", 0)
	max := params.Get("grid_max", 0)
	levels := int(params.Get("grid_levels", 10))
	if max <= min {
		return hold(0, "grid_max must be above grid_min")
	}
	if levels <= 0 {
		return hold(0, "grid_levels must be positive")
	}
	if price < min || price > max {
		return hold(0, fmt.Sprintf("price %.4f outside grid [%.4f, %.4f]", price, min, max))
	}
	step := (max - min) / float64(levels)
	idx := math.Round((price - min) / step)
	line := min + idx*step
	dist := price - line
	tolerance := 0.1 * step
	if math.Abs(dist) > tolerance {
		return hold(0, fmt.Sprintf("price %.4f between grid levels", price))
	}
	strength := clamp01(1 - math.Abs(dist)/tolerance)
	if dist <= 0 {
		return Decision{Signal: SignalBuy, Strength: strength,
			Reason: fmt.Sprintf("price %.4f approaching grid level %.4f from below", price, line)}
	}
	return Decision{Signal: SignalSell, Strength: strength,
		Reason: fmt.Sprintf("price %.4f approaching grid level %.4f from above", price, line)}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

package service

import (
	"strings"

	"autotrader/internal/models"
)

// quoteAssets are the pair suffixes recognized when extending a bare
// base symbol to an exchange pair.
var quoteAssets = []string{"USDT", "USD", "BTC", "ETH", "BNB", "BUSD"}

// NormalizeSymbol strips the instance suffix after '_' and upper-cases.
func NormalizeSymbol(raw string) string {
	symbol := strings.TrimSpace(raw)
	if idx := strings.Index(symbol, "_"); idx >= 0 {
		symbol = symbol[:idx]
	}
	return strings.ToUpper(symbol)
}

// CleanBase additionally strips the venue suffix after ':'. The result
// keys Enriched Assets and portfolio lookups.
func CleanBase(raw string) string {
	symbol := strings.TrimSpace(raw)
	if idx := strings.Index(symbol, ":"); idx >= 0 {
		symbol = symbol[:idx]
	}
	return NormalizeSymbol(symbol)
}

// symbolCandidates lists catalog lookup candidates for a free-form
// symbol. HMAC platforms extend a bare base with known quote assets so
// a balance "BTC" can match the pair "BTCUSDT" or "BTC/USDT".
func symbolCandidates(raw, platform string) []string {
	base := NormalizeSymbol(raw)
	if base == "" {
		return nil
	}
	candidates := []string{base}
	if platform != models.PlatformBinance {
		return candidates
	}
	for _, quote := range quoteAssets {
		if strings.HasSuffix(base, quote) && base != quote {
			// Already a full pair.
			return candidates
		}
	}
	for _, quote := range quoteAssets {
		candidates = append(candidates, base+quote, base+"/"+quote)
	}
	return candidates
}

// matchesBase reports whether a tradable symbol belongs to a clean base.
// Exact equality of clean bases is the default; prefix matching restores
// the looser legacy behavior when enabled.
func matchesBase(symbol, base string, prefix bool) bool {
	if base == "" {
		return false
	}
	clean := CleanBase(symbol)
	if clean == base {
		return true
	}
	if !prefix {
		// A pair like BTCUSDT still belongs to base BTC.
		upper := NormalizeSymbol(symbol)
		for _, quote := range quoteAssets {
			if upper == base+quote || upper == base+"/"+quote {
				return true
			}
		}
		return false
	}
	return strings.HasPrefix(NormalizeSymbol(symbol), base)
}

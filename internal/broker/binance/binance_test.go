package binance

import (
	"strings"
	"testing"

	"autotrader/internal/broker"
	"autotrader/internal/models"
)

func TestSplitOrderRef(t *testing.T) {
	symbol, id, ok := splitOrderRef("btcusdt:12345")
	if !ok || symbol != "BTCUSDT" || id != "12345" {
		t.Fatalf("splitOrderRef = %q %q %v", symbol, id, ok)
	}
	if _, _, ok := splitOrderRef("12345"); ok {
		t.Fatalf("bare id must be rejected")
	}
	if _, _, ok := splitOrderRef(":12345"); ok {
		t.Fatalf("empty symbol must be rejected")
	}
}

func TestNormalizeOrderStatus(t *testing.T) {
	cases := map[string]string{
		"NEW":              models.OrderWorking,
		"PARTIALLY_FILLED": models.OrderPartiallyFilled,
		"FILLED":           models.OrderFilled,
		"CANCELED":         models.OrderCancelled,
		"EXPIRED":          models.OrderCancelled,
		"weird":            models.OrderWorking,
	}
	for in, want := range cases {
		if got := normalizeOrderStatus(in); got != want {
			t.Fatalf("normalizeOrderStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		kind   broker.ErrorKind
	}{
		{401, broker.ErrAuth},
		{403, broker.ErrAuth},
		{429, broker.ErrTransient},
		{418, broker.ErrTransient},
		{503, broker.ErrTransient},
		{400, broker.ErrSemantic},
	}
	for _, tc := range cases {
		res := classifyStatus(tc.status, []byte("boom"))
		if res.OK || res.Kind != tc.kind {
			t.Fatalf("classifyStatus(%d) = %+v, want kind %q", tc.status, res, tc.kind)
		}
	}
	if res := classifyStatus(200, nil); !res.OK {
		t.Fatalf("2xx must succeed")
	}
}

func TestTrimBodyCapsDetail(t *testing.T) {
	long := strings.Repeat("x", 1000)
	detail := trimBody(500, []byte(long))
	if len(detail) > 320 {
		t.Fatalf("detail not capped: %d chars", len(detail))
	}
	if !strings.HasPrefix(detail, "status 500:") {
		t.Fatalf("detail missing status prefix: %q", detail)
	}
}

func TestDedupeUpper(t *testing.T) {
	got := dedupeUpper([]string{"btcusdt", "BTCUSDT", " ethusdt ", ""})
	if len(got) != 2 || got[0] != "BTCUSDT" || got[1] != "ETHUSDT" {
		t.Fatalf("dedupeUpper = %v", got)
	}
}

func TestNewPicksBaseURLByTestnetFlag(t *testing.T) {
	live := New(&models.BrokerCredential{}, 0, nil)
	if live.BaseURL != mainnetBaseURL {
		t.Fatalf("default base = %q", live.BaseURL)
	}
	test := New(&models.BrokerCredential{Testnet: true}, 0, nil)
	if test.BaseURL != testnetBaseURL {
		t.Fatalf("testnet base = %q", test.BaseURL)
	}
}

package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"autotrader/internal/broker"
	"autotrader/internal/models"
)

const (
	mainnetBaseURL = "https://api.binance.com"
	testnetBaseURL = "https://testnet.binance.vision"

	recvWindowMS = 5000
)

// Trade-fetch modes.
const (
	TradeModeAuto       = "auto"
	TradeModePredefined = "predefined"
	TradeModeAll        = "all"
)

// QuoteAssets are the pair suffixes recognized when matching a balance
// asset to an exchange symbol.
var QuoteAssets = []string{"USDT", "USD", "BTC", "ETH", "BNB", "BUSD"}

// Adapter signs requests with the credential's HMAC key pair. It has no
// token lifecycle; RefreshAuth always succeeds without doing anything.
type Adapter struct {
	Credential *models.BrokerCredential
	HTTPClient *http.Client
	Logger     *zap.Logger

	BaseURL string

	// TradeFetchMode selects how ListTrades discovers symbols.
	TradeFetchMode    string
	PredefinedSymbols []string

	// Pause between consecutive per-symbol requests.
	SymbolPause time.Duration
}

func New(cred *models.BrokerCredential, timeout time.Duration, logger *zap.Logger) *Adapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	a := &Adapter{
		Credential:     cred,
		HTTPClient:     &http.Client{Timeout: timeout},
		Logger:         logger,
		BaseURL:        mainnetBaseURL,
		TradeFetchMode: TradeModeAuto,
		SymbolPause:    100 * time.Millisecond,
	}
	if cred != nil && cred.Testnet {
		a.BaseURL = testnetBaseURL
	}
	return a
}

func (a *Adapter) Platform() string {
	return models.PlatformBinance
}

func (a *Adapter) Authenticate(ctx context.Context) broker.Result {
	if a == nil || a.Credential == nil {
		return broker.Failure(broker.ErrConfig, "no credential")
	}
	if a.Credential.APIKey == "" || a.Credential.APISecret == "" {
		return broker.Failure(broker.ErrConfig, "missing api key or secret")
	}
	if res := a.public(ctx, "/api/v3/ping", nil, nil); !res.OK {
		return res
	}
	var out accountResponse
	return a.signed(ctx, http.MethodGet, "/api/v3/account", nil, &out)
}

// RefreshAuth is a no-op: HMAC keys do not expire.
func (a *Adapter) RefreshAuth(ctx context.Context) (broker.TokenSet, broker.Result) {
	return broker.TokenSet{}, broker.Success()
}

func (a *Adapter) ListAccounts(ctx context.Context) ([]broker.Account, broker.Result) {
	var out accountResponse
	if res := a.signed(ctx, http.MethodGet, "/api/v3/account", nil, &out); !res.OK {
		return nil, res
	}
	return []broker.Account{{AccountID: strconv.FormatInt(out.UpdateTime, 10)}}, broker.Success()
}

type accountResponse struct {
	UpdateTime int64 `json:"updateTime"`
	Balances   []struct {
		Asset  string          `json:"asset"`
		Free   decimal.Decimal `json:"free"`
		Locked decimal.Decimal `json:"locked"`
	} `json:"balances"`
}

// ListPositions maps non-zero balances to position payloads. Binance has
// no per-position entry price, so entry stays zero and the side is buy.
func (a *Adapter) ListPositions(ctx context.Context) ([]broker.PositionPayload, broker.Result) {
	var out accountResponse
	if res := a.signed(ctx, http.MethodGet, "/api/v3/account", nil, &out); !res.OK {
		return nil, res
	}
	positions := make([]broker.PositionPayload, 0)
	for _, balance := range out.Balances {
		total := balance.Free.Add(balance.Locked)
		if total.IsZero() {
			continue
		}
		asset := strings.ToUpper(strings.TrimSpace(balance.Asset))
		if asset == "" {
			continue
		}
		price, _ := a.discoverPrice(ctx, asset)
		positions = append(positions, broker.PositionPayload{
			Symbol:        asset,
			Name:          asset,
			SourceOrderID: "",
			Side:          models.SideBuy,
			Size:          total,
			EntryPrice:    decimal.Zero,
			CurrentPrice:  price,
		})
		a.pause(ctx)
	}
	return positions, broker.Success()
}

// discoverPrice tries the asset against each known quote suffix until a
// ticker answers.
func (a *Adapter) discoverPrice(ctx context.Context, asset string) (decimal.Decimal, bool) {
	for _, quote := range []string{"EUR", "USDT", "BUSD"} {
		price, res := a.Quote(ctx, asset+quote)
		if res.OK {
			return price, true
		}
	}
	return decimal.Zero, false
}

type tradeItem struct {
	Symbol  string          `json:"symbol"`
	Qty     decimal.Decimal `json:"qty"`
	Price   decimal.Decimal `json:"price"`
	Time    int64           `json:"time"`
	IsBuyer bool            `json:"isBuyer"`
}

func (a *Adapter) ListTrades(ctx context.Context, limit int) ([]broker.TradePayload, broker.Result) {
	symbols, res := a.tradeSymbols(ctx)
	if !res.OK {
		return nil, res
	}
	if limit <= 0 {
		limit = 100
	}
	trades := make([]broker.TradePayload, 0)
	for _, symbol := range symbols {
		q := url.Values{}
		q.Set("symbol", symbol)
		q.Set("limit", strconv.Itoa(limit))
		var items []tradeItem
		if res := a.signed(ctx, http.MethodGet, "/api/v3/myTrades", q, &items); !res.OK {
			// One dead symbol must not sink the whole fetch.
			if a.Logger != nil {
				a.Logger.Debug("trade fetch failed", zap.String("symbol", symbol), zap.String("detail", res.Detail))
			}
			a.pause(ctx)
			continue
		}
		for _, item := range items {
			side := models.SideSell
			if item.IsBuyer {
				side = models.SideBuy
			}
			trades = append(trades, broker.TradePayload{
				Symbol:     strings.ToUpper(item.Symbol),
				Name:       strings.ToUpper(item.Symbol),
				Side:       side,
				Size:       item.Qty,
				Price:      item.Price,
				ExecutedAt: time.UnixMilli(item.Time).UTC(),
			})
		}
		a.pause(ctx)
	}
	if a.TradeFetchMode == TradeModeAll {
		converts, res := a.convertHistory(ctx)
		if res.OK {
			trades = append(trades, converts...)
		}
	}
	return trades, broker.Success()
}

// tradeSymbols picks the symbols to query per the configured fetch mode.
func (a *Adapter) tradeSymbols(ctx context.Context) ([]string, broker.Result) {
	mode := a.TradeFetchMode
	if mode == "" {
		mode = TradeModeAuto
	}
	if mode == TradeModePredefined {
		return dedupeUpper(a.PredefinedSymbols), broker.Success()
	}

	var account accountResponse
	if res := a.signed(ctx, http.MethodGet, "/api/v3/account", nil, &account); !res.OK {
		return nil, res
	}
	tickers, res := a.tickerSymbols(ctx)
	if !res.OK {
		return nil, res
	}
	symbols := make([]string, 0)
	seen := map[string]struct{}{}
	for _, balance := range account.Balances {
		if balance.Free.Add(balance.Locked).IsZero() {
			continue
		}
		asset := strings.ToUpper(strings.TrimSpace(balance.Asset))
		for _, quote := range QuoteAssets {
			pair := asset + quote
			if _, ok := tickers[pair]; !ok {
				continue
			}
			if _, dup := seen[pair]; dup {
				continue
			}
			seen[pair] = struct{}{}
			symbols = append(symbols, pair)
		}
	}

	if mode == TradeModeAll {
		open, res := a.ListPendingOrders(ctx)
		if res.OK {
			for _, order := range open {
				if _, dup := seen[order.Symbol]; dup || order.Symbol == "" {
					continue
				}
				seen[order.Symbol] = struct{}{}
				symbols = append(symbols, order.Symbol)
			}
		}
	}
	return symbols, broker.Success()
}

func (a *Adapter) tickerSymbols(ctx context.Context) (map[string]struct{}, broker.Result) {
	var items []struct {
		Symbol string `json:"symbol"`
	}
	if res := a.public(ctx, "/api/v3/ticker/price", nil, &items); !res.OK {
		return nil, res
	}
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		out[strings.ToUpper(item.Symbol)] = struct{}{}
	}
	return out, broker.Success()
}

type convertResponse struct {
	List []struct {
		FromAsset  string          `json:"fromAsset"`
		ToAsset    string          `json:"toAsset"`
		FromAmount decimal.Decimal `json:"fromAmount"`
		ToAmount   decimal.Decimal `json:"toAmount"`
		Ratio      decimal.Decimal `json:"ratio"`
		CreateTime int64           `json:"createTime"`
	} `json:"list"`
}

// convertHistory walks the last year of convert trades in 30-day windows,
// the maximum span the endpoint accepts.
func (a *Adapter) convertHistory(ctx context.Context) ([]broker.TradePayload, broker.Result) {
	end := time.Now().UTC()
	start := end.AddDate(-1, 0, 0)
	trades := make([]broker.TradePayload, 0)
	for windowStart := start; windowStart.Before(end); windowStart = windowStart.AddDate(0, 0, 30) {
		windowEnd := windowStart.AddDate(0, 0, 30)
		if windowEnd.After(end) {
			windowEnd = end
		}
		q := url.Values{}
		q.Set("startTime", strconv.FormatInt(windowStart.UnixMilli(), 10))
		q.Set("endTime", strconv.FormatInt(windowEnd.UnixMilli(), 10))
		var out convertResponse
		if res := a.signed(ctx, http.MethodGet, "/sapi/v1/convert/trade/history", q, &out); !res.OK {
			return trades, res
		}
		for _, item := range out.List {
			trades = append(trades, broker.TradePayload{
				Symbol:     strings.ToUpper(item.ToAsset + item.FromAsset),
				Name:       strings.ToUpper(item.ToAsset),
				Side:       models.SideBuy,
				Size:       item.ToAmount,
				Price:      item.Ratio,
				ExecutedAt: time.UnixMilli(item.CreateTime).UTC(),
			})
		}
		a.pause(ctx)
	}
	return trades, broker.Success()
}

type openOrderItem struct {
	Symbol      string          `json:"symbol"`
	OrderID     int64           `json:"orderId"`
	Type        string          `json:"type"`
	Side        string          `json:"side"`
	Status      string          `json:"status"`
	OrigQty     decimal.Decimal `json:"origQty"`
	ExecutedQty decimal.Decimal `json:"executedQty"`
	Price       decimal.Decimal `json:"price"`
	StopPrice   decimal.Decimal `json:"stopPrice"`
	Time        int64           `json:"time"`
}

func (a *Adapter) ListPendingOrders(ctx context.Context) ([]broker.OrderPayload, broker.Result) {
	var items []json.RawMessage
	if res := a.signed(ctx, http.MethodGet, "/api/v3/openOrders", nil, &items); !res.OK {
		return nil, res
	}
	orders := make([]broker.OrderPayload, 0, len(items))
	for _, raw := range items {
		var item openOrderItem
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		payload := broker.OrderPayload{
			OrderID:   strconv.FormatInt(item.OrderID, 10),
			Symbol:    strings.ToUpper(item.Symbol),
			OrderType: item.Type,
			Side:      strings.ToUpper(item.Side),
			Status:    normalizeOrderStatus(item.Status),
			Original:  item.OrigQty,
			Executed:  item.ExecutedQty,
			Raw:       append([]byte(nil), raw...),
		}
		if !item.Price.IsZero() {
			price := item.Price
			payload.Price = &price
		}
		if !item.StopPrice.IsZero() {
			stop := item.StopPrice
			payload.StopPrice = &stop
		}
		orders = append(orders, payload)
	}
	return orders, broker.Success()
}

func normalizeOrderStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "NEW":
		return models.OrderWorking
	case "PARTIALLY_FILLED":
		return models.OrderPartiallyFilled
	case "FILLED":
		return models.OrderFilled
	case "CANCELED", "CANCELLED", "EXPIRED", "REJECTED":
		return models.OrderCancelled
	default:
		return models.OrderWorking
	}
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
		Status     string `json:"status"`
	} `json:"symbols"`
}

func (a *Adapter) ListInstruments(ctx context.Context, filter string) ([]broker.InstrumentPayload, broker.Result) {
	var out exchangeInfoResponse
	if res := a.public(ctx, "/api/v3/exchangeInfo", nil, &out); !res.OK {
		return nil, res
	}
	filter = strings.ToUpper(strings.TrimSpace(filter))
	instruments := make([]broker.InstrumentPayload, 0, len(out.Symbols))
	for _, item := range out.Symbols {
		if item.Status != "TRADING" {
			continue
		}
		symbol := strings.ToUpper(item.Symbol)
		if filter != "" && !strings.Contains(symbol, filter) {
			continue
		}
		instruments = append(instruments, broker.InstrumentPayload{
			Symbol:     symbol,
			Name:       symbol,
			AssetKind:  "crypto",
			Currency:   item.QuoteAsset,
			BaseAsset:  strings.ToUpper(item.BaseAsset),
			QuoteAsset: strings.ToUpper(item.QuoteAsset),
			Status:     item.Status,
		})
	}
	return instruments, broker.Success()
}

func (a *Adapter) Quote(ctx context.Context, symbol string) (decimal.Decimal, broker.Result) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return decimal.Zero, broker.Failure(broker.ErrConfig, "empty symbol")
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	var out struct {
		Price decimal.Decimal `json:"price"`
	}
	if res := a.public(ctx, "/api/v3/ticker/price", q, &out); !res.OK {
		return decimal.Zero, res
	}
	return out.Price, broker.Success()
}

type placeOrderResponse struct {
	OrderID int64 `json:"orderId"`
}

func (a *Adapter) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.PlacedOrder, broker.Result) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return broker.PlacedOrder{}, broker.Failure(broker.ErrConfig, "empty symbol")
	}
	orderType := strings.ToUpper(req.OrderType)
	if orderType == "" {
		orderType = "MARKET"
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("side", strings.ToUpper(req.Side))
	q.Set("type", orderType)
	q.Set("quantity", req.Size.String())
	if orderType == "LIMIT" {
		if req.Price == nil {
			return broker.PlacedOrder{}, broker.Failure(broker.ErrConfig, "limit order requires a price")
		}
		q.Set("price", req.Price.String())
		q.Set("timeInForce", "GTC")
	}
	var out placeOrderResponse
	if res := a.signed(ctx, http.MethodPost, "/api/v3/order", q, &out); !res.OK {
		return broker.PlacedOrder{}, res
	}
	return broker.PlacedOrder{OrderID: strconv.FormatInt(out.OrderID, 10)}, broker.Success()
}

// CancelOrder expects "SYMBOL:orderId"; the endpoint needs both halves.
func (a *Adapter) CancelOrder(ctx context.Context, orderID string) broker.Result {
	symbol, id, ok := splitOrderRef(orderID)
	if !ok {
		return broker.Failure(broker.ErrConfig, "order reference must be SYMBOL:id")
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("orderId", id)
	return a.signed(ctx, http.MethodDelete, "/api/v3/order", q, nil)
}

func (a *Adapter) OrderStatus(ctx context.Context, orderID string) (broker.OrderPayload, broker.Result) {
	symbol, id, ok := splitOrderRef(orderID)
	if !ok {
		return broker.OrderPayload{}, broker.Failure(broker.ErrConfig, "order reference must be SYMBOL:id")
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("orderId", id)
	var item openOrderItem
	if res := a.signed(ctx, http.MethodGet, "/api/v3/order", q, &item); !res.OK {
		return broker.OrderPayload{}, res
	}
	payload := broker.OrderPayload{
		OrderID:   strconv.FormatInt(item.OrderID, 10),
		Symbol:    strings.ToUpper(item.Symbol),
		OrderType: item.Type,
		Side:      strings.ToUpper(item.Side),
		Status:    normalizeOrderStatus(item.Status),
		Original:  item.OrigQty,
		Executed:  item.ExecutedQty,
	}
	if !item.Price.IsZero() {
		price := item.Price
		payload.Price = &price
	}
	return payload, broker.Success()
}

func splitOrderRef(ref string) (symbol, id string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(ref), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return strings.ToUpper(parts[0]), parts[1], true
}

// Balance reports free stablecoin holdings as cash.
func (a *Adapter) Balance(ctx context.Context) (broker.BalanceInfo, broker.Result) {
	var out accountResponse
	if res := a.signed(ctx, http.MethodGet, "/api/v3/account", nil, &out); !res.OK {
		return broker.BalanceInfo{}, res
	}
	cash := decimal.Zero
	locked := decimal.Zero
	for _, balance := range out.Balances {
		asset := strings.ToUpper(balance.Asset)
		if asset == "USDT" || asset == "BUSD" || asset == "USD" {
			cash = cash.Add(balance.Free)
			locked = locked.Add(balance.Locked)
		}
	}
	return broker.BalanceInfo{
		CashBalance:         cash,
		CollateralAvailable: cash.Add(locked),
		Currency:            "USDT",
	}, broker.Success()
}

// --- transport --------------------------------------------------------------

func (a *Adapter) serverTime(ctx context.Context) (int64, broker.Result) {
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	if res := a.public(ctx, "/api/v3/time", nil, &out); !res.OK {
		return 0, res
	}
	return out.ServerTime, broker.Success()
}

func (a *Adapter) public(ctx context.Context, path string, query url.Values, out any) broker.Result {
	endpoint := a.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return broker.Failure(broker.ErrConfig, err.Error())
	}
	return a.execute(req, out)
}

func (a *Adapter) signed(ctx context.Context, method, path string, query url.Values, out any) broker.Result {
	if a == nil || a.Credential == nil {
		return broker.Failure(broker.ErrConfig, "no credential")
	}
	if a.Credential.APIKey == "" || a.Credential.APISecret == "" {
		return broker.Failure(broker.ErrConfig, "missing api key or secret")
	}
	ts, res := a.serverTime(ctx)
	if !res.OK {
		return res
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("timestamp", strconv.FormatInt(ts, 10))
	query.Set("recvWindow", strconv.Itoa(recvWindowMS))
	encoded := query.Encode()
	mac := hmac.New(sha256.New, []byte(a.Credential.APISecret))
	mac.Write([]byte(encoded))
	signature := hex.EncodeToString(mac.Sum(nil))
	endpoint := a.BaseURL + path + "?" + encoded + "&signature=" + signature

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return broker.Failure(broker.ErrConfig, err.Error())
	}
	req.Header.Set("X-MBX-APIKEY", a.Credential.APIKey)
	return a.execute(req, out)
}

func (a *Adapter) execute(req *http.Request, out any) broker.Result {
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return broker.Failure(broker.ErrTransient, err.Error())
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(resp.Body)
	if res := classifyStatus(resp.StatusCode, payload); !res.OK {
		return res
	}
	if out == nil || len(payload) == 0 {
		return broker.Success()
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return broker.Failure(broker.ErrSemantic, "decode response: "+err.Error())
	}
	return broker.Success()
}

func classifyStatus(status int, body []byte) broker.Result {
	switch {
	case status >= 200 && status < 300:
		return broker.Success()
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return broker.Failure(broker.ErrAuth, trimBody(status, body))
	case status == http.StatusTooManyRequests || status == http.StatusTeapot || status >= 500:
		return broker.Failure(broker.ErrTransient, trimBody(status, body))
	default:
		return broker.Failure(broker.ErrSemantic, trimBody(status, body))
	}
}

func trimBody(status int, body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 300 {
		text = text[:300]
	}
	return fmt.Sprintf("status %d: %s", status, text)
}

func (a *Adapter) pause(ctx context.Context) {
	d := a.SymbolPause
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func dedupeUpper(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, raw := range items {
		val := strings.ToUpper(strings.TrimSpace(raw))
		if val == "" {
			continue
		}
		if _, ok := seen[val]; ok {
			continue
		}
		seen[val] = struct{}{}
		out = append(out, val)
	}
	return out
}

package saxo

import (
	"bytes"
	"context"
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
	liveBaseURL = "https://gateway.saxobank.com/openapi"
	simBaseURL  = "https://gateway.saxobank.com/sim/openapi"
	liveAuthURL = "https://live.logonvalidation.net"
	simAuthURL  = "https://sim.logonvalidation.net"
)

// Adapter talks to the Saxo OpenAPI on behalf of one credential. Base and
// auth hosts depend on the credential's environment.
type Adapter struct {
	Credential *models.BrokerCredential
	HTTPClient *http.Client
	Logger     *zap.Logger

	// Overridable in tests.
	BaseURL string
	AuthURL string

	// Pause between consecutive per-instrument requests.
	SymbolPause time.Duration
}

func New(cred *models.BrokerCredential, timeout time.Duration, logger *zap.Logger) *Adapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	a := &Adapter{
		Credential:  cred,
		HTTPClient:  &http.Client{Timeout: timeout},
		Logger:      logger,
		SymbolPause: 100 * time.Millisecond,
	}
	if cred != nil && cred.Environment == models.EnvLive {
		a.BaseURL = liveBaseURL
		a.AuthURL = liveAuthURL
	} else {
		a.BaseURL = simBaseURL
		a.AuthURL = simAuthURL
	}
	return a
}

func (a *Adapter) Platform() string {
	return models.PlatformSaxo
}

// AuthorizeURL builds the user-facing OAuth authorization URL.
func (a *Adapter) AuthorizeURL(state string) string {
	if a == nil || a.Credential == nil {
		return ""
	}
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", a.Credential.ClientID)
	q.Set("redirect_uri", a.Credential.RedirectURI)
	q.Set("scope", "openid")
	q.Set("state", state)
	return a.AuthURL + "/authorize?" + q.Encode()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// ExchangeCode trades an authorization code for the first token pair.
func (a *Adapter) ExchangeCode(ctx context.Context, code string) (broker.TokenSet, broker.Result) {
	if a == nil || a.Credential == nil {
		return broker.TokenSet{}, broker.Failure(broker.ErrConfig, "no credential")
	}
	if a.Credential.ClientID == "" || a.Credential.ClientSecret == "" {
		return broker.TokenSet{}, broker.Failure(broker.ErrConfig, "missing client id or secret")
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", a.Credential.RedirectURI)
	form.Set("client_id", a.Credential.ClientID)
	form.Set("client_secret", a.Credential.ClientSecret)
	return a.postToken(ctx, form)
}

func (a *Adapter) Authenticate(ctx context.Context) broker.Result {
	if a == nil || a.Credential == nil {
		return broker.Failure(broker.ErrConfig, "no credential")
	}
	if a.Credential.AccessToken == "" {
		return broker.Failure(broker.ErrAuth, "no access token")
	}
	// 24-hour tokens carry no usable expiry arithmetic; presence is enough.
	if a.Credential.TwentyFourHourMode() {
		return broker.Success()
	}
	if a.Credential.TokenExpiresAt != nil && a.Credential.TokenExpiresAt.Before(time.Now()) {
		return broker.Failure(broker.ErrAuth, "access token expired")
	}
	return broker.Success()
}

func (a *Adapter) RefreshAuth(ctx context.Context) (broker.TokenSet, broker.Result) {
	if a == nil || a.Credential == nil {
		return broker.TokenSet{}, broker.Failure(broker.ErrConfig, "no credential")
	}
	if a.Credential.TwentyFourHourMode() {
		return broker.TokenSet{}, broker.Failure(broker.ErrConfig, "24-hour token cannot be refreshed")
	}
	if a.Credential.RefreshToken == "" {
		return broker.TokenSet{}, broker.Failure(broker.ErrConfig, "no refresh token")
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", a.Credential.RefreshToken)
	form.Set("client_id", a.Credential.ClientID)
	form.Set("client_secret", a.Credential.ClientSecret)
	return a.postToken(ctx, form)
}

func (a *Adapter) postToken(ctx context.Context, form url.Values) (broker.TokenSet, broker.Result) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.AuthURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return broker.TokenSet{}, broker.Failure(broker.ErrConfig, err.Error())
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return broker.TokenSet{}, broker.Failure(broker.ErrTransient, err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if res := classifyStatus(resp.StatusCode, body); !res.OK {
		return broker.TokenSet{}, res
	}
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return broker.TokenSet{}, broker.Failure(broker.ErrSemantic, "token response: "+err.Error())
	}
	if tr.AccessToken == "" {
		return broker.TokenSet{}, broker.Failure(broker.ErrSemantic, "token response missing access_token")
	}
	return broker.TokenSet{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, broker.Success()
}

type accountsResponse struct {
	Data []struct {
		AccountID  string `json:"AccountId"`
		AccountKey string `json:"AccountKey"`
		ClientKey  string `json:"ClientKey"`
	} `json:"Data"`
}

func (a *Adapter) ListAccounts(ctx context.Context) ([]broker.Account, broker.Result) {
	var out accountsResponse
	if res := a.getJSON(ctx, "/port/v1/accounts/me", nil, &out); !res.OK {
		return nil, res
	}
	accounts := make([]broker.Account, 0, len(out.Data))
	for _, item := range out.Data {
		accounts = append(accounts, broker.Account{
			AccountID:  item.AccountID,
			AccountKey: item.AccountKey,
			ClientKey:  item.ClientKey,
		})
	}
	return accounts, broker.Success()
}

type positionsResponse struct {
	Data []struct {
		PositionBase struct {
			UIC               int64           `json:"Uic"`
			AssetType         string          `json:"AssetType"`
			Amount            decimal.Decimal `json:"Amount"`
			OpenPrice         decimal.Decimal `json:"OpenPrice"`
			SourceOrderID     string          `json:"SourceOrderId"`
			ExecutionTimeOpen string          `json:"ExecutionTimeOpen"`
		} `json:"PositionBase"`
		PositionView struct {
			CurrentPrice decimal.Decimal `json:"CurrentPrice"`
		} `json:"PositionView"`
	} `json:"Data"`
}

func (a *Adapter) ListPositions(ctx context.Context) ([]broker.PositionPayload, broker.Result) {
	var out positionsResponse
	if res := a.getJSON(ctx, "/port/v1/positions/me", nil, &out); !res.OK {
		return nil, res
	}
	positions := make([]broker.PositionPayload, 0, len(out.Data))
	for _, item := range out.Data {
		base := item.PositionBase
		if strings.TrimSpace(base.SourceOrderID) == "" {
			// Positions without a source order id cannot be deduplicated.
			if a.Logger != nil {
				a.Logger.Debug("skipping position without source order id", zap.Int64("uic", base.UIC))
			}
			continue
		}
		symbol, name := a.instrumentDetails(ctx, base.UIC, base.AssetType)
		side := models.SideBuy
		size := base.Amount
		if size.IsNegative() {
			side = models.SideSell
			size = size.Neg()
		}
		payload := broker.PositionPayload{
			Symbol:        symbol,
			Name:          name,
			SourceOrderID: strings.TrimSpace(base.SourceOrderID),
			Side:          side,
			Size:          size,
			EntryPrice:    base.OpenPrice,
			CurrentPrice:  item.PositionView.CurrentPrice,
		}
		if ts, err := time.Parse(time.RFC3339, base.ExecutionTimeOpen); err == nil {
			payload.OpenedAt = &ts
		}
		positions = append(positions, payload)
		a.pause(ctx)
	}
	return positions, broker.Success()
}

type instrumentDetailsResponse struct {
	Description string `json:"Description"`
	Symbol      string `json:"Symbol"`
}

// instrumentDetails resolves display name and symbol for a UIC. Lookup
// failures degrade to the numeric id so the position is still usable.
func (a *Adapter) instrumentDetails(ctx context.Context, uic int64, assetType string) (symbol, name string) {
	fallback := strconv.FormatInt(uic, 10)
	if assetType == "" {
		return fallback, fallback
	}
	path := fmt.Sprintf("/ref/v1/instruments/details/%d/%s", uic, strings.ToLower(assetType))
	var out instrumentDetailsResponse
	if res := a.getJSON(ctx, path, nil, &out); !res.OK {
		return fallback, fallback
	}
	symbol = strings.ToUpper(strings.TrimSpace(out.Symbol))
	name = strings.TrimSpace(out.Description)
	if symbol == "" {
		symbol = fallback
	}
	if name == "" {
		name = symbol
	}
	return symbol, name
}

type closedPositionsResponse struct {
	Data []struct {
		UIC           int64           `json:"Uic"`
		AssetType     string          `json:"AssetType"`
		Amount        decimal.Decimal `json:"Amount"`
		OpenPrice     decimal.Decimal `json:"OpenPrice"`
		TradeDate     string          `json:"TradeDate"`
		ExecutionTime string          `json:"ExecutionTimeOpen"`
	} `json:"Data"`
}

func (a *Adapter) ListTrades(ctx context.Context, limit int) ([]broker.TradePayload, broker.Result) {
	accounts, res := a.ListAccounts(ctx)
	if !res.OK {
		return nil, res
	}
	if len(accounts) == 0 || accounts[0].ClientKey == "" {
		return nil, broker.Failure(broker.ErrSemantic, "no client key available")
	}
	now := time.Now().UTC()
	q := url.Values{}
	q.Set("FromDate", now.AddDate(0, 0, -30).Format("2006-01-02"))
	q.Set("ToDate", now.Format("2006-01-02"))
	var out closedPositionsResponse
	if res := a.getJSON(ctx, "/hist/v3/positions/"+url.PathEscape(accounts[0].ClientKey), q, &out); !res.OK {
		return nil, res
	}
	trades := make([]broker.TradePayload, 0, len(out.Data))
	for _, item := range out.Data {
		if limit > 0 && len(trades) >= limit {
			break
		}
		symbol, name := a.instrumentDetails(ctx, item.UIC, item.AssetType)
		side := models.SideBuy
		size := item.Amount
		if size.IsNegative() {
			side = models.SideSell
			size = size.Neg()
		}
		executedAt := now
		if ts, err := time.Parse(time.RFC3339, item.ExecutionTime); err == nil {
			executedAt = ts
		} else if ts, err := time.Parse("2006-01-02", item.TradeDate); err == nil {
			executedAt = ts
		}
		trades = append(trades, broker.TradePayload{
			Symbol:     symbol,
			Name:       name,
			Side:       side,
			Size:       size,
			Price:      item.OpenPrice,
			ExecutedAt: executedAt,
		})
		a.pause(ctx)
	}
	return trades, broker.Success()
}

type ordersResponse struct {
	Data []json.RawMessage `json:"Data"`
}

type orderItem struct {
	OrderID          string           `json:"OrderId"`
	UIC              int64            `json:"Uic"`
	OpenOrderType    string           `json:"OpenOrderType"`
	BuySell          string           `json:"BuySell"`
	Status           string           `json:"Status"`
	Price            *decimal.Decimal `json:"Price"`
	StopPrice        *decimal.Decimal `json:"StopLimitPrice"`
	Amount           decimal.Decimal  `json:"Amount"`
	FilledAmount     decimal.Decimal  `json:"FilledAmount"`
	ExpiryTime       string           `json:"ExpiryTime"`
	DisplayAndFormat struct {
		Symbol      string `json:"Symbol"`
		Description string `json:"Description"`
	} `json:"DisplayAndFormat"`
}

func (a *Adapter) ListPendingOrders(ctx context.Context) ([]broker.OrderPayload, broker.Result) {
	q := url.Values{}
	q.Set("$top", "100")
	q.Set("FieldGroups", "DisplayAndFormat")
	q.Set("Status", "Working")
	var out ordersResponse
	if res := a.getJSON(ctx, "/port/v1/orders/me", q, &out); !res.OK {
		return nil, res
	}
	orders := make([]broker.OrderPayload, 0, len(out.Data))
	for _, raw := range out.Data {
		var item orderItem
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		if item.OrderID == "" {
			continue
		}
		payload := broker.OrderPayload{
			OrderID:   item.OrderID,
			Symbol:    strings.ToUpper(strings.TrimSpace(item.DisplayAndFormat.Symbol)),
			OrderType: item.OpenOrderType,
			Side:      strings.ToUpper(item.BuySell),
			Status:    normalizeOrderStatus(item.Status),
			Original:  item.Amount,
			Executed:  item.FilledAmount,
			Price:     item.Price,
			StopPrice: item.StopPrice,
			Raw:       append([]byte(nil), raw...),
		}
		if ts, err := time.Parse(time.RFC3339, item.ExpiryTime); err == nil {
			payload.ExpiresAt = &ts
		}
		orders = append(orders, payload)
	}
	return orders, broker.Success()
}

func normalizeOrderStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "working":
		return models.OrderWorking
	case "parked", "partiallyfilled", "partially_filled":
		return models.OrderPartiallyFilled
	case "filled":
		return models.OrderFilled
	case "cancelled", "canceled":
		return models.OrderCancelled
	default:
		return models.OrderWorking
	}
}

type instrumentsResponse struct {
	Data []struct {
		Identifier   int64  `json:"Identifier"`
		Description  string `json:"Description"`
		Symbol       string `json:"Symbol"`
		AssetType    string `json:"AssetType"`
		CurrencyCode string `json:"CurrencyCode"`
		ExchangeID   string `json:"ExchangeId"`
	} `json:"Data"`
}

func (a *Adapter) ListInstruments(ctx context.Context, filter string) ([]broker.InstrumentPayload, broker.Result) {
	q := url.Values{}
	if filter = strings.TrimSpace(filter); filter != "" {
		q.Set("Keywords", filter)
	}
	q.Set("$top", "200")
	var out instrumentsResponse
	if res := a.getJSON(ctx, "/ref/v1/instruments", q, &out); !res.OK {
		return nil, res
	}
	instruments := make([]broker.InstrumentPayload, 0, len(out.Data))
	for _, item := range out.Data {
		uic := item.Identifier
		instruments = append(instruments, broker.InstrumentPayload{
			Symbol:    strings.ToUpper(strings.TrimSpace(item.Symbol)),
			Name:      strings.TrimSpace(item.Description),
			AssetKind: item.AssetType,
			Currency:  item.CurrencyCode,
			Exchange:  item.ExchangeID,
			SaxoUIC:   &uic,
		})
	}
	return instruments, broker.Success()
}

type infoPriceResponse struct {
	Quote struct {
		Mid decimal.Decimal `json:"Mid"`
		Bid decimal.Decimal `json:"Bid"`
		Ask decimal.Decimal `json:"Ask"`
	} `json:"Quote"`
}

func (a *Adapter) Quote(ctx context.Context, symbol string) (decimal.Decimal, broker.Result) {
	uic, assetType, res := a.resolveUIC(ctx, symbol)
	if !res.OK {
		return decimal.Zero, res
	}
	q := url.Values{}
	q.Set("Uic", strconv.FormatInt(uic, 10))
	q.Set("AssetType", assetType)
	var out infoPriceResponse
	if res := a.getJSON(ctx, "/trade/v1/infoprices", q, &out); !res.OK {
		return decimal.Zero, res
	}
	price := out.Quote.Mid
	if price.IsZero() && !out.Quote.Bid.IsZero() && !out.Quote.Ask.IsZero() {
		price = out.Quote.Bid.Add(out.Quote.Ask).Div(decimal.NewFromInt(2))
	}
	if price.IsZero() {
		return decimal.Zero, broker.Failure(broker.ErrSemantic, "no price for "+symbol)
	}
	return price, broker.Success()
}

func (a *Adapter) resolveUIC(ctx context.Context, symbol string) (int64, string, broker.Result) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return 0, "", broker.Failure(broker.ErrConfig, "empty symbol")
	}
	instruments, res := a.ListInstruments(ctx, symbol)
	if !res.OK {
		return 0, "", res
	}
	for _, item := range instruments {
		if item.Symbol == symbol && item.SaxoUIC != nil {
			return *item.SaxoUIC, item.AssetKind, broker.Success()
		}
	}
	// Fall back to the first keyword hit.
	for _, item := range instruments {
		if item.SaxoUIC != nil {
			return *item.SaxoUIC, item.AssetKind, broker.Success()
		}
	}
	return 0, "", broker.Failure(broker.ErrSemantic, "no instrument matches "+symbol)
}

type placeOrderResponse struct {
	OrderID string `json:"OrderId"`
}

func (a *Adapter) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.PlacedOrder, broker.Result) {
	accounts, res := a.ListAccounts(ctx)
	if !res.OK {
		return broker.PlacedOrder{}, res
	}
	if len(accounts) == 0 || accounts[0].AccountKey == "" {
		return broker.PlacedOrder{}, broker.Failure(broker.ErrSemantic, "no account key available")
	}
	uic, assetType, res := a.resolveUIC(ctx, req.Symbol)
	if !res.OK {
		return broker.PlacedOrder{}, res
	}
	orderType := req.OrderType
	if orderType == "" {
		orderType = "Market"
	}
	body := map[string]any{
		"AccountKey":  accounts[0].AccountKey,
		"Uic":         uic,
		"AssetType":   assetType,
		"BuySell":     titleSide(req.Side),
		"Amount":      req.Size,
		"OrderType":   orderType,
		"ManualOrder": false,
		"OrderDuration": map[string]any{
			"DurationType": "DayOrder",
		},
	}
	if req.Price != nil {
		body["OrderPrice"] = *req.Price
	}
	var out placeOrderResponse
	if res := a.doJSON(ctx, http.MethodPost, "/trade/v1/orders", nil, body, &out); !res.OK {
		return broker.PlacedOrder{}, res
	}
	if out.OrderID == "" {
		return broker.PlacedOrder{}, broker.Failure(broker.ErrSemantic, "order response missing OrderId")
	}
	return broker.PlacedOrder{OrderID: out.OrderID}, broker.Success()
}

func titleSide(side string) string {
	switch strings.ToUpper(strings.TrimSpace(side)) {
	case models.SideSell:
		return "Sell"
	default:
		return "Buy"
	}
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID string) broker.Result {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return broker.Failure(broker.ErrConfig, "empty order id")
	}
	return a.doJSON(ctx, http.MethodDelete, "/trade/v1/orders/"+url.PathEscape(orderID), nil, nil, nil)
}

func (a *Adapter) OrderStatus(ctx context.Context, orderID string) (broker.OrderPayload, broker.Result) {
	orders, res := a.ListPendingOrders(ctx)
	if !res.OK {
		return broker.OrderPayload{}, res
	}
	for _, order := range orders {
		if order.OrderID == orderID {
			return order, broker.Success()
		}
	}
	return broker.OrderPayload{}, broker.Failure(broker.ErrSemantic, "order not found: "+orderID)
}

type balancesResponse struct {
	CashBalance         decimal.Decimal `json:"CashBalance"`
	CollateralAvailable decimal.Decimal `json:"CollateralAvailable"`
	Currency            string          `json:"Currency"`
}

func (a *Adapter) Balance(ctx context.Context) (broker.BalanceInfo, broker.Result) {
	var out balancesResponse
	if res := a.getJSON(ctx, "/port/v1/balances/me", nil, &out); !res.OK {
		return broker.BalanceInfo{}, res
	}
	return broker.BalanceInfo{
		CashBalance:         out.CashBalance,
		CollateralAvailable: out.CollateralAvailable,
		Currency:            out.Currency,
	}, broker.Success()
}

// --- transport --------------------------------------------------------------

func (a *Adapter) getJSON(ctx context.Context, path string, query url.Values, out any) broker.Result {
	return a.doJSON(ctx, http.MethodGet, path, query, nil, out)
}

func (a *Adapter) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) broker.Result {
	if a == nil || a.Credential == nil {
		return broker.Failure(broker.ErrConfig, "no credential")
	}
	if a.Credential.AccessToken == "" {
		return broker.Failure(broker.ErrAuth, "no access token")
	}
	endpoint := a.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return broker.Failure(broker.ErrConfig, err.Error())
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return broker.Failure(broker.ErrConfig, err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+a.Credential.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
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

func classifyStatus(status int, body []byte) broker.Result {
	switch {
	case status >= 200 && status < 300:
		return broker.Success()
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return broker.Failure(broker.ErrAuth, trimBody(status, body))
	case status == http.StatusTooManyRequests || status >= 500:
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

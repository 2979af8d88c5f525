package service

import (
	"context"

	"github.com/shopspring/decimal"

	"autotrader/internal/broker"
	"autotrader/internal/models"
)

// fakeBroker is a scriptable adapter used across the service tests.
type fakeBroker struct {
	platform    string
	positions   []broker.PositionPayload
	trades      []broker.TradePayload
	orders      []broker.OrderPayload
	instruments []broker.InstrumentPayload
	quote       decimal.Decimal
	balance     broker.BalanceInfo

	refreshResults []broker.Result
	refreshTokens  broker.TokenSet
	refreshCalls   int
	placeCalls     int
	placedOrders   []broker.OrderRequest
	placeResult    broker.Result
}

func (f *fakeBroker) Platform() string {
	if f.platform == "" {
		return "binance"
	}
	return f.platform
}

func (f *fakeBroker) Authenticate(ctx context.Context) broker.Result { return broker.Success() }

func (f *fakeBroker) RefreshAuth(ctx context.Context) (broker.TokenSet, broker.Result) {
	idx := f.refreshCalls
	f.refreshCalls++
	if idx < len(f.refreshResults) {
		res := f.refreshResults[idx]
		if res.OK {
			return f.refreshTokens, res
		}
		return broker.TokenSet{}, res
	}
	return f.refreshTokens, broker.Success()
}

func (f *fakeBroker) ListAccounts(ctx context.Context) ([]broker.Account, broker.Result) {
	return nil, broker.Success()
}

func (f *fakeBroker) ListPositions(ctx context.Context) ([]broker.PositionPayload, broker.Result) {
	return f.positions, broker.Success()
}

func (f *fakeBroker) ListTrades(ctx context.Context, limit int) ([]broker.TradePayload, broker.Result) {
	return f.trades, broker.Success()
}

func (f *fakeBroker) ListPendingOrders(ctx context.Context) ([]broker.OrderPayload, broker.Result) {
	return f.orders, broker.Success()
}

func (f *fakeBroker) ListInstruments(ctx context.Context, filter string) ([]broker.InstrumentPayload, broker.Result) {
	return f.instruments, broker.Success()
}

func (f *fakeBroker) Quote(ctx context.Context, symbol string) (decimal.Decimal, broker.Result) {
	return f.quote, broker.Success()
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.PlacedOrder, broker.Result) {
	f.placeCalls++
	f.placedOrders = append(f.placedOrders, req)
	if !f.placeResult.OK && f.placeResult.Kind != broker.ErrNone {
		return broker.PlacedOrder{}, f.placeResult
	}
	return broker.PlacedOrder{OrderID: "42"}, broker.Success()
}

func (f *fakeBroker) CancelOrder(ctx context.Context, orderID string) broker.Result {
	return broker.Success()
}

func (f *fakeBroker) OrderStatus(ctx context.Context, orderID string) (broker.OrderPayload, broker.Result) {
	return broker.OrderPayload{}, broker.Success()
}

func (f *fakeBroker) Balance(ctx context.Context) (broker.BalanceInfo, broker.Result) {
	return f.balance, broker.Success()
}

func fixedFactory(fake *fakeBroker) BrokerFactory {
	return func(cred *models.BrokerCredential) broker.Broker { return fake }
}

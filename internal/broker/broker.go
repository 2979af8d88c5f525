package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Error kinds carried by Result. Adapters classify failures so callers
// can decide between retry, skip, and abort without parsing messages.
type ErrorKind string

const (
	ErrNone      ErrorKind = ""
	ErrTransient ErrorKind = "transient"
	ErrAuth      ErrorKind = "auth"
	ErrSemantic  ErrorKind = "semantic"
	ErrConfig    ErrorKind = "config"
)

// Result is the structured outcome of every adapter call. Adapters never
// panic or return raw errors across the boundary.
type Result struct {
	OK     bool
	Kind   ErrorKind
	Detail string
}

func Success() Result {
	return Result{OK: true}
}

func Failure(kind ErrorKind, detail string) Result {
	return Result{OK: false, Kind: kind, Detail: detail}
}

// TokenSet is the outcome of a successful auth refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type Account struct {
	AccountID  string
	AccountKey string
	ClientKey  string
}

// PositionPayload is one holding as reported by a broker. SourceOrderID
// is empty for brokers that expose balances instead of positions.
type PositionPayload struct {
	Symbol        string
	Name          string
	SourceOrderID string
	Side          string
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	CurrentPrice  decimal.Decimal
	OpenedAt      *time.Time
}

type TradePayload struct {
	Symbol     string
	Name       string
	Side       string
	Size       decimal.Decimal
	Price      decimal.Decimal
	ExecutedAt time.Time
}

type OrderPayload struct {
	OrderID   string
	Symbol    string
	OrderType string
	Side      string
	Status    string
	Original  decimal.Decimal
	Executed  decimal.Decimal
	Price     *decimal.Decimal
	StopPrice *decimal.Decimal
	ExpiresAt *time.Time
	Raw       []byte
}

type InstrumentPayload struct {
	Symbol     string
	Name       string
	AssetKind  string
	Currency   string
	Exchange   string
	SaxoUIC    *int64
	BaseAsset  string
	QuoteAsset string
	Status     string
}

type BalanceInfo struct {
	CashBalance         decimal.Decimal
	CollateralAvailable decimal.Decimal
	Currency            string
}

type OrderRequest struct {
	Symbol    string
	Side      string
	OrderType string
	Size      decimal.Decimal
	Price     *decimal.Decimal
}

type PlacedOrder struct {
	OrderID string
}

// Broker is the uniform capability set implemented by every adapter.
type Broker interface {
	Platform() string
	Authenticate(ctx context.Context) Result
	RefreshAuth(ctx context.Context) (TokenSet, Result)
	ListAccounts(ctx context.Context) ([]Account, Result)
	ListPositions(ctx context.Context) ([]PositionPayload, Result)
	ListTrades(ctx context.Context, limit int) ([]TradePayload, Result)
	ListPendingOrders(ctx context.Context) ([]OrderPayload, Result)
	ListInstruments(ctx context.Context, filter string) ([]InstrumentPayload, Result)
	Quote(ctx context.Context, symbol string) (decimal.Decimal, Result)
	PlaceOrder(ctx context.Context, req OrderRequest) (PlacedOrder, Result)
	CancelOrder(ctx context.Context, orderID string) Result
	OrderStatus(ctx context.Context, orderID string) (OrderPayload, Result)
	Balance(ctx context.Context) (BalanceInfo, Result)
}

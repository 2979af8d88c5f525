package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"autotrader/internal/models"
)

// Repository is the persistence surface shared by the sync services, the
// strategy engine, the token manager, and the HTTP handlers.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Users.
	GetUserByID(ctx context.Context, id uint64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListActiveUsers(ctx context.Context) ([]models.User, error)
	UpsertUser(ctx context.Context, item *models.User) error

	// Instrument catalog.
	UpsertCatalogEntries(ctx context.Context, items []models.CatalogEntry) error
	GetCatalogEntry(ctx context.Context, symbol, platform string) (*models.CatalogEntry, error)
	SearchCatalog(ctx context.Context, params SearchCatalogParams) ([]models.CatalogEntry, error)
	CountCatalogEntries(ctx context.Context, platform string) (int64, error)

	// Tradable instruments.
	UpsertTradable(ctx context.Context, item *models.TradableInstrument) error
	GetTradableByID(ctx context.Context, id uint64) (*models.TradableInstrument, error)
	GetTradableBySymbol(ctx context.Context, symbol, platform string) (*models.TradableInstrument, error)
	ListTradablesByPlatform(ctx context.Context, platform string) ([]models.TradableInstrument, error)
	UpdateTradableOpenQuantity(ctx context.Context, id uint64, qty decimal.Decimal) error

	// Enriched assets.
	GetAssetByID(ctx context.Context, id uint64) (*models.EnrichedAsset, error)
	GetAssetBySymbol(ctx context.Context, symbol string) (*models.EnrichedAsset, error)
	UpsertAsset(ctx context.Context, item *models.EnrichedAsset) error
	UpdateAssetPriceHistory(ctx context.Context, id uint64, history []byte) error

	// Broker credentials.
	GetCredentialByID(ctx context.Context, id uint64) (*models.BrokerCredential, error)
	ListCredentialsByUser(ctx context.Context, userID uint64, activeOnly bool) ([]models.BrokerCredential, error)
	ListActiveCredentials(ctx context.Context, brokerType string) ([]models.BrokerCredential, error)
	UpsertCredential(ctx context.Context, item *models.BrokerCredential) error
	UpdateCredentialTokens(ctx context.Context, id uint64, access, refresh string, expiresAt *time.Time) error

	// Positions.
	GetPositionByBrokerID(ctx context.Context, userID uint64, brokerPositionID string) (*models.Position, error)
	UpsertPosition(ctx context.Context, item *models.Position) error
	ListOpenPositions(ctx context.Context, userID uint64, platform string) ([]models.Position, error)
	CloseMissingPositions(ctx context.Context, userID uint64, platform string, seenBrokerIDs []string, closedAt time.Time) (int64, error)
	UpdatePositionQuote(ctx context.Context, id uint64, currentPrice, pnl decimal.Decimal) error
	SumOpenQuantity(ctx context.Context, tradableID uint64) (decimal.Decimal, error)

	// Trades.
	InsertTrades(ctx context.Context, items []models.Trade) (int64, error)
	ListTrades(ctx context.Context, params ListTradesParams) ([]models.Trade, error)

	// Pending orders.
	UpsertPendingOrder(ctx context.Context, item *models.PendingOrder) error
	GetPendingOrderByOrderID(ctx context.Context, orderID string) (*models.PendingOrder, error)
	CancelMissingPendingOrders(ctx context.Context, userID uint64, platform string, seenOrderIDs []string) (int64, error)
	ListPendingOrders(ctx context.Context, params ListPendingOrdersParams) ([]models.PendingOrder, error)

	// Strategies.
	UpsertStrategy(ctx context.Context, item *models.Strategy) error
	GetStrategyByID(ctx context.Context, id uint64) (*models.Strategy, error)
	ListStrategies(ctx context.Context, params ListStrategiesParams) ([]models.Strategy, error)
	ListDueStrategies(ctx context.Context, userID uint64, now time.Time) ([]models.Strategy, error)
	UpdateStrategyPortfolioQuantity(ctx context.Context, id uint64, qty decimal.Decimal) error
	UpdateStrategyRunStamps(ctx context.Context, id uint64, last, next time.Time) error
	SetStrategyStatus(ctx context.Context, id uint64, status string) error

	// Strategy executions.
	InsertStrategyExecution(ctx context.Context, item *models.StrategyExecution) error
	UpdateStrategyExecutionOrder(ctx context.Context, id uint64, size, price decimal.Decimal) error
	UpdateStrategyExecutionError(ctx context.Context, id uint64, msg string) error
	ListStrategyExecutions(ctx context.Context, params ListExecutionsParams) ([]models.StrategyExecution, error)

	// Token refresh history.
	InsertTokenRefreshHistory(ctx context.Context, item *models.TokenRefreshHistory) error
	PruneTokenRefreshHistory(ctx context.Context, before time.Time) (int64, error)
	ListTokenRefreshHistory(ctx context.Context, credentialID uint64, limit int) ([]models.TokenRefreshHistory, error)

	// Automation.
	GetAutomationConfig(ctx context.Context, userID uint64) (*models.AutomationConfig, error)
	UpsertAutomationConfig(ctx context.Context, item *models.AutomationConfig) error
	ListDueAutomationConfigs(ctx context.Context, now time.Time) ([]models.AutomationConfig, error)
	UpdateAutomationRunStamps(ctx context.Context, userID uint64, last, next time.Time) error
	InsertAutomationLog(ctx context.Context, item *models.AutomationLog) error
	ListAutomationLogs(ctx context.Context, params ListAutomationLogsParams) ([]models.AutomationLog, error)
}

type SearchCatalogParams struct {
	Query    string
	Platform *string
	Tradable *bool
	Limit    int
	Offset   int
}

type ListTradesParams struct {
	Limit      int
	Offset     int
	UserID     *uint64
	TradableID *uint64
	Platform   *string
	Since      *time.Time
	Until      *time.Time
	OrderBy    string
	Asc        *bool
}

type ListPendingOrdersParams struct {
	Limit      int
	Offset     int
	UserID     *uint64
	TradableID *uint64
	Status     *string
	OrderBy    string
	Asc        *bool
}

type ListStrategiesParams struct {
	Limit   int
	Offset  int
	UserID  *uint64
	AssetID *uint64
	Status  *string
	OrderBy string
	Asc     *bool
}

type ListExecutionsParams struct {
	Limit      int
	Offset     int
	StrategyID *uint64
	Signal     *string
	Since      *time.Time
	OrderBy    string
	Asc        *bool
}

type ListAutomationLogsParams struct {
	Limit   int
	Offset  int
	UserID  *uint64
	Status  *string
	Since   *time.Time
	OrderBy string
	Asc     *bool
}

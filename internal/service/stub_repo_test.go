package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"autotrader/internal/models"
	"autotrader/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// It implements the full interface but each test exercises only a slice of it.
type stubRepo struct {
	nextID uint64

	users       map[uint64]models.User
	catalog     map[string]models.CatalogEntry
	tradables   map[string]models.TradableInstrument
	assets      map[uint64]models.EnrichedAsset
	credentials map[uint64]models.BrokerCredential
	positions   map[string]models.Position
	trades      []models.Trade
	orders      map[string]models.PendingOrder
	strategies  map[uint64]models.Strategy
	executions  []models.StrategyExecution
	history     []models.TokenRefreshHistory
	autoConfigs map[uint64]models.AutomationConfig
	autoLogs    []models.AutomationLog
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		users:       map[uint64]models.User{},
		catalog:     map[string]models.CatalogEntry{},
		tradables:   map[string]models.TradableInstrument{},
		assets:      map[uint64]models.EnrichedAsset{},
		credentials: map[uint64]models.BrokerCredential{},
		positions:   map[string]models.Position{},
		orders:      map[string]models.PendingOrder{},
		strategies:  map[uint64]models.Strategy{},
		autoConfigs: map[uint64]models.AutomationConfig{},
	}
}

func (s *stubRepo) id() uint64 {
	s.nextID++
	return s.nextID
}

func catalogKey(symbol, platform string) string  { return symbol + "|" + platform }
func positionKey(userID uint64, id string) string { return fmt.Sprintf("%d|%s", userID, id) }

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func (s *stubRepo) GetUserByID(ctx context.Context, id uint64) (*models.User, error) {
	if u, ok := s.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (s *stubRepo) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	for _, u := range s.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) ListActiveUsers(ctx context.Context) ([]models.User, error) {
	var out []models.User
	for _, u := range s.users {
		if u.IsActive {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *stubRepo) UpsertUser(ctx context.Context, item *models.User) error {
	if item.ID == 0 {
		item.ID = s.id()
	}
	s.users[item.ID] = *item
	return nil
}

func (s *stubRepo) UpsertCatalogEntries(ctx context.Context, items []models.CatalogEntry) error {
	for _, item := range items {
		key := catalogKey(item.Symbol, item.Platform)
		if existing, ok := s.catalog[key]; ok {
			item.ID = existing.ID
		} else if item.ID == 0 {
			item.ID = s.id()
		}
		s.catalog[key] = item
	}
	return nil
}

func (s *stubRepo) GetCatalogEntry(ctx context.Context, symbol, platform string) (*models.CatalogEntry, error) {
	if entry, ok := s.catalog[catalogKey(symbol, platform)]; ok {
		return &entry, nil
	}
	return nil, nil
}

func (s *stubRepo) SearchCatalog(ctx context.Context, params repository.SearchCatalogParams) ([]models.CatalogEntry, error) {
	var out []models.CatalogEntry
	for _, entry := range s.catalog {
		out = append(out, entry)
	}
	return out, nil
}

func (s *stubRepo) CountCatalogEntries(ctx context.Context, platform string) (int64, error) {
	return int64(len(s.catalog)), nil
}

func (s *stubRepo) UpsertTradable(ctx context.Context, item *models.TradableInstrument) error {
	key := catalogKey(item.Symbol, item.Platform)
	if existing, ok := s.tradables[key]; ok {
		item.ID = existing.ID
	} else if item.ID == 0 {
		item.ID = s.id()
	}
	s.tradables[key] = *item
	return nil
}

func (s *stubRepo) GetTradableByID(ctx context.Context, id uint64) (*models.TradableInstrument, error) {
	for _, item := range s.tradables {
		if item.ID == id {
			return &item, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) GetTradableBySymbol(ctx context.Context, symbol, platform string) (*models.TradableInstrument, error) {
	if item, ok := s.tradables[catalogKey(symbol, platform)]; ok {
		return &item, nil
	}
	return nil, nil
}

func (s *stubRepo) ListTradablesByPlatform(ctx context.Context, platform string) ([]models.TradableInstrument, error) {
	var out []models.TradableInstrument
	for _, item := range s.tradables {
		if platform == "" || item.Platform == platform {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *stubRepo) UpdateTradableOpenQuantity(ctx context.Context, id uint64, qty decimal.Decimal) error {
	for key, item := range s.tradables {
		if item.ID == id {
			item.OpenQuantity = qty
			s.tradables[key] = item
		}
	}
	return nil
}

func (s *stubRepo) GetAssetByID(ctx context.Context, id uint64) (*models.EnrichedAsset, error) {
	if asset, ok := s.assets[id]; ok {
		return &asset, nil
	}
	return nil, nil
}

func (s *stubRepo) GetAssetBySymbol(ctx context.Context, symbol string) (*models.EnrichedAsset, error) {
	for _, asset := range s.assets {
		if asset.Symbol == symbol {
			return &asset, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) UpsertAsset(ctx context.Context, item *models.EnrichedAsset) error {
	if item.ID == 0 {
		item.ID = s.id()
	}
	s.assets[item.ID] = *item
	return nil
}

func (s *stubRepo) UpdateAssetPriceHistory(ctx context.Context, id uint64, history []byte) error {
	if asset, ok := s.assets[id]; ok {
		asset.PriceHistory = history
		s.assets[id] = asset
	}
	return nil
}

func (s *stubRepo) GetCredentialByID(ctx context.Context, id uint64) (*models.BrokerCredential, error) {
	if cred, ok := s.credentials[id]; ok {
		return &cred, nil
	}
	return nil, nil
}

func (s *stubRepo) ListCredentialsByUser(ctx context.Context, userID uint64, activeOnly bool) ([]models.BrokerCredential, error) {
	var out []models.BrokerCredential
	for _, cred := range s.credentials {
		if cred.UserID != userID {
			continue
		}
		if activeOnly && !cred.IsActive {
			continue
		}
		out = append(out, cred)
	}
	return out, nil
}

func (s *stubRepo) ListActiveCredentials(ctx context.Context, brokerType string) ([]models.BrokerCredential, error) {
	var out []models.BrokerCredential
	for _, cred := range s.credentials {
		if !cred.IsActive {
			continue
		}
		if brokerType != "" && cred.BrokerType != brokerType {
			continue
		}
		out = append(out, cred)
	}
	return out, nil
}

func (s *stubRepo) UpsertCredential(ctx context.Context, item *models.BrokerCredential) error {
	if item.ID == 0 {
		item.ID = s.id()
	}
	s.credentials[item.ID] = *item
	return nil
}

func (s *stubRepo) UpdateCredentialTokens(ctx context.Context, id uint64, access, refresh string, expiresAt *time.Time) error {
	if cred, ok := s.credentials[id]; ok {
		cred.AccessToken = access
		cred.RefreshToken = refresh
		cred.TokenExpiresAt = expiresAt
		s.credentials[id] = cred
	}
	return nil
}

func (s *stubRepo) GetPositionByBrokerID(ctx context.Context, userID uint64, brokerPositionID string) (*models.Position, error) {
	if pos, ok := s.positions[positionKey(userID, brokerPositionID)]; ok {
		return &pos, nil
	}
	return nil, nil
}

func (s *stubRepo) UpsertPosition(ctx context.Context, item *models.Position) error {
	key := positionKey(item.UserID, item.BrokerPositionID)
	if existing, ok := s.positions[key]; ok {
		item.ID = existing.ID
	} else if item.ID == 0 {
		item.ID = s.id()
	}
	s.positions[key] = *item
	return nil
}

func (s *stubRepo) ListOpenPositions(ctx context.Context, userID uint64, platform string) ([]models.Position, error) {
	var out []models.Position
	for _, pos := range s.positions {
		if pos.Status != models.PositionOpen {
			continue
		}
		if userID != 0 && pos.UserID != userID {
			continue
		}
		if platform != "" && !s.tradableOnPlatform(pos.TradableID, platform) {
			continue
		}
		out = append(out, pos)
	}
	return out, nil
}

func (s *stubRepo) tradableOnPlatform(id uint64, platform string) bool {
	for _, item := range s.tradables {
		if item.ID == id {
			return item.Platform == platform
		}
	}
	return false
}

func (s *stubRepo) CloseMissingPositions(ctx context.Context, userID uint64, platform string, seenBrokerIDs []string, closedAt time.Time) (int64, error) {
	seen := map[string]bool{}
	for _, id := range seenBrokerIDs {
		seen[id] = true
	}
	var closed int64
	for key, pos := range s.positions {
		if pos.UserID != userID || pos.Status != models.PositionOpen {
			continue
		}
		if platform != "" && !s.tradableOnPlatform(pos.TradableID, platform) {
			continue
		}
		if seen[pos.BrokerPositionID] {
			continue
		}
		pos.Status = models.PositionClosed
		pos.ClosedAt = &closedAt
		s.positions[key] = pos
		closed++
	}
	return closed, nil
}

func (s *stubRepo) UpdatePositionQuote(ctx context.Context, id uint64, currentPrice, pnl decimal.Decimal) error {
	for key, pos := range s.positions {
		if pos.ID == id {
			pos.CurrentPrice = currentPrice
			pos.PnL = pnl
			s.positions[key] = pos
		}
	}
	return nil
}

func (s *stubRepo) SumOpenQuantity(ctx context.Context, tradableID uint64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, pos := range s.positions {
		if pos.TradableID == tradableID && pos.Status == models.PositionOpen {
			total = total.Add(pos.Size)
		}
	}
	return total, nil
}

// InsertTrades mirrors the database's composite-key conflict handling:
// rows matching an existing (user, tradable, size, price, side, time)
// are dropped.
func (s *stubRepo) InsertTrades(ctx context.Context, items []models.Trade) (int64, error) {
	var inserted int64
	for _, item := range items {
		dup := false
		for _, existing := range s.trades {
			if existing.UserID == item.UserID &&
				existing.TradableID == item.TradableID &&
				existing.Size.Equal(item.Size) &&
				existing.Price.Equal(item.Price) &&
				existing.Side == item.Side &&
				existing.ExecutedAt.Equal(item.ExecutedAt) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		item.ID = s.id()
		s.trades = append(s.trades, item)
		inserted++
	}
	return inserted, nil
}

func (s *stubRepo) ListTrades(ctx context.Context, params repository.ListTradesParams) ([]models.Trade, error) {
	return s.trades, nil
}

func (s *stubRepo) UpsertPendingOrder(ctx context.Context, item *models.PendingOrder) error {
	if existing, ok := s.orders[item.OrderID]; ok {
		item.ID = existing.ID
	} else if item.ID == 0 {
		item.ID = s.id()
	}
	s.orders[item.OrderID] = *item
	return nil
}

func (s *stubRepo) GetPendingOrderByOrderID(ctx context.Context, orderID string) (*models.PendingOrder, error) {
	if order, ok := s.orders[orderID]; ok {
		return &order, nil
	}
	return nil, nil
}

func (s *stubRepo) CancelMissingPendingOrders(ctx context.Context, userID uint64, platform string, seenOrderIDs []string) (int64, error) {
	seen := map[string]bool{}
	for _, id := range seenOrderIDs {
		seen[id] = true
	}
	var cancelled int64
	for key, order := range s.orders {
		if order.UserID != userID || seen[order.OrderID] {
			continue
		}
		if order.Status == models.OrderCancelled {
			continue
		}
		order.Status = models.OrderCancelled
		s.orders[key] = order
		cancelled++
	}
	return cancelled, nil
}

func (s *stubRepo) ListPendingOrders(ctx context.Context, params repository.ListPendingOrdersParams) ([]models.PendingOrder, error) {
	var out []models.PendingOrder
	for _, order := range s.orders {
		out = append(out, order)
	}
	return out, nil
}

func (s *stubRepo) UpsertStrategy(ctx context.Context, item *models.Strategy) error {
	if item.ID == 0 {
		item.ID = s.id()
	}
	s.strategies[item.ID] = *item
	return nil
}

func (s *stubRepo) GetStrategyByID(ctx context.Context, id uint64) (*models.Strategy, error) {
	if item, ok := s.strategies[id]; ok {
		return &item, nil
	}
	return nil, nil
}

func (s *stubRepo) ListStrategies(ctx context.Context, params repository.ListStrategiesParams) ([]models.Strategy, error) {
	var out []models.Strategy
	for _, item := range s.strategies {
		if params.UserID != nil && item.UserID != *params.UserID {
			continue
		}
		if params.Status != nil && item.Status != *params.Status {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *stubRepo) ListDueStrategies(ctx context.Context, userID uint64, now time.Time) ([]models.Strategy, error) {
	var out []models.Strategy
	for _, item := range s.strategies {
		if item.UserID != userID || item.Status != models.StrategyActive {
			continue
		}
		if item.NextExecuteAt != nil && item.NextExecuteAt.After(now) {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *stubRepo) UpdateStrategyPortfolioQuantity(ctx context.Context, id uint64, qty decimal.Decimal) error {
	if item, ok := s.strategies[id]; ok {
		item.PortfolioQuantity = qty
		s.strategies[id] = item
	}
	return nil
}

func (s *stubRepo) UpdateStrategyRunStamps(ctx context.Context, id uint64, last, next time.Time) error {
	if item, ok := s.strategies[id]; ok {
		item.LastExecutedAt = &last
		item.NextExecuteAt = &next
		s.strategies[id] = item
	}
	return nil
}

func (s *stubRepo) SetStrategyStatus(ctx context.Context, id uint64, status string) error {
	if item, ok := s.strategies[id]; ok {
		item.Status = status
		s.strategies[id] = item
	}
	return nil
}

func (s *stubRepo) InsertStrategyExecution(ctx context.Context, item *models.StrategyExecution) error {
	if item.ID == 0 {
		item.ID = s.id()
	}
	s.executions = append(s.executions, *item)
	return nil
}

func (s *stubRepo) UpdateStrategyExecutionOrder(ctx context.Context, id uint64, size, price decimal.Decimal) error {
	for i := range s.executions {
		if s.executions[i].ID == id {
			s.executions[i].OrderPlaced = true
			s.executions[i].OrderSize = &size
			s.executions[i].OrderPrice = &price
		}
	}
	return nil
}

func (s *stubRepo) UpdateStrategyExecutionError(ctx context.Context, id uint64, msg string) error {
	for i := range s.executions {
		if s.executions[i].ID == id {
			s.executions[i].Error = msg
		}
	}
	return nil
}

func (s *stubRepo) ListStrategyExecutions(ctx context.Context, params repository.ListExecutionsParams) ([]models.StrategyExecution, error) {
	return s.executions, nil
}

func (s *stubRepo) InsertTokenRefreshHistory(ctx context.Context, item *models.TokenRefreshHistory) error {
	if item.ID == 0 {
		item.ID = s.id()
	}
	s.history = append(s.history, *item)
	return nil
}

func (s *stubRepo) PruneTokenRefreshHistory(ctx context.Context, before time.Time) (int64, error) {
	var kept []models.TokenRefreshHistory
	var pruned int64
	for _, item := range s.history {
		if item.AttemptedAt.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, item)
	}
	s.history = kept
	return pruned, nil
}

func (s *stubRepo) ListTokenRefreshHistory(ctx context.Context, credentialID uint64, limit int) ([]models.TokenRefreshHistory, error) {
	var out []models.TokenRefreshHistory
	for _, item := range s.history {
		if item.CredentialID == credentialID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *stubRepo) GetAutomationConfig(ctx context.Context, userID uint64) (*models.AutomationConfig, error) {
	if cfg, ok := s.autoConfigs[userID]; ok {
		return &cfg, nil
	}
	return nil, nil
}

func (s *stubRepo) UpsertAutomationConfig(ctx context.Context, item *models.AutomationConfig) error {
	if item.ID == 0 {
		item.ID = s.id()
	}
	s.autoConfigs[item.UserID] = *item
	return nil
}

func (s *stubRepo) ListDueAutomationConfigs(ctx context.Context, now time.Time) ([]models.AutomationConfig, error) {
	var out []models.AutomationConfig
	for _, cfg := range s.autoConfigs {
		if !cfg.IsActive || cfg.IsPaused {
			continue
		}
		if cfg.NextRunAt != nil && cfg.NextRunAt.After(now) {
			continue
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (s *stubRepo) UpdateAutomationRunStamps(ctx context.Context, userID uint64, last, next time.Time) error {
	if cfg, ok := s.autoConfigs[userID]; ok {
		cfg.LastRunAt = &last
		cfg.NextRunAt = &next
		s.autoConfigs[userID] = cfg
	}
	return nil
}

func (s *stubRepo) InsertAutomationLog(ctx context.Context, item *models.AutomationLog) error {
	if item.ID == 0 {
		item.ID = s.id()
	}
	s.autoLogs = append(s.autoLogs, *item)
	return nil
}

func (s *stubRepo) ListAutomationLogs(ctx context.Context, params repository.ListAutomationLogsParams) ([]models.AutomationLog, error) {
	return s.autoLogs, nil
}

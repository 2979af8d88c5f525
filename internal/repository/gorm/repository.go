package gormrepository

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"autotrader/internal/models"
	"autotrader/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- users ------------------------------------------------------------------

func (s *Store) GetUserByID(ctx context.Context, id uint64) (*models.User, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.User
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil
	}
	var item models.User
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListActiveUsers(ctx context.Context) ([]models.User, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.User
	if err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("is_active = ?", true).
		Order("id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpsertUser(ctx context.Context, item *models.User) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Username) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"is_active",
			"updated_at",
		}),
	}).Create(item).Error
}

// --- instrument catalog -----------------------------------------------------

func (s *Store) UpsertCatalogEntries(ctx context.Context, items []models.CatalogEntry) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name",
			"asset_kind",
			"venue",
			"currency",
			"exchange",
			"is_tradable",
			"saxo_uic",
			"saxo_exchange_id",
			"saxo_country_code",
			"binance_base_asset",
			"binance_quote_asset",
			"binance_status",
			"last_seen_at",
			"updated_at",
		}),
	}).CreateInBatches(items, 200).Error
}

func (s *Store) GetCatalogEntry(ctx context.Context, symbol, platform string) (*models.CatalogEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	symbol = strings.TrimSpace(symbol)
	platform = strings.TrimSpace(platform)
	if symbol == "" || platform == "" {
		return nil, nil
	}
	var item models.CatalogEntry
	err := s.db.WithContext(ctx).
		Model(&models.CatalogEntry{}).
		Where("symbol = ? AND platform = ?", symbol, platform).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SearchCatalog(ctx context.Context, params repository.SearchCatalogParams) ([]models.CatalogEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.CatalogEntry{})
	if q := strings.TrimSpace(params.Query); q != "" {
		pattern := "%" + q + "%"
		query = query.Where("symbol ILIKE ? OR name ILIKE ?", pattern, pattern)
	}
	if params.Platform != nil && strings.TrimSpace(*params.Platform) != "" {
		query = query.Where("platform = ?", strings.TrimSpace(*params.Platform))
	}
	if params.Tradable != nil {
		query = query.Where("is_tradable = ?", *params.Tradable)
	}
	limit := normalizeLimit(params.Limit, 50)
	offset := normalizeOffset(params.Offset)
	var items []models.CatalogEntry
	if err := query.Order("symbol asc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountCatalogEntries(ctx context.Context, platform string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := s.db.WithContext(ctx).Model(&models.CatalogEntry{})
	if platform = strings.TrimSpace(platform); platform != "" {
		query = query.Where("platform = ?", platform)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// --- tradable instruments ---------------------------------------------------

func (s *Store) UpsertTradable(ctx context.Context, item *models.TradableInstrument) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Symbol) == "" || strings.TrimSpace(item.Platform) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"catalog_entry_id",
			"name",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetTradableByID(ctx context.Context, id uint64) (*models.TradableInstrument, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.TradableInstrument
	err := s.db.WithContext(ctx).
		Model(&models.TradableInstrument{}).
		Where("id = ?", id).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetTradableBySymbol(ctx context.Context, symbol, platform string) (*models.TradableInstrument, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	symbol = strings.TrimSpace(symbol)
	platform = strings.TrimSpace(platform)
	if symbol == "" || platform == "" {
		return nil, nil
	}
	var item models.TradableInstrument
	err := s.db.WithContext(ctx).
		Model(&models.TradableInstrument{}).
		Where("symbol = ? AND platform = ?", symbol, platform).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListTradablesByPlatform(ctx context.Context, platform string) ([]models.TradableInstrument, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.TradableInstrument{})
	if platform = strings.TrimSpace(platform); platform != "" {
		query = query.Where("platform = ?", platform)
	}
	var items []models.TradableInstrument
	if err := query.Order("symbol asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateTradableOpenQuantity(ctx context.Context, id uint64, qty decimal.Decimal) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.TradableInstrument{}).
		Where("id = ?", id).
		Updates(map[string]any{"open_quantity": qty, "updated_at": time.Now().UTC()}).
		Error
}

// --- enriched assets --------------------------------------------------------

func (s *Store) GetAssetByID(ctx context.Context, id uint64) (*models.EnrichedAsset, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.EnrichedAsset
	err := s.db.WithContext(ctx).Model(&models.EnrichedAsset{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetAssetBySymbol(ctx context.Context, symbol string) (*models.EnrichedAsset, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, nil
	}
	var item models.EnrichedAsset
	err := s.db.WithContext(ctx).Model(&models.EnrichedAsset{}).Where("symbol = ?", symbol).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertAsset(ctx context.Context, item *models.EnrichedAsset) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Symbol) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name",
			"sector",
			"industry",
			"market_cap",
			"catalog_entry_id",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) UpdateAssetPriceHistory(ctx context.Context, id uint64, history []byte) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.EnrichedAsset{}).
		Where("id = ?", id).
		Updates(map[string]any{"price_history": history, "updated_at": time.Now().UTC()}).
		Error
}

// --- broker credentials -----------------------------------------------------

func (s *Store) GetCredentialByID(ctx context.Context, id uint64) (*models.BrokerCredential, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.BrokerCredential
	err := s.db.WithContext(ctx).Model(&models.BrokerCredential{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListCredentialsByUser(ctx context.Context, userID uint64, activeOnly bool) ([]models.BrokerCredential, error) {
	if s == nil || s.db == nil || userID == 0 {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.BrokerCredential{}).Where("user_id = ?", userID)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var items []models.BrokerCredential
	if err := query.Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListActiveCredentials(ctx context.Context, brokerType string) ([]models.BrokerCredential, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.BrokerCredential{}).
		Where("is_active = ?", true)
	if brokerType = strings.TrimSpace(brokerType); brokerType != "" {
		query = query.Where("broker_type = ?", brokerType)
	}
	var items []models.BrokerCredential
	if err := query.Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpsertCredential(ctx context.Context, item *models.BrokerCredential) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.UserID == 0 || strings.TrimSpace(item.BrokerType) == "" || strings.TrimSpace(item.Name) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "broker_type"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"environment",
			"client_id",
			"client_secret",
			"redirect_uri",
			"access_token",
			"refresh_token",
			"token_expires_at",
			"api_key",
			"api_secret",
			"testnet",
			"auto_refresh_enabled",
			"auto_refresh_frequency",
			"is_active",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) UpdateCredentialTokens(ctx context.Context, id uint64, access, refresh string, expiresAt *time.Time) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.BrokerCredential{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"access_token":     access,
			"refresh_token":    refresh,
			"token_expires_at": expiresAt,
			"updated_at":       time.Now().UTC(),
		}).
		Error
}

// --- positions --------------------------------------------------------------

func (s *Store) GetPositionByBrokerID(ctx context.Context, userID uint64, brokerPositionID string) (*models.Position, error) {
	if s == nil || s.db == nil || userID == 0 {
		return nil, nil
	}
	brokerPositionID = strings.TrimSpace(brokerPositionID)
	if brokerPositionID == "" {
		return nil, nil
	}
	var item models.Position
	err := s.db.WithContext(ctx).
		Model(&models.Position{}).
		Where("user_id = ? AND broker_position_id = ?", userID, brokerPositionID).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertPosition(ctx context.Context, item *models.Position) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.UserID == 0 || strings.TrimSpace(item.BrokerPositionID) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "broker_position_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"tradable_id",
			"side",
			"size",
			"entry_price",
			"current_price",
			"pnl",
			"status",
			"opened_at",
			"closed_at",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListOpenPositions(ctx context.Context, userID uint64, platform string) ([]models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.Position{}).
		Where("status = ?", models.PositionOpen)
	if userID != 0 {
		query = query.Where("user_id = ?", userID)
	}
	if platform = strings.TrimSpace(platform); platform != "" {
		query = query.Where(
			"tradable_id IN (?)",
			s.db.Model(&models.TradableInstrument{}).Select("id").Where("platform = ?", platform),
		)
	}
	var items []models.Position
	if err := query.Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CloseMissingPositions(ctx context.Context, userID uint64, platform string, seenBrokerIDs []string, closedAt time.Time) (int64, error) {
	if s == nil || s.db == nil || userID == 0 {
		return 0, nil
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	query := s.db.WithContext(ctx).
		Model(&models.Position{}).
		Where("user_id = ?", userID).
		Where("status = ?", models.PositionOpen)
	if platform = strings.TrimSpace(platform); platform != "" {
		query = query.Where(
			"tradable_id IN (?)",
			s.db.Model(&models.TradableInstrument{}).Select("id").Where("platform = ?", platform),
		)
	}
	if ids := cleanStrings(seenBrokerIDs); len(ids) > 0 {
		query = query.Where("broker_position_id NOT IN ?", ids)
	}
	res := query.Updates(map[string]any{
		"status":     models.PositionClosed,
		"closed_at":  closedAt,
		"updated_at": time.Now().UTC(),
	})
	return res.RowsAffected, res.Error
}

func (s *Store) UpdatePositionQuote(ctx context.Context, id uint64, currentPrice, pnl decimal.Decimal) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Position{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"current_price": currentPrice,
			"pnl":           pnl,
			"updated_at":    time.Now().UTC(),
		}).
		Error
}

func (s *Store) SumOpenQuantity(ctx context.Context, tradableID uint64) (decimal.Decimal, error) {
	if s == nil || s.db == nil || tradableID == 0 {
		return decimal.Zero, nil
	}
	var raw *string
	err := s.db.WithContext(ctx).
		Model(&models.Position{}).
		Select("SUM(size)").
		Where("tradable_id = ?", tradableID).
		Where("status = ?", models.PositionOpen).
		Scan(&raw).Error
	if err != nil {
		return decimal.Zero, err
	}
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return decimal.Zero, nil
	}
	sum, err := decimal.NewFromString(strings.TrimSpace(*raw))
	if err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

// --- trades -----------------------------------------------------------------

func (s *Store) InsertTrades(ctx context.Context, items []models.Trade) (int64, error) {
	if s == nil || s.db == nil || len(items) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "tradable_id"},
			{Name: "size"},
			{Name: "price"},
			{Name: "side"},
			{Name: "executed_at"},
		},
		DoNothing: true,
	}).CreateInBatches(items, 200)
	return res.RowsAffected, res.Error
}

func (s *Store) ListTrades(ctx context.Context, params repository.ListTradesParams) ([]models.Trade, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Trade{})
	if params.UserID != nil && *params.UserID != 0 {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if params.TradableID != nil && *params.TradableID != 0 {
		query = query.Where("tradable_id = ?", *params.TradableID)
	}
	if params.Platform != nil && strings.TrimSpace(*params.Platform) != "" {
		query = query.Where("platform = ?", strings.TrimSpace(*params.Platform))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("executed_at >= ?", *params.Since)
	}
	if params.Until != nil && !params.Until.IsZero() {
		query = query.Where("executed_at <= ?", *params.Until)
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "executed_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Trade
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- pending orders ---------------------------------------------------------

func (s *Store) UpsertPendingOrder(ctx context.Context, item *models.PendingOrder) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.OrderID) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"tradable_id",
			"order_type",
			"side",
			"status",
			"original_quantity",
			"executed_quantity",
			"remaining_quantity",
			"price",
			"stop_price",
			"expires_at",
			"raw_payload",
			"placed_at",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetPendingOrderByOrderID(ctx context.Context, orderID string) (*models.PendingOrder, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, nil
	}
	var item models.PendingOrder
	err := s.db.WithContext(ctx).
		Model(&models.PendingOrder{}).
		Where("order_id = ?", orderID).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) CancelMissingPendingOrders(ctx context.Context, userID uint64, platform string, seenOrderIDs []string) (int64, error) {
	if s == nil || s.db == nil || userID == 0 {
		return 0, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.PendingOrder{}).
		Where("user_id = ?", userID).
		Where("status IN ?", []string{models.OrderWorking, models.OrderPartiallyFilled})
	if platform = strings.TrimSpace(platform); platform != "" {
		query = query.Where(
			"tradable_id IN (?)",
			s.db.Model(&models.TradableInstrument{}).Select("id").Where("platform = ?", platform),
		)
	}
	if ids := cleanStrings(seenOrderIDs); len(ids) > 0 {
		query = query.Where("order_id NOT IN ?", ids)
	}
	res := query.Updates(map[string]any{
		"status":     models.OrderCancelled,
		"updated_at": time.Now().UTC(),
	})
	return res.RowsAffected, res.Error
}

func (s *Store) ListPendingOrders(ctx context.Context, params repository.ListPendingOrdersParams) ([]models.PendingOrder, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.PendingOrder{})
	if params.UserID != nil && *params.UserID != 0 {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if params.TradableID != nil && *params.TradableID != 0 {
		query = query.Where("tradable_id = ?", *params.TradableID)
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "updated_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.PendingOrder
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- strategies -------------------------------------------------------------

func (s *Store) UpsertStrategy(ctx context.Context, item *models.Strategy) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.UserID == 0 || item.AssetID == 0 || strings.TrimSpace(item.Name) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "asset_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"algorithm",
			"params",
			"credential_id",
			"execution_mode",
			"status",
			"check_frequency",
			"target_min_quantity",
			"target_max_quantity",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetStrategyByID(ctx context.Context, id uint64) (*models.Strategy, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Strategy
	err := s.db.WithContext(ctx).Model(&models.Strategy{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListStrategies(ctx context.Context, params repository.ListStrategiesParams) ([]models.Strategy, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Strategy{})
	if params.UserID != nil && *params.UserID != 0 {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if params.AssetID != nil && *params.AssetID != 0 {
		query = query.Where("asset_id = ?", *params.AssetID)
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "id")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Strategy
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListDueStrategies(ctx context.Context, userID uint64, now time.Time) ([]models.Strategy, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	query := s.db.WithContext(ctx).
		Model(&models.Strategy{}).
		Where("status = ?", models.StrategyActive).
		Where("next_execute_at IS NULL OR next_execute_at <= ?", now)
	if userID != 0 {
		query = query.Where("user_id = ?", userID)
	}
	var items []models.Strategy
	if err := query.Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateStrategyPortfolioQuantity(ctx context.Context, id uint64, qty decimal.Decimal) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Strategy{}).
		Where("id = ?", id).
		Updates(map[string]any{"portfolio_quantity": qty, "updated_at": time.Now().UTC()}).
		Error
}

func (s *Store) UpdateStrategyRunStamps(ctx context.Context, id uint64, last, next time.Time) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Strategy{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_executed_at": last,
			"next_execute_at":  next,
			"updated_at":       time.Now().UTC(),
		}).
		Error
}

func (s *Store) SetStrategyStatus(ctx context.Context, id uint64, status string) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	status = strings.TrimSpace(status)
	if status == "" {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Strategy{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()}).
		Error
}

// --- strategy executions ----------------------------------------------------

func (s *Store) InsertStrategyExecution(ctx context.Context, item *models.StrategyExecution) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) UpdateStrategyExecutionOrder(ctx context.Context, id uint64, size, price decimal.Decimal) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.StrategyExecution{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"order_placed": true,
			"order_size":   size,
			"order_price":  price,
		}).
		Error
}

func (s *Store) UpdateStrategyExecutionError(ctx context.Context, id uint64, msg string) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.StrategyExecution{}).
		Where("id = ?", id).
		Update("error", msg).
		Error
}

func (s *Store) ListStrategyExecutions(ctx context.Context, params repository.ListExecutionsParams) ([]models.StrategyExecution, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.StrategyExecution{})
	if params.StrategyID != nil && *params.StrategyID != 0 {
		query = query.Where("strategy_id = ?", *params.StrategyID)
	}
	if params.Signal != nil && strings.TrimSpace(*params.Signal) != "" {
		query = query.Where("signal = ?", strings.TrimSpace(*params.Signal))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("executed_at >= ?", *params.Since)
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "executed_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.StrategyExecution
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- token refresh history --------------------------------------------------

func (s *Store) InsertTokenRefreshHistory(ctx context.Context, item *models.TokenRefreshHistory) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) PruneTokenRefreshHistory(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil || before.IsZero() {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("attempted_at < ?", before).
		Delete(&models.TokenRefreshHistory{})
	return res.RowsAffected, res.Error
}

func (s *Store) ListTokenRefreshHistory(ctx context.Context, credentialID uint64, limit int) ([]models.TokenRefreshHistory, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.TokenRefreshHistory{})
	if credentialID != 0 {
		query = query.Where("credential_id = ?", credentialID)
	}
	limit = normalizeLimit(limit, 50)
	var items []models.TokenRefreshHistory
	if err := query.Order("attempted_at desc").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- automation -------------------------------------------------------------

func (s *Store) GetAutomationConfig(ctx context.Context, userID uint64) (*models.AutomationConfig, error) {
	if s == nil || s.db == nil || userID == 0 {
		return nil, nil
	}
	var item models.AutomationConfig
	err := s.db.WithContext(ctx).
		Model(&models.AutomationConfig{}).
		Where("user_id = ?", userID).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertAutomationConfig(ctx context.Context, item *models.AutomationConfig) error {
	if s == nil || s.db == nil || item == nil || item.UserID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"is_active",
			"is_paused",
			"frequency_minutes",
			"auto_refresh_tokens",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListDueAutomationConfigs(ctx context.Context, now time.Time) ([]models.AutomationConfig, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	var items []models.AutomationConfig
	if err := s.db.WithContext(ctx).
		Model(&models.AutomationConfig{}).
		Where("is_active = ?", true).
		Where("is_paused = ?", false).
		Where("next_run_at IS NULL OR next_run_at <= ?", now).
		Order("user_id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateAutomationRunStamps(ctx context.Context, userID uint64, last, next time.Time) error {
	if s == nil || s.db == nil || userID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.AutomationConfig{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"last_run_at": last,
			"next_run_at": next,
			"updated_at":  time.Now().UTC(),
		}).
		Error
}

func (s *Store) InsertAutomationLog(ctx context.Context, item *models.AutomationLog) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListAutomationLogs(ctx context.Context, params repository.ListAutomationLogsParams) ([]models.AutomationLog, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.AutomationLog{})
	if params.UserID != nil && *params.UserID != 0 {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("started_at >= ?", *params.Since)
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "started_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.AutomationLog
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, raw := range items {
		val := strings.TrimSpace(raw)
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

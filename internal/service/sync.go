package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"autotrader/internal/broker"
	"autotrader/internal/models"
	"autotrader/internal/repository"
)

// SyncService reconciles local positions, trades, and pending orders
// against broker snapshots. Ingest is idempotent: re-running a sync with
// identical upstream payloads changes nothing.
type SyncService struct {
	Repo    repository.Repository
	Logger  *zap.Logger
	Factory BrokerFactory

	// Restores the legacy prefix-based portfolio matching when set.
	PrefixMatching bool
	TradeLimit     int
}

func resultErr(op string, res broker.Result) error {
	return fmt.Errorf("%s: %s: %s", op, res.Kind, res.Detail)
}

// SyncPositions pulls the position snapshot for one credential and
// reconciles it. Returns the number of newly created positions.
func (s *SyncService) SyncPositions(ctx context.Context, cred *models.BrokerCredential) (int, error) {
	if s == nil || s.Repo == nil || cred == nil {
		return 0, nil
	}
	adapter := s.adapter(cred)
	if adapter == nil {
		return 0, fmt.Errorf("no adapter for broker type %q", cred.BrokerType)
	}
	payloads, res := adapter.ListPositions(ctx)
	if !res.OK {
		return 0, resultErr("list positions", res)
	}

	platform := adapter.Platform()
	created := 0
	seen := make([]string, 0, len(payloads))
	touched := map[uint64]struct{}{}
	for _, payload := range payloads {
		tradable, err := s.resolveTradable(ctx, payload.Symbol, payload.Name, platform)
		if err != nil {
			return created, err
		}
		if tradable == nil {
			if s.Logger != nil {
				s.Logger.Warn("skipping position without resolvable instrument",
					zap.String("symbol", payload.Symbol), zap.String("platform", platform))
			}
			continue
		}
		id := brokerPositionID(payload, platform, tradable.Name)
		if id == "" {
			continue
		}
		seen = append(seen, id)
		touched[tradable.ID] = struct{}{}

		existing, err := s.Repo.GetPositionByBrokerID(ctx, cred.UserID, id)
		if err != nil {
			return created, err
		}
		if existing != nil {
			// Known position: ingest is a no-op.
			continue
		}
		item := &models.Position{
			UserID:           cred.UserID,
			TradableID:       tradable.ID,
			BrokerPositionID: id,
			Side:             payload.Side,
			Size:             payload.Size,
			EntryPrice:       payload.EntryPrice,
			CurrentPrice:     payload.CurrentPrice,
			Status:           models.PositionOpen,
			OpenedAt:         payload.OpenedAt,
		}
		if err := s.Repo.UpsertPosition(ctx, item); err != nil {
			return created, err
		}
		created++
	}

	closed, err := s.Repo.CloseMissingPositions(ctx, cred.UserID, platform, seen, time.Now().UTC())
	if err != nil {
		return created, err
	}
	if closed > 0 && s.Logger != nil {
		s.Logger.Info("closed positions missing from snapshot",
			zap.Int64("count", closed), zap.String("platform", platform))
	}

	if err := s.refreshQuantities(ctx, touched); err != nil {
		return created, err
	}
	return created, nil
}

// brokerPositionID applies the platform-specific identity rule.
func brokerPositionID(payload broker.PositionPayload, platform, tradableName string) string {
	switch platform {
	case models.PlatformSaxo:
		// The adapter already skips payloads without a source order id.
		return strings.TrimSpace(payload.SourceOrderID)
	case models.PlatformBinance:
		return NormalizeSymbol(payload.Symbol)
	default:
		return fmt.Sprintf("%s (%s)", tradableName, platform)
	}
}

// SyncTrades ingests the trade history for one credential. Returns the
// number of rows actually inserted; duplicates are dropped by the
// composite key.
func (s *SyncService) SyncTrades(ctx context.Context, cred *models.BrokerCredential) (int64, error) {
	if s == nil || s.Repo == nil || cred == nil {
		return 0, nil
	}
	adapter := s.adapter(cred)
	if adapter == nil {
		return 0, fmt.Errorf("no adapter for broker type %q", cred.BrokerType)
	}
	limit := s.TradeLimit
	if limit <= 0 {
		limit = 100
	}
	payloads, res := adapter.ListTrades(ctx, limit)
	if !res.OK {
		return 0, resultErr("list trades", res)
	}
	platform := adapter.Platform()
	rows := make([]models.Trade, 0, len(payloads))
	for _, payload := range payloads {
		if payload.Size.IsZero() {
			continue
		}
		tradable, err := s.resolveTradable(ctx, payload.Symbol, payload.Name, platform)
		if err != nil {
			return 0, err
		}
		if tradable == nil {
			continue
		}
		rows = append(rows, models.Trade{
			UserID:     cred.UserID,
			TradableID: tradable.ID,
			Size:       payload.Size,
			Price:      payload.Price,
			Side:       payload.Side,
			ExecutedAt: payload.ExecutedAt.UTC(),
			Platform:   platform,
		})
	}
	return s.Repo.InsertTrades(ctx, rows)
}

// SyncPendingOrders upserts the broker's resting orders and cancels
// local rows the broker no longer reports.
func (s *SyncService) SyncPendingOrders(ctx context.Context, cred *models.BrokerCredential) (int, error) {
	if s == nil || s.Repo == nil || cred == nil {
		return 0, nil
	}
	adapter := s.adapter(cred)
	if adapter == nil {
		return 0, fmt.Errorf("no adapter for broker type %q", cred.BrokerType)
	}
	payloads, res := adapter.ListPendingOrders(ctx)
	if !res.OK {
		return 0, resultErr("list pending orders", res)
	}
	platform := adapter.Platform()
	seen := make([]string, 0, len(payloads))
	upserted := 0
	for _, payload := range payloads {
		if payload.OrderID == "" {
			continue
		}
		tradable, err := s.resolveTradable(ctx, payload.Symbol, payload.Symbol, platform)
		if err != nil {
			return upserted, err
		}
		if tradable == nil {
			continue
		}
		item := &models.PendingOrder{
			UserID:            cred.UserID,
			TradableID:        tradable.ID,
			OrderID:           payload.OrderID,
			OrderType:         payload.OrderType,
			Side:              payload.Side,
			Status:            payload.Status,
			OriginalQuantity:  payload.Original,
			ExecutedQuantity:  payload.Executed,
			RemainingQuantity: payload.Original.Sub(payload.Executed),
			Price:             payload.Price,
			StopPrice:         payload.StopPrice,
			ExpiresAt:         payload.ExpiresAt,
			RawPayload:        payload.Raw,
		}
		if item.RemainingQuantity.IsNegative() {
			item.RemainingQuantity = decimal.Zero
		}
		if err := s.Repo.UpsertPendingOrder(ctx, item); err != nil {
			return upserted, err
		}
		seen = append(seen, payload.OrderID)
		upserted++
	}
	if _, err := s.Repo.CancelMissingPendingOrders(ctx, cred.UserID, platform, seen); err != nil {
		return upserted, err
	}
	return upserted, nil
}

// resolveTradable maps a broker symbol to a tradable instrument,
// creating the catalog entry and the tradable on first sight.
func (s *SyncService) resolveTradable(ctx context.Context, rawSymbol, name, platform string) (*models.TradableInstrument, error) {
	symbol := NormalizeSymbol(rawSymbol)
	if symbol == "" {
		return nil, nil
	}

	var entry *models.CatalogEntry
	for _, candidate := range symbolCandidates(rawSymbol, platform) {
		found, err := s.Repo.GetCatalogEntry(ctx, candidate, platform)
		if err != nil {
			return nil, err
		}
		if found != nil {
			entry = found
			break
		}
	}
	if entry == nil {
		item := models.CatalogEntry{
			Symbol:     symbol,
			Name:       strings.TrimSpace(name),
			Platform:   platform,
			IsTradable: true,
			LastSeenAt: time.Now().UTC(),
		}
		if item.Name == "" {
			item.Name = symbol
		}
		if err := s.Repo.UpsertCatalogEntries(ctx, []models.CatalogEntry{item}); err != nil {
			return nil, err
		}
		created, err := s.Repo.GetCatalogEntry(ctx, symbol, platform)
		if err != nil || created == nil {
			return nil, err
		}
		entry = created
	}

	tradable, err := s.Repo.GetTradableBySymbol(ctx, entry.Symbol, platform)
	if err != nil {
		return nil, err
	}
	if tradable != nil {
		return tradable, nil
	}
	item := &models.TradableInstrument{
		CatalogEntryID: entry.ID,
		Symbol:         entry.Symbol,
		Name:           entry.Name,
		Platform:       platform,
		OpenQuantity:   decimal.Zero,
	}
	if err := s.Repo.UpsertTradable(ctx, item); err != nil {
		return nil, err
	}
	return s.Repo.GetTradableBySymbol(ctx, entry.Symbol, platform)
}

// refreshQuantities recomputes the cached open quantity for a set of
// tradables from their open positions.
func (s *SyncService) refreshQuantities(ctx context.Context, ids map[uint64]struct{}) error {
	for id := range ids {
		sum, err := s.Repo.SumOpenQuantity(ctx, id)
		if err != nil {
			return err
		}
		if err := s.Repo.UpdateTradableOpenQuantity(ctx, id, sum); err != nil {
			return err
		}
	}
	return nil
}

// RefreshAllQuantities rebuilds the quantity cache for every tradable
// on a platform.
func (s *SyncService) RefreshAllQuantities(ctx context.Context, platform string) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	tradables, err := s.Repo.ListTradablesByPlatform(ctx, platform)
	if err != nil {
		return err
	}
	ids := make(map[uint64]struct{}, len(tradables))
	for _, item := range tradables {
		ids[item.ID] = struct{}{}
	}
	return s.refreshQuantities(ctx, ids)
}

// PortfolioQuantity sums the cached quantities of every tradable that
// belongs to the asset's clean base across platforms. Returns -1 when
// no tradable matches, which suppresses order decisions downstream.
func (s *SyncService) PortfolioQuantity(ctx context.Context, assetSymbol string) (decimal.Decimal, error) {
	if s == nil || s.Repo == nil {
		return models.PortfolioUnknown, nil
	}
	base := CleanBase(assetSymbol)
	if base == "" {
		return models.PortfolioUnknown, nil
	}
	tradables, err := s.Repo.ListTradablesByPlatform(ctx, "")
	if err != nil {
		return models.PortfolioUnknown, err
	}
	matched := false
	total := decimal.Zero
	for _, item := range tradables {
		if !matchesBase(item.Symbol, base, s.PrefixMatching) {
			continue
		}
		matched = true
		total = total.Add(item.OpenQuantity)
	}
	if !matched {
		return models.PortfolioUnknown, nil
	}
	return total, nil
}

// RefreshOpenPositionQuotes updates current price and pnl on every open
// position of a credential from live quotes.
func (s *SyncService) RefreshOpenPositionQuotes(ctx context.Context, cred *models.BrokerCredential) error {
	if s == nil || s.Repo == nil || cred == nil {
		return nil
	}
	adapter := s.adapter(cred)
	if adapter == nil {
		return fmt.Errorf("no adapter for broker type %q", cred.BrokerType)
	}
	platform := adapter.Platform()
	positions, err := s.Repo.ListOpenPositions(ctx, cred.UserID, platform)
	if err != nil {
		return err
	}
	for _, pos := range positions {
		tradable, err := s.Repo.GetTradableByID(ctx, pos.TradableID)
		if err != nil {
			return err
		}
		if tradable == nil {
			continue
		}
		price, res := adapter.Quote(ctx, tradable.Symbol)
		if !res.OK {
			continue
		}
		pnl := price.Sub(pos.EntryPrice).Mul(pos.Size)
		if pos.Side == models.SideSell {
			pnl = pnl.Neg()
		}
		if err := s.Repo.UpdatePositionQuote(ctx, pos.ID, price, pnl); err != nil {
			return err
		}
	}
	return nil
}

func (s *SyncService) adapter(cred *models.BrokerCredential) broker.Broker {
	if s.Factory == nil {
		return nil
	}
	return s.Factory(cred)
}

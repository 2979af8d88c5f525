package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"autotrader/internal/broker"
	"autotrader/internal/models"
)

func testCredential(repo *stubRepo, platform string) *models.BrokerCredential {
	cred := &models.BrokerCredential{
		UserID:     1,
		BrokerType: platform,
		Name:       "main",
		IsActive:   true,
	}
	_ = repo.UpsertCredential(context.Background(), cred)
	return cred
}

func TestSyncPositionsIsIdempotent(t *testing.T) {
	repo := newStubRepo()
	opened := time.Now().UTC()
	fake := &fakeBroker{
		platform: models.PlatformBinance,
		positions: []broker.PositionPayload{
			{
				Symbol:     "BTC",
				Name:       "Bitcoin",
				Side:       models.SideBuy,
				Size:       decimal.NewFromFloat(0.5),
				EntryPrice: decimal.NewFromInt(30000),
				OpenedAt:   &opened,
			},
		},
	}
	svc := &SyncService{Repo: repo, Factory: fixedFactory(fake)}
	cred := testCredential(repo, models.PlatformBinance)

	created, err := svc.SyncPositions(context.Background(), cred)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if created != 1 {
		t.Fatalf("first sync created = %d, want 1", created)
	}

	created, err = svc.SyncPositions(context.Background(), cred)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if created != 0 {
		t.Fatalf("second sync with identical payload created = %d, want 0", created)
	}
	if len(repo.positions) != 1 {
		t.Fatalf("position rows = %d, want 1", len(repo.positions))
	}
}

func TestSyncPositionsClosesMissing(t *testing.T) {
	repo := newStubRepo()
	fake := &fakeBroker{
		platform: models.PlatformBinance,
		positions: []broker.PositionPayload{
			{Symbol: "BTC", Name: "Bitcoin", Side: models.SideBuy, Size: decimal.NewFromInt(1)},
			{Symbol: "ETH", Name: "Ether", Side: models.SideBuy, Size: decimal.NewFromInt(2)},
		},
	}
	svc := &SyncService{Repo: repo, Factory: fixedFactory(fake)}
	cred := testCredential(repo, models.PlatformBinance)

	if _, err := svc.SyncPositions(context.Background(), cred); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// ETH disappears from the snapshot.
	fake.positions = fake.positions[:1]
	if _, err := svc.SyncPositions(context.Background(), cred); err != nil {
		t.Fatalf("second sync: %v", err)
	}

	open, closed := 0, 0
	for _, pos := range repo.positions {
		switch pos.Status {
		case models.PositionOpen:
			open++
		case models.PositionClosed:
			closed++
			if pos.ClosedAt == nil {
				t.Fatalf("closed position has no closed_at")
			}
		}
	}
	if open != 1 || closed != 1 {
		t.Fatalf("open = %d closed = %d, want 1 and 1", open, closed)
	}
}

func TestSyncPositionsRefreshesQuantityCache(t *testing.T) {
	repo := newStubRepo()
	fake := &fakeBroker{
		platform: models.PlatformBinance,
		positions: []broker.PositionPayload{
			{Symbol: "BTC", Name: "Bitcoin", Side: models.SideBuy, Size: decimal.NewFromFloat(1.5)},
		},
	}
	svc := &SyncService{Repo: repo, Factory: fixedFactory(fake)}
	cred := testCredential(repo, models.PlatformBinance)

	if _, err := svc.SyncPositions(context.Background(), cred); err != nil {
		t.Fatalf("sync: %v", err)
	}
	tradable, err := repo.GetTradableBySymbol(context.Background(), "BTC", models.PlatformBinance)
	if err != nil || tradable == nil {
		t.Fatalf("tradable not created: %v", err)
	}
	if !tradable.OpenQuantity.Equal(decimal.NewFromFloat(1.5)) {
		t.Fatalf("cached quantity = %s, want 1.5", tradable.OpenQuantity)
	}
}

func TestBrokerPositionIDRules(t *testing.T) {
	saxoPayload := broker.PositionPayload{SourceOrderID: " 123456 "}
	if got := brokerPositionID(saxoPayload, models.PlatformSaxo, "Apple"); got != "123456" {
		t.Fatalf("saxo id = %q, want source order id", got)
	}
	binancePayload := broker.PositionPayload{Symbol: "btc_1"}
	if got := brokerPositionID(binancePayload, models.PlatformBinance, "Bitcoin"); got != "BTC" {
		t.Fatalf("binance id = %q, want normalized asset symbol", got)
	}
	other := broker.PositionPayload{Symbol: "X"}
	if got := brokerPositionID(other, "ibkr", "Acme"); got != "Acme (ibkr)" {
		t.Fatalf("fallback id = %q", got)
	}
}

func TestSyncTradesDeduplicates(t *testing.T) {
	repo := newStubRepo()
	executed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fake := &fakeBroker{
		platform: models.PlatformBinance,
		trades: []broker.TradePayload{
			{Symbol: "BTCUSDT", Side: models.SideBuy, Size: decimal.NewFromInt(1), Price: decimal.NewFromInt(30000), ExecutedAt: executed},
			{Symbol: "BTCUSDT", Side: models.SideSell, Size: decimal.NewFromInt(1), Price: decimal.NewFromInt(31000), ExecutedAt: executed.Add(time.Hour)},
		},
	}
	svc := &SyncService{Repo: repo, Factory: fixedFactory(fake)}
	cred := testCredential(repo, models.PlatformBinance)

	inserted, err := svc.SyncTrades(context.Background(), cred)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("first sync inserted = %d, want 2", inserted)
	}

	inserted, err = svc.SyncTrades(context.Background(), cred)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("replayed history inserted = %d, want 0", inserted)
	}
	if len(repo.trades) != 2 {
		t.Fatalf("trade rows = %d, want 2", len(repo.trades))
	}
}

func TestSyncTradesSkipsZeroSize(t *testing.T) {
	repo := newStubRepo()
	fake := &fakeBroker{
		platform: models.PlatformBinance,
		trades: []broker.TradePayload{
			{Symbol: "BTCUSDT", Side: models.SideBuy, Size: decimal.Zero, Price: decimal.NewFromInt(30000), ExecutedAt: time.Now().UTC()},
		},
	}
	svc := &SyncService{Repo: repo, Factory: fixedFactory(fake)}
	cred := testCredential(repo, models.PlatformBinance)

	inserted, err := svc.SyncTrades(context.Background(), cred)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("zero-size trade inserted = %d, want 0", inserted)
	}
}

func TestSyncPendingOrdersCancelsMissing(t *testing.T) {
	repo := newStubRepo()
	fake := &fakeBroker{
		platform: models.PlatformBinance,
		orders: []broker.OrderPayload{
			{OrderID: "a1", Symbol: "BTCUSDT", Side: models.SideBuy, Status: models.OrderWorking,
				Original: decimal.NewFromInt(10), Executed: decimal.NewFromInt(4)},
			{OrderID: "a2", Symbol: "ETHUSDT", Side: models.SideSell, Status: models.OrderWorking,
				Original: decimal.NewFromInt(5), Executed: decimal.Zero},
		},
	}
	svc := &SyncService{Repo: repo, Factory: fixedFactory(fake)}
	cred := testCredential(repo, models.PlatformBinance)

	if _, err := svc.SyncPendingOrders(context.Background(), cred); err != nil {
		t.Fatalf("sync: %v", err)
	}
	order, _ := repo.GetPendingOrderByOrderID(context.Background(), "a1")
	if order == nil {
		t.Fatalf("order a1 not stored")
	}
	if !order.RemainingQuantity.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("remaining = %s, want 6", order.RemainingQuantity)
	}

	fake.orders = fake.orders[:1]
	if _, err := svc.SyncPendingOrders(context.Background(), cred); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	gone, _ := repo.GetPendingOrderByOrderID(context.Background(), "a2")
	if gone == nil || gone.Status != models.OrderCancelled {
		t.Fatalf("vanished order should be cancelled, got %+v", gone)
	}
}

func TestPortfolioQuantityUnknownWhenNoMatch(t *testing.T) {
	repo := newStubRepo()
	svc := &SyncService{Repo: repo}

	qty, err := svc.PortfolioQuantity(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !qty.Equal(models.PortfolioUnknown) {
		t.Fatalf("quantity with no tradables = %s, want -1", qty)
	}
}

func TestPortfolioQuantitySumsAcrossPlatforms(t *testing.T) {
	repo := newStubRepo()
	_ = repo.UpsertTradable(context.Background(), &models.TradableInstrument{
		Symbol: "BTCUSDT", Platform: models.PlatformBinance, OpenQuantity: decimal.NewFromFloat(0.5),
	})
	_ = repo.UpsertTradable(context.Background(), &models.TradableInstrument{
		Symbol: "BTC:xcme", Platform: models.PlatformSaxo, OpenQuantity: decimal.NewFromFloat(0.25),
	})
	_ = repo.UpsertTradable(context.Background(), &models.TradableInstrument{
		Symbol: "ETHUSDT", Platform: models.PlatformBinance, OpenQuantity: decimal.NewFromInt(3),
	})
	svc := &SyncService{Repo: repo}

	qty, err := svc.PortfolioQuantity(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !qty.Equal(decimal.NewFromFloat(0.75)) {
		t.Fatalf("quantity = %s, want 0.75", qty)
	}
}

func TestPortfolioQuantityZeroHoldingsIsKnown(t *testing.T) {
	repo := newStubRepo()
	_ = repo.UpsertTradable(context.Background(), &models.TradableInstrument{
		Symbol: "BTCUSDT", Platform: models.PlatformBinance, OpenQuantity: decimal.Zero,
	})
	svc := &SyncService{Repo: repo}

	qty, err := svc.PortfolioQuantity(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !qty.IsZero() {
		t.Fatalf("quantity = %s, want 0 (known, not unknown)", qty)
	}
}

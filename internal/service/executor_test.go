package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"autotrader/internal/broker"
	"autotrader/internal/models"
)

func seedStrategyFixture(t *testing.T, repo *stubRepo, mode string, params map[string]float64) *models.Strategy {
	t.Helper()
	candles := []models.Candle{
		{Date: "2026-08-28", Close: 150},
		{Date: "2026-08-29", Close: 120},
		{Date: "2026-08-30", Close: 90},
	}
	blob, err := json.Marshal(candles)
	if err != nil {
		t.Fatalf("marshal candles: %v", err)
	}
	asset := &models.EnrichedAsset{Symbol: "BTC", Name: "Bitcoin", PriceHistory: blob}
	if err := repo.UpsertAsset(context.Background(), asset); err != nil {
		t.Fatalf("seed asset: %v", err)
	}
	cred := testCredential(repo, models.PlatformBinance)
	if err := repo.UpsertTradable(context.Background(), &models.TradableInstrument{
		Symbol: "BTCUSDT", Platform: models.PlatformBinance, OpenQuantity: decimal.NewFromInt(2),
	}); err != nil {
		t.Fatalf("seed tradable: %v", err)
	}

	rawParams, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	strategy := &models.Strategy{
		UserID:            cred.UserID,
		AssetID:           asset.ID,
		Name:              "btc-threshold",
		Algorithm:         models.AlgoThreshold,
		Params:            rawParams,
		CredentialID:      &cred.ID,
		ExecutionMode:     mode,
		Status:            models.StrategyActive,
		CheckFrequency:    60,
		TargetMaxQuantity: decimal.NewFromInt(10),
		PortfolioQuantity: models.PortfolioUnknown,
	}
	if err := repo.UpsertStrategy(context.Background(), strategy); err != nil {
		t.Fatalf("seed strategy: %v", err)
	}
	return strategy
}

func strategyService(repo *stubRepo, fake *fakeBroker) *StrategyService {
	sync := &SyncService{Repo: repo, Factory: fixedFactory(fake)}
	return &StrategyService{Repo: repo, Factory: fixedFactory(fake), Sync: sync}
}

func TestExecuteStrategyPlacesOrderInPaperMode(t *testing.T) {
	repo := newStubRepo()
	fake := &fakeBroker{platform: models.PlatformBinance}
	svc := strategyService(repo, fake)
	strategy := seedStrategyFixture(t, repo, models.ModePaper, map[string]float64{
		"threshold_low": 100, "threshold_high": 200, "order_size": 5,
	})

	exec, err := svc.ExecuteStrategy(context.Background(), strategy)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Signal != "buy" {
		t.Fatalf("signal = %q, want buy (close 90 under threshold 100)", exec.Signal)
	}
	if fake.placeCalls != 1 {
		t.Fatalf("place calls = %d, want 1", fake.placeCalls)
	}
	if !exec.OrderPlaced || exec.OrderSize == nil {
		t.Fatalf("execution not updated after placement: %+v", exec)
	}
	// Holdings 2 against target max 10 leave room for the full order of 5.
	if !exec.OrderSize.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("order size = %s, want 5", exec.OrderSize)
	}
	if fake.placedOrders[0].Symbol != "BTCUSDT" {
		t.Fatalf("order routed to %q, want BTCUSDT", fake.placedOrders[0].Symbol)
	}

	stored, _ := repo.GetStrategyByID(context.Background(), strategy.ID)
	if stored.LastExecutedAt == nil || stored.NextExecuteAt == nil {
		t.Fatalf("run stamps not updated")
	}
	if !stored.PortfolioQuantity.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("portfolio cache = %s, want 2", stored.PortfolioQuantity)
	}
}

func TestExecuteStrategySimulateNeverPlacesOrders(t *testing.T) {
	repo := newStubRepo()
	fake := &fakeBroker{platform: models.PlatformBinance}
	svc := strategyService(repo, fake)
	strategy := seedStrategyFixture(t, repo, models.ModeSimulate, map[string]float64{
		"threshold_low": 100, "threshold_high": 200, "order_size": 5,
	})

	exec, err := svc.ExecuteStrategy(context.Background(), strategy)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Signal != "buy" {
		t.Fatalf("signal = %q, want buy", exec.Signal)
	}
	if fake.placeCalls != 0 {
		t.Fatalf("simulate mode placed %d orders, want 0", fake.placeCalls)
	}
	if exec.OrderPlaced {
		t.Fatalf("execution marked placed in simulate mode")
	}
	if len(repo.executions) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(repo.executions))
	}
}

func TestExecuteStrategyUnknownPortfolioSuppressesOrder(t *testing.T) {
	repo := newStubRepo()
	fake := &fakeBroker{platform: models.PlatformBinance}
	svc := strategyService(repo, fake)
	strategy := seedStrategyFixture(t, repo, models.ModeLive, map[string]float64{
		"threshold_low": 100, "threshold_high": 200, "order_size": 5,
	})
	// Remove the holdings so the clean base resolves to nothing.
	repo.tradables = map[string]models.TradableInstrument{}

	exec, err := svc.ExecuteStrategy(context.Background(), strategy)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if fake.placeCalls != 0 {
		t.Fatalf("unknown portfolio placed %d orders, want 0", fake.placeCalls)
	}
	if exec.OrderPlaced {
		t.Fatalf("execution marked placed with unknown portfolio")
	}
	stored, _ := repo.GetStrategyByID(context.Background(), strategy.ID)
	if !stored.PortfolioQuantity.Equal(models.PortfolioUnknown) {
		t.Fatalf("portfolio cache = %s, want -1", stored.PortfolioQuantity)
	}
}

func TestExecuteStrategyAuditSurvivesFailedPlacement(t *testing.T) {
	repo := newStubRepo()
	fake := &fakeBroker{platform: models.PlatformBinance}
	fake.placeResult = broker.Failure(broker.ErrSemantic, "insufficient balance")
	svc := strategyService(repo, fake)
	strategy := seedStrategyFixture(t, repo, models.ModePaper, map[string]float64{
		"threshold_low": 100, "threshold_high": 200, "order_size": 5,
	})

	exec, err := svc.ExecuteStrategy(context.Background(), strategy)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(repo.executions) != 1 {
		t.Fatalf("audit rows = %d, want 1 even when placement fails", len(repo.executions))
	}
	if exec.OrderPlaced {
		t.Fatalf("execution marked placed after broker rejection")
	}
	if exec.Error == "" {
		t.Fatalf("placement failure not recorded on the execution")
	}
	if repo.executions[0].Error == "" {
		t.Fatalf("placement failure not persisted on the stored row")
	}
}

func TestRunDueStrategiesForceIgnoresSchedule(t *testing.T) {
	repo := newStubRepo()
	fake := &fakeBroker{platform: models.PlatformBinance}
	svc := strategyService(repo, fake)
	strategy := seedStrategyFixture(t, repo, models.ModeSimulate, map[string]float64{
		"threshold_low": 100, "threshold_high": 200, "order_size": 5,
	})
	// Push the schedule into the future; only force should run it.
	future := time.Now().UTC().Add(time.Hour)
	_ = repo.UpdateStrategyRunStamps(context.Background(), strategy.ID, future, future)

	executed, errs := svc.RunDueStrategies(context.Background(), strategy.UserID, false)
	if executed != 0 || len(errs) != 0 {
		t.Fatalf("unforced run executed = %d errs = %v, want 0 and none", executed, errs)
	}

	executed, errs = svc.RunDueStrategies(context.Background(), strategy.UserID, true)
	if executed != 1 || len(errs) != 0 {
		t.Fatalf("forced run executed = %d errs = %v, want 1 and none", executed, errs)
	}
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"autotrader/internal/algo"
	"autotrader/internal/broker"
	"autotrader/internal/models"
	"autotrader/internal/repository"
)

// StrategyService evaluates strategies against stored price history and
// routes the resulting orders through broker adapters.
type StrategyService struct {
	Repo    repository.Repository
	Logger  *zap.Logger
	Factory BrokerFactory
	Sync    *SyncService
}

// ExecuteStrategy runs one evaluation. The audit row is written before
// any order is placed, so a failed placement still leaves the decision
// on record.
func (s *StrategyService) ExecuteStrategy(ctx context.Context, strategy *models.Strategy) (*models.StrategyExecution, error) {
	if s == nil || s.Repo == nil || strategy == nil {
		return nil, nil
	}
	started := time.Now().UTC()

	asset, err := s.Repo.GetAssetByID(ctx, strategy.AssetID)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, fmt.Errorf("strategy %d references missing asset %d", strategy.ID, strategy.AssetID)
	}

	var candles []models.Candle
	if len(asset.PriceHistory) > 0 {
		if err := json.Unmarshal(asset.PriceHistory, &candles); err != nil {
			return nil, fmt.Errorf("asset %s: decode price history: %w", asset.Symbol, err)
		}
	}

	qty, err := s.Sync.PortfolioQuantity(ctx, asset.Symbol)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.UpdateStrategyPortfolioQuantity(ctx, strategy.ID, qty); err != nil {
		return nil, err
	}
	strategy.PortfolioQuantity = qty

	params := algo.DefaultParams(strategy.Algorithm)
	if params == nil {
		params = algo.Params{}
	}
	stored, err := algo.DecodeParams(strategy.Params)
	if err != nil {
		return nil, err
	}
	for key, value := range stored {
		params[key] = value
	}

	decision := algo.Evaluate(strategy.Algorithm, candles, params, algo.PortfolioState{
		Quantity:  qty,
		TargetMin: strategy.TargetMinQuantity,
		TargetMax: strategy.TargetMaxQuantity,
	})

	price := decimal.Zero
	if len(candles) > 0 {
		price = decimal.NewFromFloat(candles[len(candles)-1].Close)
	}

	exec := &models.StrategyExecution{
		StrategyID: strategy.ID,
		ExecutedAt: started,
		Price:      price,
		Signal:     decision.Signal,
		Strength:   decision.Strength,
		DurationMS: time.Since(started).Milliseconds(),
	}
	if err := s.Repo.InsertStrategyExecution(ctx, exec); err != nil {
		return nil, err
	}

	if decision.Signal != algo.SignalHold {
		if err := s.placeOrder(ctx, strategy, asset, decision, params, price, exec); err != nil {
			if s.Logger != nil {
				s.Logger.Warn("order placement failed",
					zap.Uint64("strategy_id", strategy.ID), zap.Error(err))
			}
			exec.Error = err.Error()
			if uerr := s.Repo.UpdateStrategyExecutionError(ctx, exec.ID, exec.Error); uerr != nil && s.Logger != nil {
				s.Logger.Warn("recording placement error failed",
					zap.Uint64("execution_id", exec.ID), zap.Error(uerr))
			}
		}
	}

	next := started.Add(time.Duration(strategy.CheckFrequency) * time.Minute)
	if err := s.Repo.UpdateStrategyRunStamps(ctx, strategy.ID, started, next); err != nil {
		return exec, err
	}

	if s.Logger != nil {
		s.Logger.Info("strategy evaluated",
			zap.Uint64("strategy_id", strategy.ID),
			zap.String("algorithm", strategy.Algorithm),
			zap.String("signal", decision.Signal),
			zap.Float64("strength", decision.Strength),
			zap.Bool("order_placed", exec.OrderPlaced))
	}
	return exec, nil
}

// placeOrder routes a buy or sell decision to the strategy's credential.
// Simulate mode, a missing credential, and an unknown portfolio all
// suppress routing without failing the evaluation.
func (s *StrategyService) placeOrder(ctx context.Context, strategy *models.Strategy, asset *models.EnrichedAsset, decision algo.Decision, params algo.Params, price decimal.Decimal, exec *models.StrategyExecution) error {
	if !algo.ShouldExecuteOrder(strategy.ExecutionMode) {
		return nil
	}
	if strategy.CredentialID == nil {
		return nil
	}
	if strategy.PortfolioQuantity.Equal(models.PortfolioUnknown) {
		return nil
	}
	cred, err := s.Repo.GetCredentialByID(ctx, *strategy.CredentialID)
	if err != nil {
		return err
	}
	if cred == nil || !cred.IsActive {
		return fmt.Errorf("credential %d unavailable", *strategy.CredentialID)
	}
	adapter := s.Factory(cred)
	if adapter == nil {
		return fmt.Errorf("no adapter for broker type %q", cred.BrokerType)
	}

	tradable, err := s.findTradable(ctx, asset.Symbol, adapter.Platform())
	if err != nil {
		return err
	}
	if tradable == nil {
		return fmt.Errorf("no tradable instrument for %s on %s", asset.Symbol, adapter.Platform())
	}

	size := decimal.NewFromFloat(params.Get("order_size", 1))
	if decision.AutoQuantity != nil {
		size = *decision.AutoQuantity
	}
	if !size.IsPositive() {
		return nil
	}

	placed, res := adapter.PlaceOrder(ctx, broker.OrderRequest{
		Symbol: tradable.Symbol,
		Side:   decision.Signal,
		Size:   size,
	})
	if !res.OK {
		return resultErr("place order", res)
	}
	exec.OrderPlaced = true
	exec.OrderSize = &size
	orderPrice := price
	exec.OrderPrice = &orderPrice
	if s.Logger != nil {
		s.Logger.Info("order placed",
			zap.Uint64("strategy_id", strategy.ID),
			zap.String("order_id", placed.OrderID),
			zap.String("symbol", tradable.Symbol),
			zap.String("side", decision.Signal))
	}
	return s.Repo.UpdateStrategyExecutionOrder(ctx, exec.ID, size, orderPrice)
}

// findTradable resolves the asset's clean base to a platform instrument.
func (s *StrategyService) findTradable(ctx context.Context, assetSymbol, platform string) (*models.TradableInstrument, error) {
	base := CleanBase(assetSymbol)
	if base == "" {
		return nil, nil
	}
	tradables, err := s.Repo.ListTradablesByPlatform(ctx, platform)
	if err != nil {
		return nil, err
	}
	prefix := false
	if s.Sync != nil {
		prefix = s.Sync.PrefixMatching
	}
	for i := range tradables {
		if matchesBase(tradables[i].Symbol, base, prefix) {
			return &tradables[i], nil
		}
	}
	return nil, nil
}

// RunDueStrategies evaluates every due active strategy of one user.
// With force set, every active strategy runs regardless of schedule.
func (s *StrategyService) RunDueStrategies(ctx context.Context, userID uint64, force bool) (int, []error) {
	if s == nil || s.Repo == nil {
		return 0, nil
	}
	var strategies []models.Strategy
	var err error
	if force {
		status := models.StrategyActive
		strategies, err = s.Repo.ListStrategies(ctx, repository.ListStrategiesParams{
			UserID: &userID,
			Status: &status,
		})
	} else {
		strategies, err = s.Repo.ListDueStrategies(ctx, userID, time.Now().UTC())
	}
	if err != nil {
		return 0, []error{err}
	}

	executed := 0
	var errs []error
	for i := range strategies {
		if _, err := s.ExecuteStrategy(ctx, &strategies[i]); err != nil {
			errs = append(errs, fmt.Errorf("strategy %d: %w", strategies[i].ID, err))
			continue
		}
		executed++
	}
	return executed, errs
}

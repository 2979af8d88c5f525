package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"autotrader/internal/models"
	"autotrader/internal/notification"
	"autotrader/internal/repository"
)

// AutomationService orchestrates the per-user trading cycle: token
// refresh, broker sync, then strategy evaluation, with an audit log row
// per cycle. Cycles for distinct users run concurrently; a user never
// has two cycles in flight.
type AutomationService struct {
	Repo     repository.Repository
	Logger   *zap.Logger
	Sync     *SyncService
	Tokens   *TokenRefreshService
	Strategy *StrategyService
	Sink     notification.Sink

	mu       sync.Mutex
	inflight map[uint64]bool
	wg       sync.WaitGroup
}

// CycleReport summarizes one finished cycle.
type CycleReport struct {
	UserID             uint64
	Status             string
	PositionsCreated   int
	TradesInserted     int64
	OrdersUpserted     int
	StrategiesExecuted int
	Errors             []string
	Duration           time.Duration
}

// RunDue starts a cycle for every automation config whose next run time
// has passed. Each user's cycle runs in its own goroutine.
func (s *AutomationService) RunDue(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	configs, err := s.Repo.ListDueAutomationConfigs(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	for i := range configs {
		cfg := configs[i]
		if !s.tryAcquire(cfg.UserID) {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.release(cfg.UserID)
			if _, err := s.runCycle(ctx, &cfg, false); err != nil && s.Logger != nil {
				s.Logger.Error("automation cycle failed",
					zap.Uint64("user_id", cfg.UserID), zap.Error(err))
			}
		}()
	}
	return nil
}

// Wait blocks until all in-flight cycles finish. Used at shutdown.
func (s *AutomationService) Wait() {
	if s == nil {
		return
	}
	s.wg.Wait()
}

// RunCycleForUser runs one cycle synchronously for a named user. With
// force set, the schedule and the paused flag are ignored.
func (s *AutomationService) RunCycleForUser(ctx context.Context, username string, force bool) (*CycleReport, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	user, err := s.Repo.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %q not found", username)
	}
	cfg, err := s.Repo.GetAutomationConfig(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("user %q has no automation config", username)
	}
	if !s.tryAcquire(user.ID) {
		return nil, fmt.Errorf("cycle already running for user %q", username)
	}
	defer s.release(user.ID)
	return s.runCycle(ctx, cfg, force)
}

func (s *AutomationService) tryAcquire(userID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight == nil {
		s.inflight = map[uint64]bool{}
	}
	if s.inflight[userID] {
		return false
	}
	s.inflight[userID] = true
	return true
}

func (s *AutomationService) release(userID uint64) {
	s.mu.Lock()
	delete(s.inflight, userID)
	s.mu.Unlock()
}

// runCycle executes the fixed step order: token refresh, positions,
// trades, pending orders, strategies. Sync errors are recorded, not
// fatal; strategies still run on whatever state is current.
func (s *AutomationService) runCycle(ctx context.Context, cfg *models.AutomationConfig, force bool) (*CycleReport, error) {
	if !force {
		if !cfg.IsActive {
			return nil, nil
		}
		if cfg.IsPaused {
			if s.Logger != nil {
				s.Logger.Info("automation paused, skipping cycle", zap.Uint64("user_id", cfg.UserID))
			}
			return nil, nil
		}
	}

	started := time.Now().UTC()
	report := &CycleReport{UserID: cfg.UserID}
	s.notify(ctx, notification.SeverityInfo, "Automation cycle started",
		fmt.Sprintf("User ID: %d", cfg.UserID))

	creds, err := s.Repo.ListCredentialsByUser(ctx, cfg.UserID, true)
	if err != nil {
		return nil, err
	}

	if cfg.AutoRefreshTokens && s.Tokens != nil {
		now := time.Now().UTC()
		for i := range creds {
			cred := creds[i]
			if cred.TwentyFourHourMode() || !cred.AutoRefreshEnabled {
				continue
			}
			if !NeedsRefresh(&cred, now) {
				continue
			}
			if err := s.Tokens.RefreshCredential(ctx, &cred); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("refresh %s: %v", cred.Name, err))
				continue
			}
			creds[i] = cred
		}
	}

	for i := range creds {
		cred := &creds[i]
		created, err := s.Sync.SyncPositions(ctx, cred)
		report.PositionsCreated += created
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("positions %s: %v", cred.Name, err))
		}
		inserted, err := s.Sync.SyncTrades(ctx, cred)
		report.TradesInserted += inserted
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("trades %s: %v", cred.Name, err))
		}
		upserted, err := s.Sync.SyncPendingOrders(ctx, cred)
		report.OrdersUpserted += upserted
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("orders %s: %v", cred.Name, err))
		}
	}

	executed, errs := s.Strategy.RunDueStrategies(ctx, cfg.UserID, force)
	report.StrategiesExecuted = executed
	for _, err := range errs {
		report.Errors = append(report.Errors, err.Error())
	}

	report.Duration = time.Since(started)
	report.Status = cycleStatus(report)

	next := started.Add(time.Duration(cfg.FrequencyMinutes) * time.Minute)
	if err := s.Repo.UpdateAutomationRunStamps(ctx, cfg.UserID, started, next); err != nil {
		return report, err
	}
	if err := s.writeLog(ctx, cfg.UserID, report, started); err != nil {
		return report, err
	}

	severity := notification.SeverityInfo
	if report.Status == models.CycleFailed {
		severity = notification.SeverityError
	} else if report.Status == models.CyclePartial {
		severity = notification.SeverityWarning
	}
	s.notify(ctx, severity, "Automation cycle finished",
		fmt.Sprintf("User ID: %d", cfg.UserID),
		fmt.Sprintf("Status: %s", report.Status),
		fmt.Sprintf("Positions: %d, trades: %d, orders: %d, strategies: %d",
			report.PositionsCreated, report.TradesInserted, report.OrdersUpserted, report.StrategiesExecuted),
		fmt.Sprintf("Errors: %d", len(report.Errors)))

	if s.Logger != nil {
		s.Logger.Info("automation cycle finished",
			zap.Uint64("user_id", cfg.UserID),
			zap.String("status", report.Status),
			zap.Duration("duration", report.Duration),
			zap.Int("errors", len(report.Errors)))
	}
	return report, nil
}

// cycleStatus maps a report to the log status: success without errors,
// partial when some work landed despite errors, failed otherwise.
func cycleStatus(report *CycleReport) string {
	if len(report.Errors) == 0 {
		return models.CycleSuccess
	}
	if report.PositionsCreated > 0 || report.TradesInserted > 0 ||
		report.OrdersUpserted > 0 || report.StrategiesExecuted > 0 {
		return models.CyclePartial
	}
	return models.CycleFailed
}

func (s *AutomationService) writeLog(ctx context.Context, userID uint64, report *CycleReport, started time.Time) error {
	summary, err := json.Marshal(map[string]any{
		"positions_created":   report.PositionsCreated,
		"trades_inserted":     report.TradesInserted,
		"orders_upserted":     report.OrdersUpserted,
		"strategies_executed": report.StrategiesExecuted,
	})
	if err != nil {
		return err
	}
	var errBlob []byte
	if len(report.Errors) > 0 {
		errBlob, err = json.Marshal(report.Errors)
		if err != nil {
			return err
		}
	}
	return s.Repo.InsertAutomationLog(ctx, &models.AutomationLog{
		UserID:     userID,
		Status:     report.Status,
		Summary:    summary,
		Errors:     errBlob,
		DurationMS: report.Duration.Milliseconds(),
		StartedAt:  started,
	})
}

func (s *AutomationService) notify(ctx context.Context, severity, title string, lines ...string) {
	if s.Sink == nil {
		return
	}
	s.Sink.Notify(ctx, notification.Event{
		Title:    title,
		Lines:    lines,
		Severity: severity,
		At:       time.Now().UTC(),
	})
}

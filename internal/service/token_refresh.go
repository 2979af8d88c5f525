package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"autotrader/internal/models"
	"autotrader/internal/notification"
	"autotrader/internal/repository"
)

// TokenRefreshService drives the OAuth token lifecycle: scheduled
// refresh with retry, per-attempt audit rows, and failure notification.
type TokenRefreshService struct {
	Repo    repository.Repository
	Logger  *zap.Logger
	Factory BrokerFactory
	Sink    notification.Sink

	MaxRetries    int
	RetryDelay    time.Duration
	RetentionDays int
}

// RefreshOptions control one run of the refresh job.
type RefreshOptions struct {
	DryRun       bool
	Force        bool
	CredentialID uint64
}

// RefreshSummary reports what one run did.
type RefreshSummary struct {
	Checked   int
	Refreshed int
	Skipped   int
	Failed    int
}

const minRefreshFrequency = 15
const maxRefreshFrequency = 55

// NeedsRefresh implements the refresh decision rule.
func NeedsRefresh(cred *models.BrokerCredential, now time.Time) bool {
	if cred == nil {
		return false
	}
	if cred.AccessToken == "" {
		return true
	}
	if cred.TwentyFourHourMode() {
		if cred.TokenExpiresAt == nil {
			return false
		}
		return cred.TokenExpiresAt.Sub(now) < time.Hour
	}
	if cred.TokenExpiresAt == nil {
		return true
	}
	freq := cred.AutoRefreshFrequency
	if freq < minRefreshFrequency {
		freq = minRefreshFrequency
	}
	if freq > maxRefreshFrequency {
		freq = maxRefreshFrequency
	}
	threshold := time.Duration(float64(freq)*0.8) * time.Minute
	return cred.TokenExpiresAt.Sub(now) < threshold
}

// Run refreshes either one credential or every active auto-refresh
// credential of OAuth brokers.
func (s *TokenRefreshService) Run(ctx context.Context, opts RefreshOptions) (RefreshSummary, error) {
	var summary RefreshSummary
	if s == nil || s.Repo == nil || s.Factory == nil {
		return summary, nil
	}
	var creds []models.BrokerCredential
	if opts.CredentialID != 0 {
		cred, err := s.Repo.GetCredentialByID(ctx, opts.CredentialID)
		if err != nil {
			return summary, err
		}
		if cred == nil {
			return summary, fmt.Errorf("credential %d not found", opts.CredentialID)
		}
		creds = []models.BrokerCredential{*cred}
	} else {
		all, err := s.Repo.ListActiveCredentials(ctx, models.PlatformSaxo)
		if err != nil {
			return summary, err
		}
		for _, cred := range all {
			if cred.AutoRefreshEnabled {
				creds = append(creds, cred)
			}
		}
	}

	now := time.Now().UTC()
	for i := range creds {
		cred := creds[i]
		summary.Checked++
		if cred.TwentyFourHourMode() {
			// Vendor does not support refreshing 24-hour tokens.
			summary.Skipped++
			if s.Logger != nil {
				s.Logger.Info("skipping 24-hour token credential",
					zap.Uint64("credential_id", cred.ID))
			}
			continue
		}
		if !opts.Force && !NeedsRefresh(&cred, now) {
			summary.Skipped++
			continue
		}
		if opts.DryRun {
			summary.Skipped++
			if s.Logger != nil {
				s.Logger.Info("dry run, would refresh credential",
					zap.Uint64("credential_id", cred.ID), zap.String("name", cred.Name))
			}
			continue
		}
		if err := s.RefreshCredential(ctx, &cred); err != nil {
			summary.Failed++
			continue
		}
		summary.Refreshed++
	}
	return summary, nil
}

// RefreshCredential performs one refresh with the retry policy: the
// initial attempt plus up to MaxRetries retries at RetryDelay spacing.
// Every attempt writes one history row.
func (s *TokenRefreshService) RefreshCredential(ctx context.Context, cred *models.BrokerCredential) error {
	if s == nil || s.Repo == nil || cred == nil {
		return nil
	}
	adapter := s.Factory(cred)
	if adapter == nil {
		return fmt.Errorf("no adapter for broker type %q", cred.BrokerType)
	}
	maxRetries := s.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	delay := s.RetryDelay
	if delay <= 0 {
		delay = 3 * time.Minute
	}

	var lastDetail string
	for attempt := 0; attempt <= maxRetries; attempt++ {
		tokens, res := adapter.RefreshAuth(ctx)
		history := &models.TokenRefreshHistory{
			CredentialID: cred.ID,
			Success:      res.OK,
			RetryCount:   attempt,
			MaxRetries:   maxRetries,
			AttemptedAt:  time.Now().UTC(),
		}
		if res.OK {
			expiresAt := tokens.ExpiresAt
			history.NewAccessToken = tokens.AccessToken
			history.NewRefreshToken = tokens.RefreshToken
			history.ExpiresAt = &expiresAt
		} else {
			history.ErrorMessage = res.Detail
			lastDetail = res.Detail
		}
		if err := s.Repo.InsertTokenRefreshHistory(ctx, history); err != nil {
			return err
		}
		if res.OK {
			expiresAt := tokens.ExpiresAt
			if err := s.Repo.UpdateCredentialTokens(ctx, cred.ID, tokens.AccessToken, tokens.RefreshToken, &expiresAt); err != nil {
				return err
			}
			cred.AccessToken = tokens.AccessToken
			cred.RefreshToken = tokens.RefreshToken
			cred.TokenExpiresAt = &expiresAt
			if s.Logger != nil {
				s.Logger.Info("token refreshed",
					zap.Uint64("credential_id", cred.ID), zap.Int("attempt", attempt))
			}
			return nil
		}
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	user, _ := s.Repo.GetUserByID(ctx, cred.UserID)
	username := fmt.Sprintf("user %d", cred.UserID)
	if user != nil {
		username = user.Username
	}
	if s.Sink != nil {
		s.Sink.Notify(ctx, notification.Event{
			Title:    "Token refresh failed",
			Severity: notification.SeverityError,
			At:       time.Now().UTC(),
			Lines: []string{
				fmt.Sprintf("Credential: %s (%s)", cred.Name, cred.BrokerType),
				fmt.Sprintf("User: %s", username),
				fmt.Sprintf("Attempts: %d", maxRetries+1),
				fmt.Sprintf("Last error: %s", lastDetail),
			},
		})
	}
	return fmt.Errorf("refresh failed after %d attempts: %s", maxRetries+1, lastDetail)
}

// PruneHistory removes audit rows older than the retention window.
func (s *TokenRefreshService) PruneHistory(ctx context.Context) (int64, error) {
	if s == nil || s.Repo == nil {
		return 0, nil
	}
	days := s.RetentionDays
	if days <= 0 {
		days = 30
	}
	before := time.Now().UTC().AddDate(0, 0, -days)
	pruned, err := s.Repo.PruneTokenRefreshHistory(ctx, before)
	if err != nil {
		return 0, err
	}
	if pruned > 0 && s.Logger != nil {
		s.Logger.Info("pruned token refresh history", zap.Int64("rows", pruned))
	}
	return pruned, nil
}

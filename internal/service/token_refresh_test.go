package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"autotrader/internal/broker"
	"autotrader/internal/models"
	"autotrader/internal/notification"
)

type captureSink struct {
	events []notification.Event
}

func (s *captureSink) Notify(ctx context.Context, event notification.Event) {
	s.events = append(s.events, event)
}

func TestNeedsRefresh(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	in := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}
	cases := []struct {
		name string
		cred models.BrokerCredential
		want bool
	}{
		{
			name: "no token",
			cred: models.BrokerCredential{AutoRefreshFrequency: 30},
			want: true,
		},
		{
			name: "24h mode far from expiry",
			cred: models.BrokerCredential{AccessToken: "t", RefreshToken: "t", TokenExpiresAt: in(5 * time.Hour)},
			want: false,
		},
		{
			name: "24h mode inside final hour",
			cred: models.BrokerCredential{AccessToken: "t", RefreshToken: "t", TokenExpiresAt: in(30 * time.Minute)},
			want: true,
		},
		{
			name: "normal mode comfortable margin",
			cred: models.BrokerCredential{AccessToken: "a", RefreshToken: "r", AutoRefreshFrequency: 30, TokenExpiresAt: in(40 * time.Minute)},
			want: false,
		},
		{
			name: "normal mode inside 80 percent window",
			cred: models.BrokerCredential{AccessToken: "a", RefreshToken: "r", AutoRefreshFrequency: 30, TokenExpiresAt: in(20 * time.Minute)},
			want: true,
		},
		{
			name: "frequency clamped up to 15",
			cred: models.BrokerCredential{AccessToken: "a", RefreshToken: "r", AutoRefreshFrequency: 5, TokenExpiresAt: in(13 * time.Minute)},
			// Threshold is 0.8 * 15 = 12 minutes; 13 is outside it.
			want: false,
		},
		{
			name: "frequency clamped down to 55",
			cred: models.BrokerCredential{AccessToken: "a", RefreshToken: "r", AutoRefreshFrequency: 120, TokenExpiresAt: in(43 * time.Minute)},
			// Threshold is 0.8 * 55 = 44 minutes; 43 is inside it.
			want: true,
		},
		{
			name: "normal mode without expiry",
			cred: models.BrokerCredential{AccessToken: "a", RefreshToken: "r", AutoRefreshFrequency: 30},
			want: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NeedsRefresh(&tc.cred, now); got != tc.want {
				t.Fatalf("NeedsRefresh = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRefreshCredentialExhaustsRetries(t *testing.T) {
	repo := newStubRepo()
	_ = repo.UpsertUser(context.Background(), &models.User{Username: "alice", IsActive: true})
	cred := &models.BrokerCredential{
		UserID:       1,
		BrokerType:   models.PlatformSaxo,
		Name:         "saxo-live",
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		IsActive:     true,
	}
	_ = repo.UpsertCredential(context.Background(), cred)

	fail := broker.Failure(broker.ErrAuth, "invalid_grant")
	fake := &fakeBroker{
		platform:       models.PlatformSaxo,
		refreshResults: []broker.Result{fail, fail, fail, fail, fail, fail},
	}
	sink := &captureSink{}
	svc := &TokenRefreshService{
		Repo:       repo,
		Factory:    fixedFactory(fake),
		Sink:       sink,
		MaxRetries: 5,
		RetryDelay: time.Millisecond,
	}

	err := svc.RefreshCredential(context.Background(), cred)
	if err == nil {
		t.Fatalf("expected failure after exhausted retries")
	}
	if fake.refreshCalls != 6 {
		t.Fatalf("refresh calls = %d, want 6 (initial + 5 retries)", fake.refreshCalls)
	}
	if len(repo.history) != 6 {
		t.Fatalf("history rows = %d, want one per attempt", len(repo.history))
	}
	for i, row := range repo.history {
		if row.Success {
			t.Fatalf("history row %d marked success", i)
		}
		if row.RetryCount != i {
			t.Fatalf("history row %d retry count = %d", i, row.RetryCount)
		}
	}
	if len(sink.events) != 1 {
		t.Fatalf("notifications = %d, want exactly 1", len(sink.events))
	}
	text := sink.events[0].Text()
	if !strings.Contains(text, "saxo-live") || !strings.Contains(text, "alice") {
		t.Fatalf("notification must name the credential and user: %q", text)
	}

	stored, _ := repo.GetCredentialByID(context.Background(), cred.ID)
	if stored.AccessToken != "old-access" || stored.RefreshToken != "old-refresh" {
		t.Fatalf("failed refresh must not mutate stored tokens")
	}
}

func TestRefreshCredentialSucceedsAfterRetry(t *testing.T) {
	repo := newStubRepo()
	cred := &models.BrokerCredential{
		UserID:       1,
		BrokerType:   models.PlatformSaxo,
		Name:         "saxo-live",
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		IsActive:     true,
	}
	_ = repo.UpsertCredential(context.Background(), cred)

	expires := time.Now().UTC().Add(30 * time.Minute)
	fake := &fakeBroker{
		platform: models.PlatformSaxo,
		refreshResults: []broker.Result{
			broker.Failure(broker.ErrTransient, "gateway timeout"),
			broker.Success(),
		},
		refreshTokens: broker.TokenSet{AccessToken: "new-access", RefreshToken: "new-refresh", ExpiresAt: expires},
	}
	sink := &captureSink{}
	svc := &TokenRefreshService{
		Repo:       repo,
		Factory:    fixedFactory(fake),
		Sink:       sink,
		MaxRetries: 5,
		RetryDelay: time.Millisecond,
	}

	if err := svc.RefreshCredential(context.Background(), cred); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if fake.refreshCalls != 2 {
		t.Fatalf("refresh calls = %d, want 2", fake.refreshCalls)
	}
	if len(repo.history) != 2 {
		t.Fatalf("history rows = %d, want 2", len(repo.history))
	}
	if repo.history[0].Success || !repo.history[1].Success {
		t.Fatalf("history success flags wrong: %+v", repo.history)
	}
	if len(sink.events) != 0 {
		t.Fatalf("successful refresh must not notify, got %d events", len(sink.events))
	}
	stored, _ := repo.GetCredentialByID(context.Background(), cred.ID)
	if stored.AccessToken != "new-access" || stored.RefreshToken != "new-refresh" {
		t.Fatalf("tokens not updated: %+v", stored)
	}
	if stored.TokenExpiresAt == nil || !stored.TokenExpiresAt.Equal(expires) {
		t.Fatalf("expiry not updated")
	}
}

func TestRunSkipsTwentyFourHourTokens(t *testing.T) {
	repo := newStubRepo()
	expires := time.Now().UTC().Add(10 * time.Minute)
	_ = repo.UpsertCredential(context.Background(), &models.BrokerCredential{
		UserID:             1,
		BrokerType:         models.PlatformSaxo,
		Name:               "manual-token",
		AccessToken:        "same",
		RefreshToken:       "same",
		TokenExpiresAt:     &expires,
		AutoRefreshEnabled: true,
		IsActive:           true,
	})
	fake := &fakeBroker{platform: models.PlatformSaxo}
	svc := &TokenRefreshService{
		Repo:       repo,
		Factory:    fixedFactory(fake),
		MaxRetries: 5,
		RetryDelay: time.Millisecond,
	}

	summary, err := svc.Run(context.Background(), RefreshOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Checked != 1 || summary.Skipped != 1 {
		t.Fatalf("summary = %+v, want checked 1 skipped 1", summary)
	}
	if fake.refreshCalls != 0 {
		t.Fatalf("24-hour credential triggered %d refresh calls, want 0", fake.refreshCalls)
	}
	if len(repo.history) != 0 {
		t.Fatalf("24-hour credential wrote %d history rows, want 0", len(repo.history))
	}
}

func TestRunDryRunDoesNotCallBroker(t *testing.T) {
	repo := newStubRepo()
	_ = repo.UpsertCredential(context.Background(), &models.BrokerCredential{
		UserID:             1,
		BrokerType:         models.PlatformSaxo,
		Name:               "saxo-live",
		AutoRefreshEnabled: true,
		IsActive:           true,
	})
	fake := &fakeBroker{platform: models.PlatformSaxo}
	svc := &TokenRefreshService{Repo: repo, Factory: fixedFactory(fake), RetryDelay: time.Millisecond}

	summary, err := svc.Run(context.Background(), RefreshOptions{DryRun: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Skipped != 1 || fake.refreshCalls != 0 {
		t.Fatalf("dry run must skip without broker calls: %+v calls=%d", summary, fake.refreshCalls)
	}
}

func TestPruneHistoryDropsOldRows(t *testing.T) {
	repo := newStubRepo()
	now := time.Now().UTC()
	_ = repo.InsertTokenRefreshHistory(context.Background(), &models.TokenRefreshHistory{
		CredentialID: 1, AttemptedAt: now.AddDate(0, 0, -40),
	})
	_ = repo.InsertTokenRefreshHistory(context.Background(), &models.TokenRefreshHistory{
		CredentialID: 1, AttemptedAt: now.AddDate(0, 0, -5),
	})
	svc := &TokenRefreshService{Repo: repo, RetentionDays: 30}

	pruned, err := svc.PruneHistory(context.Background())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}
	if len(repo.history) != 1 {
		t.Fatalf("remaining rows = %d, want 1", len(repo.history))
	}
}

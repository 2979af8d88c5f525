package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"autotrader/internal/models"
	"autotrader/internal/repository"
)

// CatalogSyncService refreshes the instrument catalog from every broker
// platform that has at least one active credential.
type CatalogSyncService struct {
	Repo    repository.Repository
	Logger  *zap.Logger
	Factory BrokerFactory

	PageLimit int
}

// Sync walks the active credentials, keeping one per platform, and
// ingests each platform's instrument listing.
func (s *CatalogSyncService) Sync(ctx context.Context) error {
	if s == nil || s.Repo == nil || s.Factory == nil {
		return nil
	}
	creds, err := s.Repo.ListActiveCredentials(ctx, "")
	if err != nil {
		return err
	}
	seen := map[string]struct{}{}
	var firstErr error
	for i := range creds {
		cred := creds[i]
		if _, done := seen[cred.BrokerType]; done {
			continue
		}
		seen[cred.BrokerType] = struct{}{}
		if err := s.syncPlatform(ctx, &cred); err != nil {
			if s.Logger != nil {
				s.Logger.Warn("catalog sync failed",
					zap.String("platform", cred.BrokerType), zap.Error(err))
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *CatalogSyncService) syncPlatform(ctx context.Context, cred *models.BrokerCredential) error {
	adapter := s.Factory(cred)
	if adapter == nil {
		return fmt.Errorf("no adapter for broker type %q", cred.BrokerType)
	}
	instruments, res := adapter.ListInstruments(ctx, "")
	if !res.OK {
		return resultErr("list instruments", res)
	}
	platform := adapter.Platform()
	now := time.Now().UTC()
	limit := s.PageLimit
	if limit <= 0 {
		limit = 500
	}

	entries := make([]models.CatalogEntry, 0, limit)
	total := 0
	for _, item := range instruments {
		if item.Symbol == "" {
			continue
		}
		entry := models.CatalogEntry{
			Symbol:     item.Symbol,
			Name:       item.Name,
			Platform:   platform,
			AssetKind:  item.AssetKind,
			Currency:   item.Currency,
			Exchange:   item.Exchange,
			IsTradable: true,
			SaxoUIC:    item.SaxoUIC,
			LastSeenAt: now,
		}
		if entry.Name == "" {
			entry.Name = item.Symbol
		}
		if platform == models.PlatformBinance {
			entry.BinanceBaseAsset = item.BaseAsset
			entry.BinanceQuoteAsset = item.QuoteAsset
			entry.BinanceStatus = item.Status
		}
		entries = append(entries, entry)
		if len(entries) >= limit {
			if err := s.Repo.UpsertCatalogEntries(ctx, entries); err != nil {
				return err
			}
			total += len(entries)
			entries = entries[:0]
		}
	}
	if len(entries) > 0 {
		if err := s.Repo.UpsertCatalogEntries(ctx, entries); err != nil {
			return err
		}
		total += len(entries)
	}
	if s.Logger != nil {
		s.Logger.Info("catalog sync complete",
			zap.String("platform", platform), zap.Int("entries", total))
	}
	return nil
}

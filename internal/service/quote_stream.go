package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"autotrader/internal/models"
	"autotrader/internal/repository"
)

// QuoteStreamService keeps open Binance positions marked to market from
// the exchange's miniTicker stream. The connection is re-established
// after ReconnectDelay on any failure until the context ends.
type QuoteStreamService struct {
	Repo   repository.Repository
	Logger *zap.Logger

	URL            string
	Symbols        []string
	ReconnectDelay time.Duration
}

type streamSubscribe struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

type miniTickerEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}

// Run blocks until the context is cancelled.
func (s *QuoteStreamService) Run(ctx context.Context) {
	if s == nil || s.Repo == nil || s.URL == "" {
		return
	}
	delay := s.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	for {
		if err := s.stream(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			if s.Logger != nil {
				s.Logger.Warn("quote stream disconnected", zap.Error(err))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (s *QuoteStreamService) stream(ctx context.Context) error {
	streams, err := s.streamNames(ctx)
	if err != nil {
		return err
	}
	if len(streams) == 0 {
		return nil
	}

	conn, _, err := websocket.Dial(ctx, s.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 20)

	sub, err := json.Marshal(streamSubscribe{Method: "SUBSCRIBE", Params: streams, ID: 1})
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, sub); err != nil {
		return err
	}
	if s.Logger != nil {
		s.Logger.Info("quote stream connected", zap.Int("streams", len(streams)))
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var event miniTickerEvent
		if err := json.Unmarshal(data, &event); err != nil || event.EventType != "24hrMiniTicker" {
			continue
		}
		if err := s.applyTick(ctx, event); err != nil && s.Logger != nil {
			s.Logger.Warn("quote tick not applied",
				zap.String("symbol", event.Symbol), zap.Error(err))
		}
	}
}

// streamNames resolves the subscription list: the configured symbols, or
// every Binance tradable with open quantity when none are configured.
func (s *QuoteStreamService) streamNames(ctx context.Context) ([]string, error) {
	symbols := s.Symbols
	if len(symbols) == 0 {
		tradables, err := s.Repo.ListTradablesByPlatform(ctx, models.PlatformBinance)
		if err != nil {
			return nil, err
		}
		for _, item := range tradables {
			if item.OpenQuantity.IsPositive() {
				symbols = append(symbols, item.Symbol)
			}
		}
	}
	streams := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		symbol = strings.ToLower(strings.TrimSpace(symbol))
		if symbol == "" {
			continue
		}
		streams = append(streams, symbol+"@miniTicker")
	}
	return streams, nil
}

// applyTick writes the close price onto every open position of the
// ticker's tradable.
func (s *QuoteStreamService) applyTick(ctx context.Context, event miniTickerEvent) error {
	price, err := decimal.NewFromString(event.Close)
	if err != nil {
		return err
	}
	tradable, err := s.Repo.GetTradableBySymbol(ctx, NormalizeSymbol(event.Symbol), models.PlatformBinance)
	if err != nil || tradable == nil {
		return err
	}
	tradableID := tradable.ID
	positions, err := s.Repo.ListOpenPositions(ctx, 0, models.PlatformBinance)
	if err != nil {
		return err
	}
	for _, pos := range positions {
		if pos.TradableID != tradableID {
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

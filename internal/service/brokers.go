package service

import (
	"time"

	"go.uber.org/zap"

	"autotrader/internal/broker"
	"autotrader/internal/broker/binance"
	"autotrader/internal/broker/saxo"
	"autotrader/internal/config"
	"autotrader/internal/models"
)

// BrokerFactory builds an adapter for one credential. Services receive
// it as a field so tests can substitute fakes.
type BrokerFactory func(cred *models.BrokerCredential) broker.Broker

// NewBrokerFactory wires the real adapters with the configured HTTP
// timeout and per-symbol pause.
func NewBrokerFactory(cfg config.BrokerConfig, automation config.AutomationConfig, logger *zap.Logger) BrokerFactory {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return func(cred *models.BrokerCredential) broker.Broker {
		if cred == nil {
			return nil
		}
		switch cred.BrokerType {
		case models.PlatformSaxo:
			adapter := saxo.New(cred, timeout, logger)
			if cfg.SymbolPause > 0 {
				adapter.SymbolPause = cfg.SymbolPause
			}
			return adapter
		case models.PlatformBinance:
			adapter := binance.New(cred, timeout, logger)
			if cfg.SymbolPause > 0 {
				adapter.SymbolPause = cfg.SymbolPause
			}
			if automation.TradeFetchMode != "" {
				adapter.TradeFetchMode = automation.TradeFetchMode
			}
			return adapter
		default:
			return nil
		}
	}
}

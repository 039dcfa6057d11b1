package broker

import (
	"fmt"
	"sync"

	"github.com/vitos/crypto_trade_bot/internal/config"
	"github.com/vitos/crypto_trade_bot/internal/domain"
	"github.com/vitos/crypto_trade_bot/internal/infrastructure/simulator"
)

// Factory builds a user's gateway from stored credentials. In alpaca mode the
// credential environment picks the paper or live endpoint; in simulated mode
// each user gets one in-memory account for the life of the process.
type Factory struct {
	cfg    config.BrokerConfig
	prices simulator.PriceSource

	simulated map[string]*simulator.Broker
	mu        sync.Mutex
}

func NewFactory(cfg config.BrokerConfig, prices simulator.PriceSource) *Factory {
	return &Factory{
		cfg:       cfg,
		prices:    prices,
		simulated: make(map[string]*simulator.Broker),
	}
}

func (f *Factory) ForCredentials(creds domain.Credentials) (domain.Broker, error) {
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, fmt.Errorf("incomplete credentials for user %s", creds.UserID)
	}

	switch f.cfg.Mode {
	case "simulated":
		f.mu.Lock()
		defer f.mu.Unlock()
		b, ok := f.simulated[creds.UserID]
		if !ok {
			b = simulator.NewBroker(f.prices, f.cfg.SimulatedCash)
			f.simulated[creds.UserID] = b
		}
		return b, nil
	case "alpaca":
		baseURL, err := f.endpoint(creds.Environment)
		if err != nil {
			return nil, err
		}
		return NewAlpacaClient(creds.APIKey, creds.APISecret, baseURL, f.cfg.RequestTimeout), nil
	default:
		return nil, fmt.Errorf("unknown broker mode %q", f.cfg.Mode)
	}
}

func (f *Factory) endpoint(env domain.Environment) (string, error) {
	switch env {
	case domain.EnvironmentPaper, "":
		if f.cfg.PaperEndpoint != "" {
			return f.cfg.PaperEndpoint, nil
		}
		return AlpacaPaperURL, nil
	case domain.EnvironmentLive:
		if f.cfg.LiveEndpoint != "" {
			return f.cfg.LiveEndpoint, nil
		}
		return AlpacaLiveURL, nil
	default:
		return "", fmt.Errorf("unknown environment %q", env)
	}
}

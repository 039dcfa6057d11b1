package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/crypto_trade_bot/internal/domain"
)

// AccountSnapshots is the short-lived per-user account cache.
type AccountSnapshots interface {
	Get(userID string) (*domain.Account, bool)
	Set(userID string, account *domain.Account)
}

type resolvedBroker struct {
	broker    domain.Broker
	updatedAt time.Time
}

// BrokerResolver turns a user's stored credentials into a broker gateway and
// reuses it until the credentials change.
type BrokerResolver struct {
	creds   domain.CredentialRepository
	factory domain.BrokerFactory
	cache   map[string]resolvedBroker
	mu      sync.Mutex
}

func NewBrokerResolver(creds domain.CredentialRepository, factory domain.BrokerFactory) *BrokerResolver {
	return &BrokerResolver{
		creds:   creds,
		factory: factory,
		cache:   make(map[string]resolvedBroker),
	}
}

// Resolve returns the user's broker together with the credential readiness.
// err is non-nil whenever readiness is not ready.
func (r *BrokerResolver) Resolve(ctx context.Context, userID string) (domain.Broker, domain.Readiness, error) {
	creds, err := r.creds.GetCredentials(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ReadinessMissingCredentials, fmt.Errorf("no api credentials for user %s", userID)
	}
	if err != nil {
		return nil, domain.ReadinessMissingCredentials, fmt.Errorf("load credentials: %w", err)
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, domain.ReadinessMissingCredentials, fmt.Errorf("empty api credentials for user %s", userID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.cache[userID]; ok && cached.updatedAt.Equal(creds.UpdatedAt) {
		return cached.broker, domain.ReadinessReady, nil
	}

	broker, err := r.factory.ForCredentials(*creds)
	if err != nil {
		return nil, domain.ReadinessInvalidCredentials, fmt.Errorf("build broker: %w", err)
	}
	r.cache[userID] = resolvedBroker{broker: broker, updatedAt: creds.UpdatedAt}
	return broker, domain.ReadinessReady, nil
}

func (r *BrokerResolver) Invalidate(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, userID)
}

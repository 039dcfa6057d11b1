package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/vitos/crypto_trade_bot/internal/domain"
)

// AccountCache keeps the last account snapshot per user for a short TTL so risk
// sizing does not need a broker round trip on every tick.
type AccountCache struct {
	c   *ristretto.Cache
	ttl time.Duration
}

func NewAccountCache(ttl time.Duration) (*AccountCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 12,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &AccountCache{c: c, ttl: ttl}, nil
}

func (c *AccountCache) Get(userID string) (*domain.Account, bool) {
	v, ok := c.c.Get(userID)
	if !ok {
		return nil, false
	}
	acc, ok := v.(domain.Account)
	if !ok {
		return nil, false
	}
	return &acc, true
}

// Set stores a copy of account. Writes are buffered; call Wait when a read must
// observe it immediately.
func (c *AccountCache) Set(userID string, account *domain.Account) {
	if account == nil {
		return
	}
	c.c.SetWithTTL(userID, *account, 1, c.ttl)
}

func (c *AccountCache) Del(userID string) {
	c.c.Del(userID)
}

func (c *AccountCache) Wait() {
	c.c.Wait()
}

func (c *AccountCache) Close() {
	c.c.Close()
}

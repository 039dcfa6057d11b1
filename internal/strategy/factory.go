package strategy

import (
	"sort"

	"github.com/vitos/crypto_trade_bot/internal/domain"
)

type Constructor func() Strategy

// Registry maps strategy names to constructors. It is built once at startup.
type Registry struct {
	constructors map[domain.StrategyName]Constructor
	fallback     domain.StrategyName
}

// NewRegistry returns a registry holding the built-in strategies with
// mean reversion as the fallback.
func NewRegistry() *Registry {
	r := &Registry{
		constructors: make(map[domain.StrategyName]Constructor),
		fallback:     domain.StrategyMeanReversion,
	}
	r.Register(domain.StrategyMeanReversion, func() Strategy { return NewMeanReversion() })
	r.Register(domain.StrategyMomentum, func() Strategy { return NewMomentum() })
	r.Register(domain.StrategyRSI, func() Strategy { return NewRSI() })
	r.Register(domain.StrategyAdaptive, func() Strategy { return NewAdaptive() })
	return r
}

func (r *Registry) Register(name domain.StrategyName, ctor Constructor) {
	r.constructors[name] = ctor
}

// New constructs the named strategy. Unknown names build the fallback and
// report fellBack so the caller can warn.
func (r *Registry) New(name domain.StrategyName) (s Strategy, fellBack bool) {
	if ctor, ok := r.constructors[name]; ok {
		return ctor(), false
	}
	return r.constructors[r.fallback](), true
}

func (r *Registry) Names() []domain.StrategyName {
	names := make([]domain.StrategyName, 0, len(r.constructors))
	for n := range r.constructors {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

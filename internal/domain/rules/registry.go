package rules

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Game type keys for the shipped rule sets.
const (
	GameTypeNinetyBall      = "ninety-ball"
	GameTypeSeventyFiveBall = "seventy-five-ball"
)

// Registry resolves game-type keys to rule sets. Unknown keys fall back to
// the default rule set with a warning rather than failing the session.
type Registry struct {
	mu     sync.RWMutex
	sets   map[string]RuleSet
	def    RuleSet
	logger zerolog.Logger
}

// NewRegistry creates a registry with def as the fallback rule set.
func NewRegistry(def RuleSet, logger zerolog.Logger) *Registry {
	return &Registry{
		sets:   make(map[string]RuleSet),
		def:    def,
		logger: logger.With().Str("service", "rules").Logger(),
	}
}

// NewDefaultRegistry builds a registry with both shipped rule sets
// registered and 90-ball as the fallback.
func NewDefaultRegistry(logger zerolog.Logger) *Registry {
	reg := NewRegistry(NewNinetyBallRuleSet(), logger)
	reg.Register(GameTypeNinetyBall, NewNinetyBallRuleSet())
	reg.Register(GameTypeSeventyFiveBall, NewSeventyFiveBallRuleSet())
	return reg
}

func (r *Registry) Register(gameType string, rs RuleSet) {
	gameType = strings.TrimSpace(gameType)
	if gameType == "" || rs == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets[gameType] = rs
}

// Resolve returns the rule set for gameType, or the default with a logged
// warning when the key is unknown.
func (r *Registry) Resolve(gameType string) RuleSet {
	gameType = strings.TrimSpace(gameType)
	r.mu.RLock()
	rs, ok := r.sets[gameType]
	r.mu.RUnlock()
	if ok {
		return rs
	}
	r.logger.Warn().Str("game_type", gameType).Msg("unknown game type, using default rule set")
	return r.def
}

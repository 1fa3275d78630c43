// Package reward resolves how much currency a trigger is worth.
//
// Lookups are fail-open: a missing rule, a non-positive amount, or any store
// or cache failure all resolve to "no reward". Reward issuance never decides
// whether a check-in is accepted.
package reward

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"lumo/internal/model"
	"lumo/internal/repository"
)

const DefaultCacheTTL = 30 * time.Second

type Engine struct {
	rules repository.RewardRuleStore
	cache redis.Cmdable
	ttl   time.Duration
}

// NewEngine builds an engine over rules. cache may be nil to disable the
// Redis read-through cache.
func NewEngine(rules repository.RewardRuleStore, cache redis.Cmdable, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Engine{rules: rules, cache: cache, ttl: ttl}
}

// Lookup returns the amount to credit for trigger and whether a reward
// applies at all.
func (e *Engine) Lookup(ctx context.Context, trigger string) (int64, bool) {
	if amount, ok := e.cached(ctx, trigger); ok {
		return amount, amount > 0
	}

	rule, err := e.rules.ActiveRule(ctx, trigger)
	if errors.Is(err, repository.ErrNotFound) {
		e.remember(ctx, trigger, 0)
		return 0, false
	}
	if err != nil {
		slog.Warn("reward: rule lookup failed, continuing without reward", "trigger", trigger, "error", err)
		return 0, false
	}

	e.remember(ctx, trigger, rule.Amount)
	if rule.Amount <= 0 {
		return 0, false
	}
	return rule.Amount, true
}

// CheckIn is Lookup for the check-in trigger.
func (e *Engine) CheckIn(ctx context.Context) (int64, bool) {
	return e.Lookup(ctx, model.TriggerCheckIn)
}

func cacheKey(trigger string) string {
	return "reward_rule:" + trigger
}

func (e *Engine) cached(ctx context.Context, trigger string) (int64, bool) {
	if e.cache == nil {
		return 0, false
	}
	val, err := e.cache.Get(ctx, cacheKey(trigger)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false
	}
	if err != nil {
		slog.Warn("reward: cache read failed", "trigger", trigger, "error", err)
		return 0, false
	}
	amount, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}
	return amount, true
}

func (e *Engine) remember(ctx context.Context, trigger string, amount int64) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(ctx, cacheKey(trigger), amount, e.ttl).Err(); err != nil {
		slog.Warn("reward: cache write failed", "trigger", trigger, "error", err)
	}
}

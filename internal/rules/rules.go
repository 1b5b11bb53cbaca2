package rules

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
)

// Rule is a single scoring rule: the points it awards and a human description.
type Rule struct {
	Points      int    `json:"points"`
	Description string `json:"description"`
}

// Config is the versioned scoring configuration, loaded once at startup and
// immutable afterwards. Streak bonus rules are keyed by day threshold.
type Config struct {
	Version          string          `json:"version"`
	LastUpdated      string          `json:"last_updated"`
	CheckInRules     map[string]Rule `json:"check_in_rules"`
	StreakBonusRules map[string]Rule `json:"streak_bonus_rules"`
	SpecialRules     map[string]Rule `json:"special_rules"`
}

// requiredCheckInTypes are the activity categories every config must cover
// with a strictly positive point value.
var requiredCheckInTypes = []string{"check_in", "post", "comment"}

// Engine answers point-value questions against a validated config. It holds
// no mutable state; a config reload builds a fresh Engine.
type Engine struct {
	cfg Config
	// streak bonus thresholds in descending order
	thresholds []int
	logger     *slog.Logger
}

// Load reads, parses and validates a rules config file. Any failure here must
// be treated as fatal by the caller: serving traffic with an unvalidated rules
// table corrupts every subsequent award silently.
func Load(path string, logger *slog.Logger) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse rules config: %w", err)
	}

	return New(cfg, logger)
}

// New validates a config and builds an Engine from it.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	thresholds, err := validate(cfg)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:        cfg,
		thresholds: thresholds,
		logger:     logger,
	}, nil
}

// validate asserts structural soundness and returns the parsed streak bonus
// thresholds in descending order.
func validate(cfg Config) ([]int, error) {
	if cfg.Version == "" {
		return nil, fmt.Errorf("invalid rules config: version is required")
	}

	for _, activityType := range requiredCheckInTypes {
		rule, ok := cfg.CheckInRules[activityType]
		if !ok {
			return nil, fmt.Errorf("invalid rules config: missing check-in rule for %q", activityType)
		}
		if rule.Points <= 0 {
			return nil, fmt.Errorf("invalid rules config: check-in rule %q must have positive points, got %d", activityType, rule.Points)
		}
	}

	if len(cfg.StreakBonusRules) == 0 {
		return nil, fmt.Errorf("invalid rules config: streak_bonus_rules must not be empty")
	}

	thresholds := make([]int, 0, len(cfg.StreakBonusRules))
	for key, rule := range cfg.StreakBonusRules {
		days, err := strconv.Atoi(key)
		if err != nil || days <= 0 {
			return nil, fmt.Errorf("invalid rules config: streak bonus threshold %q is not a positive integer", key)
		}
		if rule.Points <= 0 {
			return nil, fmt.Errorf("invalid rules config: streak bonus rule %q must have positive points, got %d", key, rule.Points)
		}
		thresholds = append(thresholds, days)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(thresholds)))

	return thresholds, nil
}

// Version returns the config version string.
func (e *Engine) Version() string {
	return e.cfg.Version
}

// CalculateCheckInPoints returns the award for an activity type. Unknown
// types return 0 with a warning; completeness is only enforced at load time.
func (e *Engine) CalculateCheckInPoints(activityType string) int {
	rule, ok := e.cfg.CheckInRules[activityType]
	if !ok {
		e.logger.Warn("unknown check-in activity type, awarding 0 points",
			"activity_type", activityType,
			"rules_version", e.cfg.Version,
		)
		return 0
	}
	return rule.Points
}

// CalculateStreakBonus walks the configured day thresholds in descending
// order; the first threshold T with streakDays >= T and streakDays divisible
// by T fires. Only the highest qualifying tier pays out; tiers are not
// cumulative even when several divide streakDays.
func (e *Engine) CalculateStreakBonus(streakDays int) int {
	if streakDays <= 0 {
		return 0
	}

	for _, t := range e.thresholds {
		if streakDays >= t && streakDays%t == 0 {
			return e.cfg.StreakBonusRules[strconv.Itoa(t)].Points
		}
	}

	return 0
}

// SpecialRulePoints returns the award for a special rule key, 0 with a
// warning when the key is unknown.
func (e *Engine) SpecialRulePoints(key string) int {
	rule, ok := e.cfg.SpecialRules[key]
	if !ok {
		e.logger.Warn("unknown special rule key, awarding 0 points",
			"key", key,
			"rules_version", e.cfg.Version,
		)
		return 0
	}
	return rule.Points
}

// Package policy classifies provider commands into risk tiers and decides
// whether they may execute under the configured security mode.
package policy

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lvonguyen/cloudgate/internal/cloud"
	"github.com/lvonguyen/cloudgate/internal/cmdline"
)

// RiskTier is the risk classification of a command. Ordering is total;
// higher values are more dangerous.
type RiskTier int

const (
	TierSafe RiskTier = iota
	TierLow
	TierMedium
	TierHigh
	TierCritical
)

func (t RiskTier) String() string {
	switch t {
	case TierSafe:
		return "safe"
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	case TierCritical:
		return "critical"
	}
	return "unknown"
}

// ParseTier maps a config string to a RiskTier.
func ParseTier(s string) (RiskTier, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "safe":
		return TierSafe, true
	case "low":
		return TierLow, true
	case "medium":
		return TierMedium, true
	case "high":
		return TierHigh, true
	case "critical":
		return TierCritical, true
	}
	return TierSafe, false
}

// categoryTiers maps each block-list category to its risk tier.
var categoryTiers = map[cloud.Category]RiskTier{
	cloud.CategoryIdentity: TierCritical,
	cloud.CategorySecrets:  TierHigh,
	cloud.CategoryLogging:  TierHigh,
	cloud.CategoryNetwork:  TierHigh,
	cloud.CategoryProject:  TierCritical,
	cloud.CategoryCompute:  TierMedium,
	cloud.CategoryStorage:  TierMedium,
	cloud.CategoryDatabase: TierMedium,
}

// Mode selects how block-list matches are handled.
type Mode string

const (
	ModeStrict     Mode = "strict"
	ModePermissive Mode = "permissive"
)

// ParseMode maps a config string to a Mode, defaulting to strict.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModePermissive)) {
		return ModePermissive
	}
	return ModeStrict
}

// Classification is the outcome of classifying one command.
type Classification struct {
	Tier RiskTier

	// Category is set when a block-list category matched.
	Category cloud.Category

	// Pattern is the block-list pattern that matched, if any.
	Pattern string
}

// Verdict is the outcome of validating a command under a mode.
type Verdict struct {
	Allowed  bool
	Category cloud.Category
	Reason   string

	// Warning is attached to allowed-but-risky commands (permissive mode,
	// or strict mode below the deny threshold).
	Warning string
}

// Engine evaluates commands against the provider block-lists. The engine is
// immutable after construction and safe for concurrent use.
type Engine struct {
	mode          Mode
	warnThreshold RiskTier
	logger        *zap.Logger
}

// NewEngine creates a policy engine. warnThreshold controls which allowed
// tiers still produce a warning (default medium and above).
func NewEngine(mode Mode, warnThreshold RiskTier, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{mode: mode, warnThreshold: warnThreshold, logger: logger}
}

// Mode returns the engine's security mode.
func (e *Engine) Mode() Mode { return e.mode }

// Classify assigns a risk tier to a tokenized provider command.
//
// The operation tokens (everything after the binary, up to the first flag)
// are checked against the provider's read-only verb prefixes; the longest
// match wins and yields Safe. Otherwise the categorized block-list is walked
// in declared order and the first matching pattern assigns its category's
// tier. Commands matching nothing are Low.
func (e *Engine) Classify(provider *cloud.Provider, argv []string) Classification {
	if matchReadOnlyVerb(provider, argv) {
		return Classification{Tier: TierSafe}
	}

	normalized := cmdline.Normalize(argv)
	for _, rule := range provider.BlockRules {
		for _, pat := range rule.Patterns {
			if strings.Contains(normalized, pat) {
				return Classification{
					Tier:     categoryTiers[rule.Category],
					Category: rule.Category,
					Pattern:  pat,
				}
			}
		}
	}
	return Classification{Tier: TierLow}
}

// Validate decides whether a classified command may execute. Strict mode
// denies block-list matches at tier medium and above; permissive mode allows
// everything but attaches a warning at the warn threshold and above.
// The category named in a denial is stable across calls for the same command.
func (e *Engine) Validate(provider *cloud.Provider, argv []string) (Classification, Verdict) {
	c := e.Classify(provider, argv)

	if c.Category != "" && c.Tier >= TierMedium && e.mode == ModeStrict {
		reason := fmt.Sprintf("%s-mutating command blocked in strict mode (category=%s)", c.Category, c.Category)
		return c, Verdict{Allowed: false, Category: c.Category, Reason: reason}
	}

	v := Verdict{Allowed: true, Category: c.Category}
	if c.Tier >= e.warnThreshold && c.Tier > TierSafe {
		v.Warning = fmt.Sprintf("command is %s risk (category=%s)", c.Tier, c.Category)
		e.logger.Warn("risky command allowed",
			zap.String("provider", string(provider.Kind)),
			zap.String("tier", c.Tier.String()),
			zap.String("category", string(c.Category)),
			zap.String("mode", string(e.mode)),
		)
	}
	return c, v
}

// matchReadOnlyVerb scans the operation tokens (before the first flag) for
// the longest read-only verb match. Verbs ending in "-" match as prefixes
// (AWS style, describe-*); all others must match a whole token.
func matchReadOnlyVerb(provider *cloud.Provider, argv []string) bool {
	longest := 0
	for _, tok := range argv[1:] {
		if strings.HasPrefix(tok, "-") {
			break
		}
		for _, verb := range provider.ReadOnlyVerbs {
			prefixForm := strings.HasSuffix(verb, "-")
			if (prefixForm && strings.HasPrefix(tok, verb)) || (!prefixForm && tok == verb) {
				if len(verb) > longest {
					longest = len(verb)
				}
			}
		}
	}
	return longest > 0
}

package analysis

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/routelens/api/schemas"
	"github.com/xkilldash9x/routelens/internal/config"
)

// RuleSet is the immutable policy the classifier evaluates transitions
// against. Build one with NewRuleSet and share it freely; it is never
// mutated after construction.
type RuleSet struct {
	// ExpectedCountry scopes the sovereignty check to one home jurisdiction.
	// Empty means the home jurisdiction is inferred from the trace endpoints.
	ExpectedCountry string

	disallowedASNs map[uint32]struct{}
	disallowedOrgs []string
}

// NewRuleSet builds a RuleSet from the analysis configuration. Organization
// patterns are lowercased once here so matching is case-insensitive.
func NewRuleSet(cfg config.AnalysisConfig) RuleSet {
	rs := RuleSet{
		ExpectedCountry: cfg.ExpectedCountry,
		disallowedASNs:  make(map[uint32]struct{}, len(cfg.DisallowedTransitASNs)),
		disallowedOrgs:  make([]string, 0, len(cfg.DisallowedTransitOrgs)),
	}
	for _, asn := range cfg.DisallowedTransitASNs {
		rs.disallowedASNs[asn] = struct{}{}
	}
	for _, org := range cfg.DisallowedTransitOrgs {
		if org = strings.TrimSpace(org); org != "" {
			rs.disallowedOrgs = append(rs.disallowedOrgs, strings.ToLower(org))
		}
	}
	return rs
}

func (r RuleSet) asnDisallowed(asn uint32) bool {
	_, ok := r.disallowedASNs[asn]
	return ok
}

func (r RuleSet) orgDisallowed(org string) bool {
	if org == "" {
		return false
	}
	lowered := strings.ToLower(org)
	for _, pattern := range r.disallowedOrgs {
		if strings.Contains(lowered, pattern) {
			return true
		}
	}
	return false
}

// Classifier attaches anomaly flags to derived transitions. It only ever
// adds flags on positive evidence: a hop with unresolved metadata is
// undiagnosable, not suspicious, and contributes nothing.
type Classifier struct {
	rules RuleSet
	log   *zap.Logger
}

// NewClassifier constructs a Classifier over the given rule set.
func NewClassifier(rules RuleSet, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{rules: rules, log: logger.Named("classifier")}
}

// Classify evaluates every rule against the hop sequence and mutates the
// transitions in place, returning the same slice. Transitions are assumed
// positional: transitions[i] connects hops[i] to hops[i+1].
func (c *Classifier) Classify(hops []schemas.EnrichedHop, transitions []schemas.PathTransition) []schemas.PathTransition {
	if len(transitions) == 0 {
		return transitions
	}

	for i := range transitions {
		dest := &hops[i+1]
		c.flagCategory(&transitions[i], dest, i+1 == len(hops)-1)
		c.flagTransitAS(&transitions[i], dest)
	}
	c.flagSovereignty(hops, transitions)

	return transitions
}

// flagCategory raises category-driven flags for the destination hop of a
// transition. The final hop is exempt from the datacenter rule: terminating
// at a datacenter is normal, routing through one mid-path is the detour.
func (c *Classifier) flagCategory(t *schemas.PathTransition, dest *schemas.EnrichedHop, destIsFinal bool) {
	switch dest.Metadata.Category {
	case schemas.CategoryDatacenter:
		if destIsFinal {
			return
		}
		t.AddFlag(schemas.FlagDatacenterDetour,
			fmt.Sprintf("intermediate hop %d routes through datacenter infrastructure (%s)",
				dest.HopIndex, orgOrUnknown(dest)))
	case schemas.CategoryProxyVPN:
		t.AddFlag(schemas.FlagProxySuspected,
			fmt.Sprintf("hop %d is a known proxy or VPN endpoint (%s)",
				dest.HopIndex, orgOrUnknown(dest)))
	case schemas.CategoryTor:
		t.AddFlag(schemas.FlagProxySuspected,
			fmt.Sprintf("hop %d is a known Tor node (%s)",
				dest.HopIndex, orgOrUnknown(dest)))
	}
}

// flagTransitAS raises unexpected_transit_as when the destination hop sits
// in a disallowed autonomous system, by number or by organization pattern.
func (c *Classifier) flagTransitAS(t *schemas.PathTransition, dest *schemas.EnrichedHop) {
	if !dest.Metadata.Resolved {
		return
	}
	if dest.Metadata.ASN != nil && c.rules.asnDisallowed(*dest.Metadata.ASN) {
		t.AddFlag(schemas.FlagUnexpectedTransitAS,
			fmt.Sprintf("hop %d transits disallowed AS%d (%s)",
				dest.HopIndex, *dest.Metadata.ASN, orgOrUnknown(dest)))
		return
	}
	if c.rules.orgDisallowed(dest.Metadata.Organization) {
		t.AddFlag(schemas.FlagUnexpectedTransitAS,
			fmt.Sprintf("hop %d transits disallowed network operator %q",
				dest.HopIndex, dest.Metadata.Organization))
	}
}

// flagSovereignty detects boomerang routing: a path whose endpoints share a
// home jurisdiction but which crosses a third country in between. Both the
// transition entering the foreign hop and the one leaving it are flagged,
// so graph consumers see the full excursion.
func (c *Classifier) flagSovereignty(hops []schemas.EnrichedHop, transitions []schemas.PathTransition) {
	home := c.homeCountry(hops)
	if home == "" {
		return
	}

	for i := 1; i < len(hops)-1; i++ {
		country := hops[i].Metadata.Country
		if country == "" || country == home {
			continue
		}
		rationale := fmt.Sprintf("path between %s endpoints crosses %s jurisdiction at hop %d",
			home, country, hops[i].HopIndex)
		transitions[i-1].AddFlag(schemas.FlagSovereigntyViolation, rationale)
		transitions[i].AddFlag(schemas.FlagSovereigntyViolation, rationale)
	}
}

// homeCountry resolves the jurisdiction the sovereignty rule protects.
// It is the shared country of the first and last resolvable hops; when the
// endpoints disagree, or either is unknown, there is no home jurisdiction
// and the rule is inert. A configured ExpectedCountry further narrows the
// rule to that jurisdiction alone.
func (c *Classifier) homeCountry(hops []schemas.EnrichedHop) string {
	origin := firstKnownCountry(hops)
	final := lastKnownCountry(hops)
	if origin == "" || origin != final {
		return ""
	}
	if c.rules.ExpectedCountry != "" && origin != c.rules.ExpectedCountry {
		return ""
	}
	return origin
}

func firstKnownCountry(hops []schemas.EnrichedHop) string {
	for i := range hops {
		if country := hops[i].Metadata.Country; country != "" {
			return country
		}
	}
	return ""
}

func lastKnownCountry(hops []schemas.EnrichedHop) string {
	for i := len(hops) - 1; i >= 0; i-- {
		if country := hops[i].Metadata.Country; country != "" {
			return country
		}
	}
	return ""
}

func orgOrUnknown(hop *schemas.EnrichedHop) string {
	if hop.Metadata.Organization != "" {
		return hop.Metadata.Organization
	}
	return "unknown operator"
}

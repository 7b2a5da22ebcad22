package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/loanportfolio/internal/config"
)

// Anchor names the side of the join that always appears in the portfolio.
type Anchor string

const (
	AnchorApplications Anchor = "applications"
	AnchorServicing    Anchor = "servicing"
	AnchorBoth         Anchor = "both"
	AnchorNone         Anchor = "none"
)

var ErrInvalidAnchor = errors.New("invalid_join_anchor")

// Policy decides which records survive the join.
type Policy struct {
	Anchor Anchor
	// RetainOrphanedServicing appends servicing records with no matching
	// application even when Anchor would drop them.
	RetainOrphanedServicing bool
}

// DefaultPolicy is an applications-anchored left outer join that still keeps
// servicing records whose application could not be resolved.
var DefaultPolicy = Policy{Anchor: AnchorApplications, RetainOrphanedServicing: true}

func ParseAnchor(raw string) (Anchor, error) {
	switch a := Anchor(strings.ToLower(strings.TrimSpace(raw))); a {
	case "":
		return DefaultPolicy.Anchor, nil
	case AnchorApplications, AnchorServicing, AnchorBoth, AnchorNone:
		return a, nil
	case "lms":
		return AnchorServicing, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAnchor, raw)
	}
}

// PolicyFromConfig reads JOIN_ANCHOR and JOIN_RETAIN_ORPHANS.
func PolicyFromConfig(cfg config.Config) (Policy, error) {
	anchor, err := ParseAnchor(cfg.JoinAnchor)
	if err != nil {
		return Policy{}, err
	}
	return Policy{Anchor: anchor, RetainOrphanedServicing: cfg.JoinRetainOrphans}, nil
}

func (p Policy) keepsUnmatchedApplications() bool {
	return p.Anchor == AnchorApplications || p.Anchor == AnchorBoth
}

func (p Policy) keepsOrphanedServicing() bool {
	return p.RetainOrphanedServicing || p.Anchor == AnchorServicing || p.Anchor == AnchorBoth
}

func (p Policy) String() string {
	return fmt.Sprintf("anchor=%s retain_orphans=%t", p.Anchor, p.RetainOrphanedServicing)
}

package domain

import (
	"errors"
	"time"
)

// Org represents an organization/tenant. The signing secret is used by the
// credential verifier to recompute request signatures; rate-limit overrides,
// when set, win over the plan-tier defaults.
type Org struct {
	ID            string
	Name          string
	Status        OrgStatus
	PlanTier      PlanTier
	SigningSecret string
	// RateCapacity overrides the org token-bucket capacity. nil means use the tier default.
	RateCapacity *int
	// RateRefillPerSec overrides the org bucket refill rate. nil means use the tier default.
	RateRefillPerSec *float64
	CreatedAt        time.Time
}

type OrgStatus string

const (
	OrgStatusActive    OrgStatus = "active"
	OrgStatusSuspended OrgStatus = "suspended"
)

// PlanTier scales the default ingestion rate limits.
type PlanTier string

const (
	TierFree       PlanTier = "free"
	TierStandard   PlanTier = "standard"
	TierEnterprise PlanTier = "enterprise"
)

// TierMultiplier returns the factor applied to the base rate-limit defaults
// for the org's tier. Unknown tiers get the free multiplier.
func (o *Org) TierMultiplier() float64 {
	switch o.PlanTier {
	case TierEnterprise:
		return 10
	case TierStandard:
		return 3
	default:
		return 1
	}
}

// Validate validates the organization for persistence. Returns an error describing the first validation failure.
func (o *Org) Validate() error {
	if o.Name == "" {
		return errors.New("name is required")
	}
	if o.SigningSecret == "" {
		return errors.New("signing secret is required")
	}
	if o.Status == "" {
		o.Status = OrgStatusActive
	}
	if o.PlanTier == "" {
		o.PlanTier = TierFree
	}
	if o.RateCapacity != nil && *o.RateCapacity <= 0 {
		return errors.New("rate capacity override must be positive")
	}
	if o.RateRefillPerSec != nil && *o.RateRefillPerSec <= 0 {
		return errors.New("rate refill override must be positive")
	}
	return nil
}

package admission

import (
	"context"
	"log"
	"time"

	orgdomain "telemetry-ingest-plane/internal/organization/domain"
)

// Limits is a token-bucket configuration: burst capacity and steady refill rate.
type Limits struct {
	Capacity     int
	RefillPerSec float64
}

// OrgSource resolves an organization for per-org limit overrides; satisfied by
// the organization repository.
type OrgSource interface {
	GetOrganizationByID(ctx context.Context, id string) (*orgdomain.Org, error)
}

// Controller admits or rejects a request before it touches the queue. A
// request must pass both the org bucket and the source-address bucket.
// Idempotency suppression is not the controller's job: a duplicate submission
// is admitted normally and discarded later by the normalizer.
type Controller struct {
	buckets     BucketStore
	orgs        OrgSource
	orgDefaults Limits
	addrLimits  Limits
	nowF        func() time.Time
}

// NewController returns a Controller. orgDefaults is the base per-org limit
// (scaled by plan tier, overridden per org); addrLimits applies uniformly per
// source address. orgs may be nil, in which case only defaults apply.
func NewController(buckets BucketStore, orgs OrgSource, orgDefaults, addrLimits Limits) *Controller {
	return &Controller{
		buckets:     buckets,
		orgs:        orgs,
		orgDefaults: orgDefaults,
		addrLimits:  addrLimits,
		nowF:        time.Now,
	}
}

// Admit checks both buckets. Returns whether the request may proceed and, when
// rejected, a retry hint for the Retry-After header. An org lookup failure
// falls back to the defaults rather than dropping traffic: rate limiting is a
// shaping mechanism, not an availability gate.
func (c *Controller) Admit(ctx context.Context, orgID, sourceAddr string) (bool, time.Duration) {
	now := c.nowF().UTC()

	limits := c.orgLimits(ctx, orgID)
	ok, wait := c.buckets.Take("org:"+orgID, limits.Capacity, limits.RefillPerSec, now)
	if !ok {
		return false, wait
	}

	if sourceAddr != "" {
		ok, wait = c.buckets.Take("addr:"+sourceAddr, c.addrLimits.Capacity, c.addrLimits.RefillPerSec, now)
		if !ok {
			return false, wait
		}
	}
	return true, 0
}

// orgLimits resolves the effective limits for orgID: tier-scaled defaults,
// then per-org overrides.
func (c *Controller) orgLimits(ctx context.Context, orgID string) Limits {
	limits := c.orgDefaults
	if c.orgs == nil {
		return limits
	}
	org, err := c.orgs.GetOrganizationByID(ctx, orgID)
	if err != nil {
		log.Printf("admission: org lookup for %s failed, using defaults: %v", orgID, err)
		return limits
	}
	if org == nil {
		return limits
	}
	mult := org.TierMultiplier()
	limits.Capacity = int(float64(limits.Capacity) * mult)
	limits.RefillPerSec *= mult
	if org.RateCapacity != nil {
		limits.Capacity = *org.RateCapacity
	}
	if org.RateRefillPerSec != nil {
		limits.RefillPerSec = *org.RateRefillPerSec
	}
	return limits
}

package domain

import "testing"

func TestValidate(t *testing.T) {
	cap := 10
	refill := 5.0
	badCap := 0
	badRefill := -1.0

	cases := []struct {
		name    string
		org     Org
		wantErr bool
	}{
		{"valid", Org{ID: "o1", Name: "Acme", Status: OrgStatusActive, PlanTier: TierFree, SigningSecret: "s"}, false},
		{"missing name", Org{ID: "o1", Status: OrgStatusActive, SigningSecret: "s"}, true},
		{"missing signing secret", Org{ID: "o1", Name: "Acme", Status: OrgStatusActive}, true},
		{"valid overrides", Org{ID: "o1", Name: "Acme", Status: OrgStatusActive, SigningSecret: "s", RateCapacity: &cap, RateRefillPerSec: &refill}, false},
		{"zero capacity override", Org{ID: "o1", Name: "Acme", Status: OrgStatusActive, SigningSecret: "s", RateCapacity: &badCap}, true},
		{"negative refill override", Org{ID: "o1", Name: "Acme", Status: OrgStatusActive, SigningSecret: "s", RateRefillPerSec: &badRefill}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.org.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestValidate_Defaults(t *testing.T) {
	o := Org{ID: "o1", Name: "Acme", SigningSecret: "s"}
	if err := o.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if o.Status != OrgStatusActive {
		t.Errorf("Status = %q, want active default", o.Status)
	}
	if o.PlanTier != TierFree {
		t.Errorf("PlanTier = %q, want free default", o.PlanTier)
	}
}

func TestTierMultiplier(t *testing.T) {
	cases := []struct {
		tier PlanTier
		want float64
	}{
		{TierFree, 1},
		{TierStandard, 3},
		{TierEnterprise, 10},
		{"unknown", 1},
	}
	for _, tc := range cases {
		o := Org{PlanTier: tc.tier}
		if got := o.TierMultiplier(); got != tc.want {
			t.Errorf("TierMultiplier(%q) = %v, want %v", tc.tier, got, tc.want)
		}
	}
}

package domain

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v, want nil", err)
	}

	toast := cfg.TierPolicy(TierToast)
	if toast.TimeWindow != 30*time.Second || toast.SimilarityThreshold != 0.85 || toast.MaxDuplicates != 1 {
		t.Errorf("toast tier = %+v, want 30s/0.85/1", toast)
	}
	notification := cfg.TierPolicy(TierNotification)
	if notification.TimeWindow != 120*time.Second || notification.SimilarityThreshold != 0.90 || notification.MaxDuplicates != 2 {
		t.Errorf("notification tier = %+v, want 120s/0.90/2", notification)
	}
	urgent := cfg.TierPolicy(TierUrgent)
	if urgent.TimeWindow != 600*time.Second || urgent.SimilarityThreshold != 0.95 || urgent.MaxDuplicates != 1 {
		t.Errorf("urgent tier = %+v, want 600s/0.95/1", urgent)
	}
}

func TestPriority_Tier(t *testing.T) {
	tests := []struct {
		priority Priority
		want     Tier
	}{
		{PriorityNormal, TierToast},
		{PriorityHigh, TierNotification},
		{PriorityUrgent, TierUrgent},
		{PriorityLow, TierDefault},
		{" HIGH ", TierNotification},
		{"", TierToast},
		{"critical", TierToast},
	}

	for _, tt := range tests {
		if got := tt.priority.Tier(); got != tt.want {
			t.Errorf("Priority(%q).Tier() = %q, want %q", tt.priority, got, tt.want)
		}
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{name: "valid", policy: Policy{TimeWindow: time.Second, SimilarityThreshold: 0.5, MaxDuplicates: 1}},
		{name: "threshold bounds inclusive", policy: Policy{TimeWindow: time.Second, SimilarityThreshold: 1, MaxDuplicates: 1}},
		{name: "zero window", policy: Policy{SimilarityThreshold: 0.5, MaxDuplicates: 1}, wantErr: true},
		{name: "negative threshold", policy: Policy{TimeWindow: time.Second, SimilarityThreshold: -0.1, MaxDuplicates: 1}, wantErr: true},
		{name: "threshold above one", policy: Policy{TimeWindow: time.Second, SimilarityThreshold: 1.1, MaxDuplicates: 1}, wantErr: true},
		{name: "zero max duplicates", policy: Policy{TimeWindow: time.Second, SimilarityThreshold: 0.5}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("Validate() error = %v, want ErrInvalidPolicy", err)
			}
		})
	}
}

func TestConfig_ValidateWrapsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Categories["budget"] = Policy{Enabled: true, TimeWindow: time.Minute, SimilarityThreshold: 2, MaxDuplicates: 1}
	cfg.Tiers["bogus"] = Policy{Enabled: true, TimeWindow: time.Minute, SimilarityThreshold: 0.5, MaxDuplicates: 1}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("error %v does not wrap ErrInvalidConfig", err)
	}
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("error %v does not wrap ErrInvalidPolicy", err)
	}
}

func TestConfig_ValidateRejectsDefaultTierOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tiers[TierDefault] = cfg.DefaultPolicy()

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil, want error for explicit default tier")
	}
}

func TestConfigUpdate_ApplyDoesNotMutate(t *testing.T) {
	base := DefaultConfig()
	base.Categories["goals"] = Policy{Enabled: true, TimeWindow: time.Minute, SimilarityThreshold: 0.8, MaxDuplicates: 3}

	disabled := false
	window := 5 * time.Second
	update := ConfigUpdate{
		Enabled:           &disabled,
		DefaultTimeWindow: &window,
		Categories: map[string]Policy{
			" Budget ": {Enabled: true, TimeWindow: time.Minute, SimilarityThreshold: 0.7, MaxDuplicates: 2},
		},
		RemoveCategories: []string{"GOALS"},
	}

	out := update.Apply(base)

	if out.Enabled {
		t.Error("Enabled = true, want false")
	}
	if out.DefaultTimeWindow != window {
		t.Errorf("DefaultTimeWindow = %s, want %s", out.DefaultTimeWindow, window)
	}
	if _, ok := out.Categories["budget"]; !ok {
		t.Error("category override should be stored under its normalized key")
	}
	if _, ok := out.Categories["goals"]; ok {
		t.Error("removed category still present")
	}

	if !base.Enabled {
		t.Error("Apply mutated the base config")
	}
	if _, ok := base.Categories["goals"]; !ok {
		t.Error("Apply removed a category from the base config")
	}
	if _, ok := base.Categories["budget"]; ok {
		t.Error("Apply added a category to the base config")
	}
}

func TestConfig_TierPolicyFallsBackToDefault(t *testing.T) {
	cfg := DefaultConfig()
	delete(cfg.Tiers, TierUrgent)

	if got, want := cfg.TierPolicy(TierUrgent), cfg.DefaultPolicy(); got != want {
		t.Errorf("TierPolicy(urgent) = %+v, want default %+v", got, want)
	}
}

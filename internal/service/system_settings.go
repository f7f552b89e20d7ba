package service

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"

	"stratflow/internal/models"
	"stratflow/internal/repository"
)

const (
	// FeatureAutoFinalize lets the sweeper settle approved executions once
	// their dispute window lapses.
	FeatureAutoFinalize = "feature.auto_finalize"
	// FeatureAutoVerify runs the verification gate on pending executions
	// without waiting for an explicit request.
	FeatureAutoVerify    = "feature.auto_verify"
	FeatureAutoReview    = "feature.auto_review"
	FeatureOracleChecks  = "feature.oracle_checks"
	FeatureWatchFeed     = "feature.watch_feed"
	FeatureManualVerdict = "feature.manual_verdict"
)

func DefaultFeatureSwitches() map[string]bool {
	return map[string]bool{
		FeatureAutoFinalize:  true,
		FeatureAutoVerify:    true,
		FeatureAutoReview:    true,
		FeatureOracleChecks:  true,
		FeatureWatchFeed:     true,
		FeatureManualVerdict: false,
	}
}

type SystemSettingsService struct {
	Repo repository.Repository
}

func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := time.Now().UTC()
	for key, enabled := range DefaultFeatureSwitches() {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			// Operators own switches once they exist.
			continue
		}
		raw, _ := json.Marshal(enabled)
		item := &models.SystemSetting{
			Key:         key,
			Value:       datatypes.JSON(raw),
			Description: "feature switch",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return fallback
	}
	return enabled
}

func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	raw, _ := json.Marshal(enabled)
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: "feature switch",
		UpdatedAt:   time.Now().UTC(),
	}
	return s.Repo.UpsertSystemSetting(ctx, item)
}

// Switch is a feature switch as reported to operators.
type Switch struct {
	Key       string    `json:"key"`
	Enabled   bool      `json:"enabled"`
	Default   bool      `json:"default"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListSwitches returns every stored feature switch, falling back to the
// compiled defaults for keys that were never written.
func (s *SystemSettingsService) ListSwitches(ctx context.Context) ([]Switch, error) {
	defaults := DefaultFeatureSwitches()
	seen := make(map[string]bool, len(defaults))
	var out []Switch
	if s != nil && s.Repo != nil {
		prefix := "feature."
		items, err := s.Repo.ListSystemSettings(ctx, repository.ListSystemSettingsParams{Limit: 200, Prefix: &prefix, OrderBy: "key"})
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			var enabled bool
			if err := json.Unmarshal(item.Value, &enabled); err != nil {
				continue
			}
			seen[item.Key] = true
			out = append(out, Switch{Key: item.Key, Enabled: enabled, Default: defaults[item.Key], UpdatedAt: item.UpdatedAt})
		}
	}
	for key, enabled := range defaults {
		if !seen[key] {
			out = append(out, Switch{Key: key, Enabled: enabled, Default: enabled})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

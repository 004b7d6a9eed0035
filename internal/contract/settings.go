package contract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/huangsam/devyear/schema"
	"gopkg.in/yaml.v3"
)

// settingsFile is the YAML layout of the organization settings file.
//
//	default:
//	  criticalPaths:
//	    - pattern: internal/billing/
//	      weight: 1.0
//	orgs:
//	  acme:
//	    teamStandards: "Prefer small PRs."
type settingsFile struct {
	Default schema.OrgSettings            `yaml:"default"`
	Orgs    map[string]schema.OrgSettings `yaml:"orgs"`
}

// FileSettingsSource resolves organization settings from a YAML file.
type FileSettingsSource struct {
	file settingsFile
}

var _ SettingsSource = &FileSettingsSource{} // Compile-time check

// NewFileSettingsSource loads settings from path. An empty path yields defaults only.
func NewFileSettingsSource(path string) (*FileSettingsSource, error) {
	src := &FileSettingsSource{}
	if path == "" {
		return src, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read org settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &src.file); err != nil {
		return nil, fmt.Errorf("failed to parse org settings: %w", err)
	}
	if err := validateOrgSettings("default", src.file.Default); err != nil {
		return nil, err
	}
	for org, settings := range src.file.Orgs {
		if err := validateOrgSettings(org, settings); err != nil {
			return nil, err
		}
	}
	return src, nil
}

// OrgSettings implements the SettingsSource interface.
// Org-specific values override the default block field by field.
func (s *FileSettingsSource) OrgSettings(_ context.Context, org string) (schema.OrgSettings, error) {
	merged := s.file.Default
	merged.CriticalPaths = append([]schema.CriticalPath(nil), s.file.Default.CriticalPaths...)
	override, ok := s.file.Orgs[org]
	if !ok {
		return merged, nil
	}
	if len(override.CriticalPaths) > 0 {
		merged.CriticalPaths = append([]schema.CriticalPath(nil), override.CriticalPaths...)
	}
	if override.DefaultReviewModel != "" {
		merged.DefaultReviewModel = override.DefaultReviewModel
	}
	if override.TeamStandards != "" {
		merged.TeamStandards = override.TeamStandards
	}
	return merged, nil
}

func validateOrgSettings(name string, settings schema.OrgSettings) error {
	for i, cp := range settings.CriticalPaths {
		if strings.TrimSpace(cp.Pattern) == "" {
			return NewValidationError("criticalPaths", "%s entry %d has an empty pattern", name, i)
		}
		if cp.Weight < 0 || cp.Weight > 1 {
			return NewValidationError("criticalPaths", "%s pattern %q weight %.2f is outside [0, 1]", name, cp.Pattern, cp.Weight)
		}
	}
	return nil
}

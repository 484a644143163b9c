package models

// SourceConfig is one row of the source_configs table: a single provider
// integration for a single partner.
type SourceConfig struct {
	SourceConfigID int64          `json:"source_config_id"`
	SystemName     string         `json:"system_name"`
	SystemType     string         `json:"system_type"`
	PartnerID      string         `json:"partner_id"`
	PartnerName    string         `json:"partner_name"`
	FileType       string         `json:"file_type"`
	Config         map[string]any `json:"config"`
	S3Bucket       string         `json:"s3_bucket"`
	Schedule       string         `json:"schedule"`
	IsActive       bool           `json:"is_active"`
	FeatureFlags   FeatureFlags   `json:"feature_flags"`
}

// FeatureFlags gates individual pipeline stages per configuration.
type FeatureFlags struct {
	Steps map[string]bool `json:"steps"`
}

// StepEnabled reports whether a stage toggle is on. A missing steps map means
// everything runs.
func (f FeatureFlags) StepEnabled(step string) bool {
	if f.Steps == nil {
		return true
	}
	return f.Steps[step]
}

// ConfigFilter narrows which source configurations a run picks up.
type ConfigFilter struct {
	Schedule  string
	System    string
	PartnerID string
}

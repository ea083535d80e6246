package config

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"

	"github.com/marmos91/scopedfs/pkg/storagepath"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	// Run struct tag validation
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	// Custom validation rules that can't be expressed in tags
	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// Removable volumes must carry hardware-assigned tokens and be unique
	seen := make(map[string]bool)
	for i, id := range cfg.Device.Removable {
		if !storagepath.VolumeID(id).IsRemovable() {
			return fmt.Errorf("device.removable[%d]: %q is not a removable volume ID (expected XXXX-XXXX)", i, id)
		}
		if seen[id] {
			return fmt.Errorf("device.removable[%d]: duplicate volume ID %q", i, id)
		}
		seen[id] = true
	}

	for i, pattern := range cfg.Transfer.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("transfer.exclude[%d]: invalid pattern %q", i, pattern)
		}
	}

	if cfg.Sweep.Enabled && cfg.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep: interval must be positive when the sweep is enabled")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == 0 {
		return fmt.Errorf("metrics: port is required when metrics are enabled")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}

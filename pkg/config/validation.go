package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/gridkv/gridstore/pkg/kvstore"
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
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if err := validateStoreDoc("store", cfg.Store); err != nil {
		return err
	}
	if cfg.Server.Store != nil {
		if err := validateStoreDoc("server.store", cfg.Server.Store); err != nil {
			return err
		}
	}

	// Array documents must at least name their driver; full binding is
	// deferred to the driver registry at open time.
	for name, doc := range cfg.Arrays {
		if _, ok := doc["driver"].(string); !ok {
			return fmt.Errorf("arrays[%s]: \"driver\" must be a string", name)
		}
	}
	return nil
}

// validateStoreDoc checks a key-value backend document names a registered
// backend.
func validateStoreDoc(section string, doc map[string]any) error {
	backend, ok := doc["backend"].(string)
	if !ok {
		return fmt.Errorf("%s: \"backend\" must be a string", section)
	}
	for _, known := range kvstore.Backends() {
		if backend == known {
			return nil
		}
	}
	return fmt.Errorf("%s: unknown backend %q (registered: %v)", section, backend, kvstore.Backends())
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

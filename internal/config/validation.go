package config

import (
	"fmt"
	"strings"
)

// ValidationError represents one configuration validation failure.
// Grounded on dcode's internal/config/validation.go ValidationError/
// ValidationErrors shape, trimmed to the fields this module's schema has.
type ValidationError struct {
	Field string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every failure found by Validate, so a single
// config error can report them all at once.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString(fmt.Sprintf(" - %s\n", err.Error()))
	}
	return sb.String()
}

// knownVariants is the set of wire protocols internal/provider implements
//.
var knownVariants = map[string]bool{
	"openai": true,
	"anthropic": true,
	"responses": true,
	"asyncrun": true,
}

// Validate schema-checks the config.
// It is a config error if it fails: fatal at startup or on
// resolveProvider.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.DefaultProvider == "" {
		errs = append(errs, ValidationError{Field: "defaultProvider", Message: "must be specified"})
	} else if _, ok := c.Providers[c.DefaultProvider]; !ok {
		errs = append(errs, ValidationError{
			Field: "defaultProvider",
			Message: fmt.Sprintf("%q has no matching entry in providers", c.DefaultProvider),
		})
	}

	for name, pc := range c.Providers {
		if pc.Variant == "" {
			errs = append(errs, ValidationError{Field: "providers." + name + ".variant", Message: "must be specified"})
			continue
		}
		if !knownVariants[pc.Variant] {
			errs = append(errs, ValidationError{
				Field: "providers." + name + ".variant",
				Message: fmt.Sprintf("unknown variant %q, must be one of openai|anthropic|responses|asyncrun", pc.Variant),
			})
		}
		if pc.Variant == "asyncrun" {
			continue // variant D authenticates via an external CLI, not an API key
		}
		if pc.APIKey == "" {
			errs = append(errs, ValidationError{Field: "providers." + name + ".apiKey", Message: "must be specified"})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ResolveProvider looks up and validates a single provider config by
// name; callers treat a failure here as fatal.
func (c *Config) ResolveProvider(name string) (ProviderConfig, error) {
	pc, ok := c.Providers[name]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("config: no provider named %q", name)
	}
	if pc.Variant == "" || !knownVariants[pc.Variant] {
		return ProviderConfig{}, fmt.Errorf("config: provider %q has an invalid variant %q", name, pc.Variant)
	}
	if pc.Variant != "asyncrun" && pc.APIKey == "" {
		return ProviderConfig{}, fmt.Errorf("config: provider %q is missing an API key", name)
	}
	return pc, nil
}

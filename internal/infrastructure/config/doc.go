// Package config handles loading and validating device agent configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with DEVICELINK_* environment variables
//   - Validation of required fields, with per-flag diagnostics
//   - Default value handling
//
// Security Considerations:
//   - The private key never appears in configuration, only its resource name
//   - Sensitive values (InfluxDB token) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/devicelink.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	// ... apply command-line flags ...
//	cfg.ApplyDerivedDefaults()
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

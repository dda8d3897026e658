// Package config handles loading and validating spherolink configuration.
//
// This package manages:
//   - Loading configuration from YAML or TOML files (chosen by extension)
//   - Overriding with SPHEROLINK_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The JWT secret is required whenever the HTTP API is enabled
//
// Usage:
//
//	cfg, err := config.Load("configs/spherolink.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, t := range cfg.Toys {
//	    fmt.Println(t.Name, t.Kind)
//	}
package config

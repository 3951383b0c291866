// Package config handles loading and validating baozi node configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (BAOZI_*)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Link and broker credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("/etc/baozi/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.OTA.Port)
package config

// Package config handles loading and validating drivelink configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Durations (timeouts, grace periods, delays) are written as Go duration
// strings in YAML, for example "5s" or "750ms".
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.MaxReconnectAttempts)
package config

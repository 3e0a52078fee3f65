// Package config handles loading and validating Benchtop Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (BENCHTOP_*)
//   - Validation of required fields
//   - Default value handling
//
// Instrument addresses live under "instruments" and are opaque strings;
// the transport package interprets them. A role with no address is left
// empty here and rejected later as a missing device.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bench.PollInterval)
package config

// Package config provides configuration loading for taskvault.
//
// Precedence, highest to lowest: TASKVAULT_* environment variables, the YAML
// config file, hardcoded defaults.
package config

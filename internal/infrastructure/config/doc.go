// Package config loads and validates Hearth Core configuration.
//
// Configuration is read from a YAML file, merged over built-in defaults,
// and finally overridden by HEARTH_* environment variables. A missing
// config file is not an error; the gateway starts on defaults so a fresh
// install works out of the box.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	db, err := database.Open(database.Config{Path: cfg.Database.Path})
package config

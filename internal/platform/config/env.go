// Package config loads relay configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	return parse(target, env.Options{})
}

// ParseEnvMap loads configuration from environ instead of the process
// environment. Unset keys fall back to envDefault tags.
func ParseEnvMap(target any, environ map[string]string) error {
	if environ == nil {
		environ = map[string]string{}
	}
	return parse(target, env.Options{Environment: environ})
}

func parse(target any, opts env.Options) error {
	if err := env.ParseWithOptions(target, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

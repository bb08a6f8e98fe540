// Package config loads service configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v10"
)

// Load parses environment variables into cfg, a pointer to a struct tagged
// with `env` and `envDefault`. When several variables are malformed, every
// one of them is named in the returned error.
func Load(cfg any) error {
	err := env.Parse(cfg)
	if err == nil {
		return nil
	}

	var agg env.AggregateError
	if errors.As(err, &agg) && len(agg.Errors) > 1 {
		msgs := make([]string, 0, len(agg.Errors))
		for _, e := range agg.Errors {
			msgs = append(msgs, e.Error())
		}
		return fmt.Errorf("parse config: %d errors: %s", len(msgs), strings.Join(msgs, "; "))
	}
	return fmt.Errorf("parse config: %w", err)
}

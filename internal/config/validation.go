package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/edgard/recbot/internal/recommend"
)

// Validate checks struct tags and the rules tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return err
	}
	if _, err := recommend.NewTiers(c.Recommend.Tiers); err != nil {
		return fmt.Errorf("recommend.tiers: %w", err)
	}
	return nil
}

package base

import (
	"github.com/chronominer/chronominer/pkg/config"
	"github.com/chronominer/chronominer/pkg/environment"
	"github.com/chronominer/chronominer/pkg/model/provider/options"
)

// Config is a common base configuration shared by all provider clients.
// It can be embedded in provider-specific Client structs to avoid code duplication.
type Config struct {
	ModelConfig  config.ModelConfig
	ModelOptions options.ModelOptions
	Env          environment.Provider
}

// ID returns the provider and model ID in the format "provider/model"
func (c *Config) ID() string {
	return c.ModelConfig.Provider + "/" + c.ModelConfig.Model
}

func (c *Config) BaseConfig() Config {
	return *c
}

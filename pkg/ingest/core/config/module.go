// Package config provides configuration structures and utilities for the
// ingestion engine. This module defines Fx providers for configuration-related
// components.
package config

import "go.uber.org/fx"

// NewEngineConfigProvider extracts and provides *EngineConfig from *Config so
// that components can depend on just the engine knobs.
func NewEngineConfigProvider(cfg *Config) *EngineConfig {
	return &cfg.Shoreline.Engine
}

// NewCompiledGraphProvider compiles the declarative pipeline definition once
// at startup.
func NewCompiledGraphProvider(cfg *Config) (*CompiledGraph, error) {
	return cfg.Shoreline.Pipeline.Compile()
}

// Module provides configuration-related components to Fx. The *Config itself
// is loaded once through LoadConfig and supplied by the application.
var Module = fx.Options(
	fx.Provide(NewEngineConfigProvider),
	fx.Provide(NewCompiledGraphProvider),
	fx.Provide(func() EnvironmentExpander {
		return NewOsEnvironmentExpander()
	}),
)

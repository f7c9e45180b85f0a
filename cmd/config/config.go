package config

// Package config in cmd wraps the shared loader in pkg/config for the
// node's command line tools, holding the YAML defaults that ship next to
// it and exposing the merged result through AppConfig.

import (
	pkgconfig "icn-mesh/pkg/config"
)

// AppConfig is the configuration most recently loaded by LoadConfig,
// scoped to this package so CLI tools and their tests don't reach into
// pkg/config's own package state.
var AppConfig pkgconfig.Config

// LoadConfig loads the configuration for the given environment name into
// AppConfig. A load failure panics: CLI initialisation has nothing useful
// to do with a node that cannot read its own config.
func LoadConfig(env string) {
	cfg, err := pkgconfig.Load(env)
	if err != nil {
		panic(err)
	}
	AppConfig = *cfg
}

// Package configs provides embedded configuration templates for hybridrag.
//
// Templates are embedded at build time so that `hybridrag config init`
// works from any distribution:
//   - user-config.example.yaml: machine-wide settings (embedding provider, logging)
//   - project-config.example.yaml: per-catalog settings (storage, search, personas)
//
// Configuration hierarchy (see internal/config Load):
//  1. Hardcoded defaults (config.NewConfig)
//  2. User config (~/.config/hybridrag/config.yaml)
//  3. Project config (.hybridrag.yaml)
//  4. Environment variables (HYBRIDRAG_*)
package configs

import _ "embed"

// UserConfigTemplate is written by `hybridrag config init`.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is written by `hybridrag config init --project`.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string

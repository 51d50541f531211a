// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for CallVault
// components.
//
// Configuration is loaded from a single YAML file specified by:
//   - CALLVAULT_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. The config file may
// contain environment-specific sections (development, staging,
// production) that override base values when the environment matches.
// The only expansion performed is ${VAR} path variables for
// portability.
package config

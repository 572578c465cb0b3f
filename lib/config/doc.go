// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for runboard.
//
// Configuration is loaded from a single file specified by:
//   - RUNBOARD_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
// Durations are stored as strings ("2h", "30s") and parsed by
// Validate, which every loader calls before returning.
package config

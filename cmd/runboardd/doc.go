// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

// runboardd is the run coordination daemon. It serves the platform's
// interactions webhook, maintains run and headcount state in SQLite,
// keeps every rendered panel in sync, and sweeps deadlines in the
// background.
//
// Configuration comes from a single YAML file, located via the --config
// flag or the RUNBOARD_CONFIG environment variable.
package main

// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the YAML configuration shared by the athena
// supervisor and hook forwarder.
//
// Configuration is loaded from a single file named by either the
// ATHENA_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no discovery and no search path. Binaries
// that run without a config file use [Default].
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${ATHENA_ROOT}, and ${VAR:-default} patterns are expanded.
// No other environment variables override config values.
//
// Permission rules are not part of this file. They live in the JSONC
// rule file named by supervisor.rules_file and are parsed by the
// permission package.
//
// This package depends on no other athena packages.
package config

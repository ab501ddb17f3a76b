// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for winsync.
//
// Configuration is loaded from a single file specified by either the
// WINSYNC_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search.
//
// The file may carry environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Development runs the engine in strict
// mode, where an unclassified remote error is treated as a defect and
// panics; production logs it and carries on.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${XDG_RUNTIME_DIR}, and ${VAR:-default} patterns are
// expanded.
//
// Key exports:
//
//   - [Config] -- master struct with Log, Engine, Bridge, Trace
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [EngineConfig.Options] -- converts to state.Options
package config

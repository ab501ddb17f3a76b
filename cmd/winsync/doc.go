// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Winsync is the operational tool for the window state engine.
//
//	winsync run        mirror state from a bridge socket and log events
//	winsync simulate   serve a scenario-backed simulated environment
//	winsync trace dump print a recorded trace as JSON lines
//	winsync version    print build information
//
// Configuration comes from --config or the WINSYNC_CONFIG environment
// variable; see lib/config for the file format.
package main

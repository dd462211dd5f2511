// Package types defines the core data structures shared by the load-probe engine.
//
// This package contains the fundamental types used throughout the engine,
// including:
//   - Scenario and stage definitions (executor kinds, load shape)
//   - Virtual users and request outcomes
//   - Probe events derived from outcomes and scraped gauges
//   - Threshold results and run reports
package types

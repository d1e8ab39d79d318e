// Package config provides layered configuration for piotask.
//
// Settings are resolved from three layers, highest priority last:
//
//	┌─────────────────────────────┐
//	│  4. Command line overrides  │  ← Config.Set
//	├─────────────────────────────┤
//	│  3. Project file            │  ← <project>/.piotask.toml
//	├─────────────────────────────┤
//	│  2. User file               │  ← $XDG_CONFIG_HOME/piotask/config.toml
//	├─────────────────────────────┤
//	│  1. Built-in defaults       │
//	└─────────────────────────────┘
//
// Files ending in .yaml or .yml are parsed as YAML, everything else as TOML.
// Typed accessors such as Monitor and Tasks apply defaults when a value is
// missing or has the wrong type.
//
// # Live Reload
//
// Watch observes the configured files with fsnotify and reloads on change.
// Observers registered with OnChange run after each successful reload.
package config

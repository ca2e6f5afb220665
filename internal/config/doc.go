// Package config reads tool-level configuration from ~/.extpack/config.yaml
// with EXTPACK_* environment overrides, and resolves the well-known paths
// under the extpack home directory.
package config

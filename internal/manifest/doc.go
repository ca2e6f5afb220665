// Package manifest parses and validates extension manifests
// (manifest.yaml) against an embedded JSON schema. The installer consumes
// it through the Validator interface so tests can substitute their own.
package manifest

// Package installer composes the full installation pipeline: acquire the
// package, scan it, extract it, validate its manifest, merge its declared
// configuration into the host's settings document, and persist the result
// atomically. A failure at any stage leaves the settings document exactly
// as it was; the atomic rename inside the config writer is the commit
// point.
package installer

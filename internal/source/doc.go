// Package source acquires extension packages from remote URLs, Git
// repositories, and local paths, and hands them downstream in a single
// source-agnostic artifact shape. Downloads stream with a hard size
// ceiling, report progress at a fixed cadence, and go through a
// content-addressed on-disk cache.
package source

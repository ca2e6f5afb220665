// Package archive unpacks extension packages (zip, tar.gz, tar.bz2) into a
// destination directory with path-traversal and archive-bomb protection.
// Extraction is all-or-nothing: entries are unpacked into a private staging
// directory that is renamed into place only when every entry passed every
// check.
package archive

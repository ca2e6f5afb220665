// Package configdoc models the host application's persisted settings
// document and writes it atomically. The document is only ever read
// fully, mutated in memory, and replaced wholesale via a temp-file-then-
// rename; no observer can see a partially written file.
package configdoc

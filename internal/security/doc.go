// Package security inspects archive entry metadata and materialized file
// trees for dangerous content before anything is installed. It is pure
// inspection: it classifies what it sees into findings and leaves the
// decision of what is fatal to the caller.
package security

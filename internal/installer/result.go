package installer

import (
	"github.com/extpack-labs/extpack/internal/configdoc"
	"github.com/extpack-labs/extpack/internal/manifest"
	"github.com/extpack-labs/extpack/internal/merge"
	"github.com/extpack-labs/extpack/internal/security"
	"github.com/extpack-labs/extpack/internal/source"
)

// Code tells callers which stage failed, so output can be rendered
// machine-readable or human-readable.
type Code string

const (
	CodeOK         Code = "ok"
	CodeSource     Code = "source_error"
	CodeExtraction Code = "extraction_error"
	CodeSecurity   Code = "security_error"
	CodeValidation Code = "validation_error"
	CodeMerge      Code = "merge_error"
	CodeIO         Code = "io_error"
)

// Result is the structured outcome of one installation.
type Result struct {
	Success    bool                            `json:"success"`
	Code       Code                            `json:"code"`
	Message    string                          `json:"message,omitempty"`
	Source     source.ExtensionSource          `json:"-"`
	FromCache  bool                            `json:"from_cache"`
	Findings   []security.Finding              `json:"findings,omitempty"`
	Validation *manifest.Report                `json:"validation,omitempty"`
	Merge      *merge.Result                   `json:"merge,omitempty"`
	Installed  []configdoc.InstallationRecord  `json:"installed,omitempty"`
	Git        *source.GitInfo                 `json:"git,omitempty"`
	Warnings   []string                        `json:"warnings,omitempty"`
}

func failure(code Code, msg string) *Result {
	return &Result{Success: false, Code: code, Message: msg}
}

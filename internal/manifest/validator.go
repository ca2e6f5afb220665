package manifest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.yaml.in/yaml/v3"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed schema/manifest.schema.json
var schemaBytes []byte

var (
	compiledSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
	printer        = message.NewPrinter(language.English)
)

// Report is the validator's verdict on one extension package. Valid=false
// aborts an installation unless the caller forces it.
type Report struct {
	Valid    bool           `json:"is_valid"`
	Errors   []string       `json:"errors"`
	Warnings []string       `json:"warnings"`
	Metadata map[string]any `json:"metadata"`
}

// Validator checks an extension package directory. The production
// implementation is schema-based; tests inject fakes.
type Validator interface {
	Validate(dir string) (*Report, error)
}

// SchemaValidator validates manifest.yaml against the embedded JSON
// schema.
type SchemaValidator struct{}

// Validate reads dir/manifest.yaml, schema-validates it, and extracts the
// base metadata. A missing manifest is a validation failure, not an
// error; the error return is for I/O and schema-compilation problems.
func (SchemaValidator) Validate(dir string) (*Report, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Report{
			Valid:  false,
			Errors: []string{fmt.Sprintf("package has no %s at its root", FileName)},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	report, err := ValidateBytes(data)
	if err != nil {
		return nil, err
	}

	// Metadata comes from the parse, not the verdict: a manifest that
	// fails validation still declares what it is, and forced installs
	// file the record under its declared type.
	var base BaseManifest
	if err := yaml.Unmarshal(data, &base); err == nil {
		report.Metadata = map[string]any{
			"name":        base.Name,
			"type":        base.Type,
			"version":     base.Version,
			"description": base.Description,
		}
		if report.Valid && base.Author == "" {
			report.Warnings = append(report.Warnings, "manifest has no author")
		}
	}
	return report, nil
}

// ValidateBytes validates raw manifest YAML against the embedded schema.
func ValidateBytes(data []byte) (*Report, error) {
	schema, err := getSchema()
	if err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return &Report{Valid: false, Errors: []string{fmt.Sprintf("parsing YAML: %v", err)}}, nil
	}

	// Round-trip through JSON so the schema validator sees
	// json.Number-style values rather than YAML decoder types.
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("converting manifest to JSON: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("preparing JSON for validation: %w", err)
	}

	err = schema.Validate(inst)
	if err == nil {
		return &Report{Valid: true}, nil
	}

	validationErr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return nil, fmt.Errorf("unexpected validation error type: %w", err)
	}
	return &Report{Valid: false, Errors: extractIssues(validationErr)}, nil
}

// getSchema compiles the embedded JSON schema once and returns it.
func getSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
		if err != nil {
			compileErr = fmt.Errorf("unmarshaling schema JSON: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		if err := c.AddResource("manifest.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("adding schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile("manifest.schema.json")
		if compileErr != nil {
			compileErr = fmt.Errorf("compiling schema: %w", compileErr)
		}
	})
	return compiledSchema, compileErr
}

// extractIssues walks the error tree and returns leaf-level issues as
// "path: message" strings, deduplicated (conditional branches produce
// overlapping errors).
func extractIssues(ve *jsonschema.ValidationError) []string {
	var issues []string
	collectIssues(ve, &issues)
	if len(issues) == 0 {
		return []string{ve.Error()}
	}

	seen := make(map[string]bool, len(issues))
	var out []string
	for _, issue := range issues {
		if !seen[issue] {
			seen[issue] = true
			out = append(out, issue)
		}
	}
	return out
}

func collectIssues(ve *jsonschema.ValidationError, issues *[]string) {
	if len(ve.Causes) == 0 {
		if ve.ErrorKind == nil {
			return
		}
		keyword := ""
		if kwPath := ve.ErrorKind.KeywordPath(); len(kwPath) > 0 {
			keyword = kwPath[len(kwPath)-1]
		}
		// Skip generic container errors that aren't informative.
		switch keyword {
		case "allOf", "oneOf", "if", "then", "$ref", "":
			return
		}

		path := "/" + strings.Join(ve.InstanceLocation, "/")
		if len(ve.InstanceLocation) == 0 {
			path = "manifest"
		}
		*issues = append(*issues, fmt.Sprintf("%s: %s", path, ve.ErrorKind.LocalizedString(printer)))
		return
	}
	for _, cause := range ve.Causes {
		collectIssues(cause, issues)
	}
}

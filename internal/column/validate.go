package column

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed tableconfig.schema.json
var tableConfigSchema string

// ValidationError lists every schema violation of a table config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("table config is invalid: %s", strings.Join(e.Problems, "; "))
}

// Validate checks a decoded table config document (from YAML or JSON)
// against the embedded JSON Schema.
func Validate(doc any) error {
	schemaLoader := gojsonschema.NewStringLoader(tableConfigSchema)
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate table config: %w", err)
	}
	if result.Valid() {
		return nil
	}
	verr := &ValidationError{}
	for _, desc := range result.Errors() {
		verr.Problems = append(verr.Problems, desc.String())
	}
	return verr
}

package daemon

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"forge/internal/services"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// schemas holds the compiled request schemas.
type schemas struct {
	submit   *jsonschema.Schema
	resume   *jsonschema.Schema
	settings *jsonschema.Schema
}

func compileSchemas() (*schemas, error) {
	compiler := jsonschema.NewCompiler()
	compile := func(name string) (*jsonschema.Schema, error) {
		data, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
		schema, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		return schema, nil
	}

	var (
		out schemas
		err error
	)
	if out.submit, err = compile("submit.schema.json"); err != nil {
		return nil, err
	}
	if out.resume, err = compile("resume.schema.json"); err != nil {
		return nil, err
	}
	if out.settings, err = compile("settings.schema.json"); err != nil {
		return nil, err
	}
	return &out, nil
}

// decodeValidated checks body against schema and then decodes it into dst.
func decodeValidated(schema *jsonschema.Schema, body []byte, dst any) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return services.Wrap(services.ErrValidation, "api", "decode body", "request body must be JSON", err)
	}
	if err := schema.Validate(doc); err != nil {
		return services.Wrap(services.ErrValidation, "api", "validate body", "", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return services.Wrap(services.ErrValidation, "api", "decode body", "", err)
	}
	return nil
}

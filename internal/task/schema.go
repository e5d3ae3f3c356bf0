package task

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"taskhive/internal/model"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	schemaTaskCreate = "task_create.json"
	schemaTaskPatch  = "task_patch.json"
	schemaBulkUpdate = "bulk_update.json"
	schemaBulkIDs    = "bulk_ids.json"
)

// Schemas validates request bodies before they are decoded into model types.
type Schemas struct {
	byName map[string]*jsonschema.Schema
}

func LoadSchemas() (*Schemas, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	compiler.AssertFormat = true

	names := []string{schemaTaskCreate, schemaTaskPatch, schemaBulkUpdate, schemaBulkIDs}
	for _, name := range names {
		b, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}

	s := &Schemas{byName: make(map[string]*jsonschema.Schema, len(names))}
	for _, name := range names {
		sch, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		s.byName[name] = sch
	}
	return s, nil
}

// MustLoadSchemas panics if the embedded schemas do not compile.
func MustLoadSchemas() *Schemas {
	s, err := LoadSchemas()
	if err != nil {
		panic(err)
	}
	return s
}

// Decode checks body against the named schema and then unmarshals it into out.
// Schema violations come back as *model.ValidationError.
func (s *Schemas) Decode(name string, body []byte, out any) error {
	sch, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return &model.ValidationError{Message: "bad json"}
	}
	if err := sch.Validate(doc); err != nil {
		return schemaError(err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &model.ValidationError{Message: "bad json: " + err.Error()}
	}
	return nil
}

func schemaError(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	leaf := firstLeaf(ve)
	return &model.ValidationError{Field: pointerToField(leaf.InstanceLocation), Message: leaf.Message}
}

func firstLeaf(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}

// pointerToField turns "/params/status" into "params.status".
func pointerToField(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	return strings.ReplaceAll(ptr, "/", ".")
}

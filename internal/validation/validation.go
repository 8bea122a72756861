// Package validation checks request bodies against the embedded JSON schemas
// before they are decoded into models.
package validation

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"dharani-backend/internal/models"

	js "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schema names.
const (
	Completion        = "completion"
	FillReport        = "fill_report"
	CollectBin        = "collect_bin"
	CreateUser        = "create_user"
	CitizenProfile    = "citizen_profile"
	WorkerProfile     = "worker_profile"
	GovernmentProfile = "government_profile"
	WorkerLocation    = "worker_location"
)

var all = []string{Completion, FillReport, CollectBin, CreateUser, CitizenProfile, WorkerProfile, GovernmentProfile, WorkerLocation}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid request body")

type Validator struct {
	schemas map[string]*js.Schema
}

// New compiles every embedded schema.
func New() (*Validator, error) {
	c := js.NewCompiler()
	c.Draft = js.Draft7
	c.AssertFormat = true

	v := &Validator{schemas: make(map[string]*js.Schema, len(all))}
	for _, name := range all {
		raw, err := schemaFS.ReadFile("schemas/" + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		url := "mem://schemas/" + name + ".json"
		if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[name] = compiled
	}
	return v, nil
}

// Validate checks raw JSON against the named schema.
func (v *Validator) Validate(schema string, raw []byte) error {
	compiled, ok := v.schemas[schema]
	if !ok {
		return fmt.Errorf("unknown schema %q", schema)
	}
	doc, err := unmarshalJSON(raw)
	if err != nil {
		return fmt.Errorf("%w: malformed JSON", ErrInvalid)
	}
	if err := compiled.Validate(doc); err != nil {
		var ve *js.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("%w: %s", ErrInvalid, describe(ve))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// unmarshalJSON decodes raw the way jsonschema/v5 expects: json.Number for
// numbers and no trailing content after the top-level value.
func unmarshalJSON(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if t, _ := dec.Token(); t != nil {
		return nil, fmt.Errorf("invalid character %v after top-level value", t)
	}
	return doc, nil
}

// Decode validates raw against schema and then unmarshals it into dest.
func (v *Validator) Decode(schema string, raw []byte, dest interface{}) error {
	if err := v.Validate(schema, raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// ValidateProfile checks a profile document against the schema for role.
// An empty profile is accepted.
func (v *Validator) ValidateProfile(role string, raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil
	}
	switch role {
	case models.RoleCitizen:
		return v.Validate(CitizenProfile, raw)
	case models.RoleWorker:
		return v.Validate(WorkerProfile, raw)
	case models.RoleGovernment:
		return v.Validate(GovernmentProfile, raw)
	}
	return fmt.Errorf("%w: unknown role %q", ErrInvalid, role)
}

// describe reports the most specific failure as "<field>: <reason>".
func describe(ve *js.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	field := strings.TrimPrefix(ve.InstanceLocation, "/")
	if field == "" {
		return ve.Message
	}
	return strings.ReplaceAll(field, "/", ".") + ": " + ve.Message
}

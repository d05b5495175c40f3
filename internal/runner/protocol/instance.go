package protocol

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidPayload is returned when request data does not have the shape or
// constraints its action requires.
var ErrInvalidPayload = errors.New("invalid payload")

// Field limits of an instance payload, counted in characters.
const (
	MaxNameLength             = 48
	MaxLaunchCommandLength    = 512
	MaxWorkingDirectoryLength = 512

	// DefaultInstanceName is given to instances created without a name.
	DefaultInstanceName = "Untitled"
)

// Instance is the wire form of an instance. IsRunning is filled in by the
// runner on reads and ignored on writes.
type Instance struct {
	ID               int    `json:"id,omitempty"`
	Name             string `json:"name,omitempty"`
	LaunchCommand    string `json:"launchCommand,omitempty"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
	IsRunning        bool   `json:"isRunning"`
}

const instanceSchema = `{
	"type": "object",
	"properties": {
		"id": {"type": ["integer", "null"], "minimum": 0},
		"name": {"type": ["string", "null"], "minLength": 1, "maxLength": 48},
		"launchCommand": {"type": ["string", "null"], "maxLength": 512},
		"workingDirectory": {"type": ["string", "null"], "maxLength": 512},
		"isRunning": {"type": ["boolean", "null"]}
	}
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func instanceValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("instance.json", instanceSchema)
	})
	return compiledSchema, schemaErr
}

// DecodeInstance parses and validates an instance payload. Omitted fields get
// their defaults: Name becomes "Untitled" and LaunchCommand "". IsRunning is
// always reset to false.
func DecodeInstance(data []byte) (*Instance, error) {
	if !hasData(data) {
		return nil, fmt.Errorf("%w: instance payload is required", ErrInvalidPayload)
	}

	var doc any
	if err := Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	schema, err := instanceValidator()
	if err != nil {
		return nil, fmt.Errorf("compile instance schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, validationSummary(err))
	}

	inst := Instance{Name: DefaultInstanceName}
	if err := Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if inst.Name == "" {
		inst.Name = DefaultInstanceName
	}
	inst.IsRunning = false
	return &inst, nil
}

// validationSummary flattens a schema validation error into one line naming
// each offending field.
func validationSummary(err error) string {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err.Error()
	}
	var parts []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			field := strings.TrimPrefix(e.InstanceLocation, "/")
			if field == "" {
				field = "payload"
			}
			parts = append(parts, field+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return strings.Join(parts, "; ")
}

// DecodeID parses a bare integer instance id.
func DecodeID(data []byte) (int, error) {
	if !hasData(data) {
		return 0, fmt.Errorf("%w: instance id is required", ErrInvalidPayload)
	}
	var id int
	if err := Unmarshal(data, &id); err != nil {
		return 0, fmt.Errorf("%w: instance id must be an integer", ErrInvalidPayload)
	}
	return id, nil
}

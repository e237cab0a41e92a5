/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package manifest

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingManifest is returned when the archive has no root viaggi.json.
	ErrMissingManifest = errors.New("viaggi.json mancante: aggiungi il file alla radice dell'archivio")

	// ErrInvalidJSON is matched by every JSONError.
	ErrInvalidJSON = errors.New("viaggi.json non è un JSON valido")

	// ErrSchema is matched by every SchemaError.
	ErrSchema = errors.New("viaggi.json non rispetta lo schema")
)

// JSONError reports a manifest that could not be decoded.
type JSONError struct {
	Err error
}

func (e *JSONError) Error() string {
	return fmt.Sprintf("%s: %v", ErrInvalidJSON.Error(), e.Err)
}

func (e *JSONError) Unwrap() error { return e.Err }

func (e *JSONError) Is(target error) bool { return target == ErrInvalidJSON }

// FieldError is a single violated constraint, addressed by a dotted field path
// such as viaggi[1].stages[0].title.
type FieldError struct {
	Field   string `json:"field" yaml:"field"`
	Message string `json:"message" yaml:"message"`
}

func (e FieldError) String() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// SchemaError carries every violation found in one validation pass.
type SchemaError struct {
	Fields []FieldError
}

func (e *SchemaError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("%s (%d errori): %s", ErrSchema.Error(), len(e.Fields), strings.Join(parts, "; "))
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// HasField reports whether a violation was recorded for field.
func (e *SchemaError) HasField(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

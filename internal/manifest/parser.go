/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package manifest

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/rideatlas/rideatlas/internal/archive"
)

//go:embed schemas/viaggi.schema.json
var schemaJSON []byte

const schemaURL = "viaggi.schema.json"

var (
	tripSchema    *jsonschema.Schema
	batchSchema   *jsonschema.Schema
	schemaOnce    sync.Once
	schemaLoadErr error

	quotedName = regexp.MustCompile(`['"]([^'"]+)['"]`)
)

func loadSchemas() error {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaLoadErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		tripSchema, schemaLoadErr = compiler.Compile(schemaURL + "#/$defs/trip")
		if schemaLoadErr != nil {
			return
		}
		batchSchema, schemaLoadErr = compiler.Compile(schemaURL + "#/$defs/batch")
	})
	return schemaLoadErr
}

// Schema returns the embedded JSON schema document.
func Schema() []byte {
	out := make([]byte, len(schemaJSON))
	copy(out, schemaJSON)
	return out
}

// Parse reads viaggi.json from the archive root and decodes it.
func Parse(a *archive.Archive) (*Manifest, error) {
	data, ok := a.ReadBytes(FileName)
	if !ok {
		return nil, ErrMissingManifest
	}
	return ParseBytes(data)
}

// ParseBytes decodes and validates a manifest document.
//
// Decoding failures return a *JSONError. Constraint violations return a
// *SchemaError listing every violation, including semantic date checks.
func ParseBytes(data []byte) (*Manifest, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &JSONError{Err: err}
	}

	if err := loadSchemas(); err != nil {
		return nil, fmt.Errorf("load manifest schema: %w", err)
	}

	obj, _ := doc.(map[string]any)
	_, multi := obj["viaggi"].([]any)

	schema := tripSchema
	if multi {
		schema = batchSchema
	}

	var fields []FieldError
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return nil, fmt.Errorf("validate manifest: %w", err)
		}
		fields = collectFieldErrors(ve, fields)
	}
	fields = append(fields, checkTravelDates(obj, multi)...)

	if len(fields) > 0 {
		return nil, &SchemaError{Fields: normalizeFieldErrors(fields)}
	}

	m := &Manifest{Multi: multi, Raw: obj}
	if multi {
		var batch struct {
			Viaggi []TripManifest `json:"viaggi"`
		}
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, &JSONError{Err: err}
		}
		m.Trips = batch.Viaggi
	} else {
		var trip TripManifest
		if err := json.Unmarshal(data, &trip); err != nil {
			return nil, &JSONError{Err: err}
		}
		m.Trips = []TripManifest{trip}
	}

	return m, nil
}

// collectFieldErrors flattens the validation tree into its leaves.
func collectFieldErrors(ve *jsonschema.ValidationError, out []FieldError) []FieldError {
	if len(ve.Causes) > 0 {
		for _, cause := range ve.Causes {
			out = collectFieldErrors(cause, out)
		}
		return out
	}

	base := pointerToField(ve.InstanceLocation)
	if strings.HasSuffix(ve.KeywordLocation, "/required") {
		names := quotedName.FindAllStringSubmatch(ve.Message, -1)
		for _, n := range names {
			out = append(out, FieldError{Field: joinField(base, n[1]), Message: "campo obbligatorio"})
		}
		if len(names) > 0 {
			return out
		}
	}
	return append(out, FieldError{Field: base, Message: ve.Message})
}

// pointerToField turns /viaggi/0/stages/3/title into viaggi[0].stages[3].title.
func pointerToField(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "#")
	if ptr == "" || ptr == "/" {
		return ""
	}
	var b strings.Builder
	for _, tok := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		tok = strings.ReplaceAll(strings.ReplaceAll(tok, "~1", "/"), "~0", "~")
		if _, err := strconv.Atoi(tok); err == nil {
			b.WriteString("[" + tok + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(tok)
	}
	return b.String()
}

func joinField(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}

func checkTravelDates(obj map[string]any, multi bool) []FieldError {
	if obj == nil {
		return nil
	}
	if !multi {
		return checkTravelDate(obj, "")
	}

	var out []FieldError
	trips, _ := obj["viaggi"].([]any)
	for i, t := range trips {
		trip, ok := t.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, checkTravelDate(trip, fmt.Sprintf("viaggi[%d].", i))...)
	}
	return out
}

func checkTravelDate(trip map[string]any, prefix string) []FieldError {
	raw, ok := trip["travelDate"].(string)
	if !ok || raw == "" {
		return nil
	}
	if _, err := ParseTravelDate(raw); err != nil {
		return []FieldError{{Field: prefix + "travelDate", Message: "data non valida, usa il formato ISO-8601 (AAAA-MM-GG)"}}
	}
	return nil
}

// ParseTravelDate accepts an ISO-8601 calendar date or an RFC 3339 timestamp.
func ParseTravelDate(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func normalizeFieldErrors(fields []FieldError) []FieldError {
	seen := make(map[FieldError]struct{}, len(fields))
	out := make([]FieldError, 0, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

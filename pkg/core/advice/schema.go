package advice

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Kind names a record shape the data service returns as JSON.
type Kind string

const (
	KindForecast Kind = "forecast"
	KindSoil     Kind = "soil"
	KindMarket   Kind = "market"
	KindAdvice   Kind = "advice"
)

var (
	schemasOnce sync.Once
	schemas     map[Kind]*jsonschema.Schema
	schemasErr  error
)

func loadSchemas() (map[Kind]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		kinds := []Kind{KindForecast, KindSoil, KindMarket, KindAdvice}
		for _, k := range kinds {
			raw, err := schemaFS.ReadFile("schemas/" + string(k) + ".json")
			if err != nil {
				schemasErr = fmt.Errorf("read %s schema: %w", k, err)
				return
			}
			if err := compiler.AddResource(schemaURL(k), bytes.NewReader(raw)); err != nil {
				schemasErr = fmt.Errorf("add %s schema: %w", k, err)
				return
			}
		}
		out := make(map[Kind]*jsonschema.Schema, len(kinds))
		for _, k := range kinds {
			s, err := compiler.Compile(schemaURL(k))
			if err != nil {
				schemasErr = fmt.Errorf("compile %s schema: %w", k, err)
				return
			}
			out[k] = s
		}
		schemas = out
	})
	return schemas, schemasErr
}

func schemaURL(k Kind) string {
	return "agrivoice://schemas/" + string(k) + ".json"
}

// ValidationError reports a record that does not match its schema.
type ValidationError struct {
	Kind Kind
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s record: %v", e.Kind, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Decode validates raw against the schema for k and unmarshals it into out.
// Model output wrapped in a markdown code fence is accepted.
func Decode(k Kind, raw []byte, out any) error {
	set, err := loadSchemas()
	if err != nil {
		return err
	}
	schema, ok := set[k]
	if !ok {
		return fmt.Errorf("unknown record kind %q", k)
	}
	raw = stripFence(raw)

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &ValidationError{Kind: k, Err: err}
	}
	if err := schema.Validate(doc); err != nil {
		return &ValidationError{Kind: k, Err: err}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ValidationError{Kind: k, Err: err}
	}
	return nil
}

func stripFence(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(s, "```") {
		return []byte(s)
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return []byte(strings.TrimSpace(s))
}

// Schema returns the raw JSON schema for k, for use in model prompts and
// structured-output configs.
func Schema(k Kind) ([]byte, error) {
	raw, err := schemaFS.ReadFile("schemas/" + string(k) + ".json")
	if err != nil {
		return nil, fmt.Errorf("unknown record kind %q", k)
	}
	return raw, nil
}

package ingestion

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/poiesic/persist/core"
)

const maxLineSize = 16 * 1024 * 1024

// ReadJSONLines decodes one model per non-blank line of r. Objects name
// their model under "@model"; defaultModel applies to objects that do
// not. Numbers without a fraction decode as integers.
func ReadJSONLines(r io.Reader, defaultModel string) ([]core.Model, error) {
	var models []core.Model
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		m, err := DecodeModel(raw, defaultModel)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		models = append(models, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return models, nil
}

// DecodeModel decodes a single JSON object into a model.
func DecodeModel(data []byte, defaultModel string) (core.Model, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", core.ErrUnsupportedValue)
	}
	name, _ := obj[core.ModelKey].(string)
	if name == "" {
		name = defaultModel
	}
	if err := core.ValidateModelName(name); err != nil {
		return nil, err
	}
	return core.FromMapAs(name, obj)
}

// Package extract pulls the detection list out of free-form model output.
package extract

import (
	"errors"
	"fmt"
	"regexp"

	iface "SensitiveDet/interface"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// arrayPattern matches the first "[ { ... } ]" literal. The lazy body stops
// at the first "}" that is followed by the closing bracket.
var arrayPattern = regexp.MustCompile(`(?s)\[\s*\{.*?\}\s*\]`)

var ErrNoStructuredData = errors.New("no JSON found in model output")

// ParseError reports a bracketed literal that was found but is not valid JSON.
type ParseError struct {
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid JSON in model output: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Raw returns the first embedded JSON array literal in text.
func Raw(text string) (string, error) {
	loc := arrayPattern.FindStringIndex(text)
	if loc == nil {
		return "", ErrNoStructuredData
	}
	return text[loc[0]:loc[1]], nil
}

// Detections decodes the first embedded JSON array of detection objects.
// Only text that is not valid JSON fails; a record with an unusable bbox
// comes back with a nil BBox for the renderer to skip.
func Detections(text string) ([]iface.Detection, error) {
	raw, err := Raw(text)
	if err != nil {
		return nil, err
	}
	var records []jsoniter.RawMessage
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, &ParseError{Snippet: raw, Err: err}
	}
	dets := make([]iface.Detection, 0, len(records))
	for _, rec := range records {
		dets = append(dets, detection(rec))
	}
	return dets, nil
}

func detection(rec jsoniter.RawMessage) iface.Detection {
	var fields map[string]any
	if err := json.Unmarshal(rec, &fields); err != nil {
		// not an object, nothing to draw
		return iface.Detection{}
	}
	det := iface.Detection{Record: fields}
	switch t := fields["type"].(type) {
	case nil:
	case string:
		det.Type = t
	default:
		det.Type = fmt.Sprint(t)
	}
	det.BBox = numbers(fields["bbox"])
	return det
}

// numbers returns v as a float slice when it is a JSON array of numbers.
func numbers(v any) []float64 {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float64, len(list))
	for i, item := range list {
		f, ok := item.(float64)
		if !ok {
			return nil
		}
		out[i] = f
	}
	return out
}

package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
)

const (
	SampleFilePath      = "./LICENSE"
	SampleDirectoryPath = "./rescuebox"
	sampleText          = "A sample piece of text"
)

var sampleTextarea = strings.TrimSpace(strings.Repeat("A sample piece of text of text that's long. ", 8))

// SamplePayload derives a concrete request body from ts with one
// deterministic value per descriptor: fixed sentinel paths and texts for
// inputs, the first key for enums, the minimum for ranged values and the
// default otherwise.
func SamplePayload(ts TaskSchema) RequestBody {
	body := RequestBody{
		Inputs:     make(map[string]any, len(ts.Inputs)),
		Parameters: make(map[string]any, len(ts.Parameters)),
	}
	for _, in := range ts.Inputs {
		body.Inputs[in.Key] = sampleInput(in.InputType)
	}
	for _, p := range ts.Parameters {
		if p.Value == nil {
			continue
		}
		body.Parameters[p.Key] = p.Value.sample()
	}
	return body
}

// DefaultParameters returns every parameter's declared default.
func DefaultParameters(ts TaskSchema) map[string]any {
	out := make(map[string]any, len(ts.Parameters))
	for _, p := range ts.Parameters {
		if p.Value == nil {
			continue
		}
		out[p.Key] = p.Value.defaultValue()
	}
	return out
}

func sampleInput(t InputType) any {
	switch t {
	case InputTypeFile:
		return FileInput{Path: SampleFilePath}
	case InputTypeDirectory:
		return DirectoryInput{Path: SampleDirectoryPath}
	case InputTypeText:
		return TextInput{Text: sampleText}
	case InputTypeTextarea:
		return TextInput{Text: sampleTextarea}
	case InputTypeBatchFile:
		return BatchFileInput{Files: []FileInput{{Path: SampleFilePath}, {Path: SampleFilePath}}}
	case InputTypeBatchText:
		return BatchTextInput{Texts: []TextInput{{Text: sampleText + " 1"}, {Text: sampleText + " 2"}}}
	case InputTypeBatchDirectory:
		return BatchDirectoryInput{Directories: []DirectoryInput{{Path: SampleDirectoryPath}, {Path: SampleDirectoryPath}}}
	default:
		return nil
	}
}

// PayloadSchema describes the request body accepted for ts as a JSON Schema
// object.
func PayloadSchema(ts TaskSchema) map[string]any {
	inputProps := make(map[string]any, len(ts.Inputs))
	inputRequired := make([]string, 0, len(ts.Inputs))
	for _, in := range ts.Inputs {
		prop := inputJSONSchema(in.InputType)
		prop["description"] = in.Label
		inputProps[in.Key] = prop
		inputRequired = append(inputRequired, in.Key)
	}

	props := map[string]any{
		"inputs": map[string]any{
			"type":       "object",
			"properties": inputProps,
			"required":   inputRequired,
		},
	}
	required := []string{"inputs"}

	if len(ts.Parameters) > 0 {
		paramProps := make(map[string]any, len(ts.Parameters))
		paramRequired := make([]string, 0, len(ts.Parameters))
		for _, p := range ts.Parameters {
			if p.Value == nil {
				continue
			}
			prop := parameterJSONSchema(p.Value)
			prop["description"] = p.Label
			paramProps[p.Key] = prop
			paramRequired = append(paramRequired, p.Key)
		}
		props["parameters"] = map[string]any{
			"type":       "object",
			"properties": paramProps,
			"required":   paramRequired,
		}
		required = append(required, "parameters")
	}

	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func pathObject() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"path": map[string]string{"type": "string"}},
		"required":   []string{"path"},
	}
}

func textObject() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"text": map[string]string{"type": "string"}},
		"required":   []string{"text"},
	}
}

func batchObject(key string, item map[string]any) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{key: map[string]any{"type": "array", "items": item}},
		"required":   []string{key},
	}
}

func inputJSONSchema(t InputType) map[string]any {
	switch t {
	case InputTypeFile, InputTypeDirectory:
		return pathObject()
	case InputTypeText, InputTypeTextarea:
		return textObject()
	case InputTypeBatchFile:
		return batchObject("files", pathObject())
	case InputTypeBatchText:
		return batchObject("texts", textObject())
	case InputTypeBatchDirectory:
		return batchObject("directories", pathObject())
	default:
		return map[string]any{"type": "object"}
	}
}

func parameterJSONSchema(d ParameterDescriptor) map[string]any {
	switch v := d.(type) {
	case TextParameter:
		return map[string]any{"type": "string", "default": v.Default}
	case IntParameter:
		return map[string]any{"type": "integer", "default": v.Default}
	case FloatParameter:
		return map[string]any{"type": "number", "default": v.Default}
	case RangedIntParameter:
		return map[string]any{"type": "integer", "default": v.Default, "minimum": v.Range.Min, "maximum": v.Range.Max}
	case RangedFloatParameter:
		return map[string]any{"type": "number", "default": v.Default, "minimum": v.Range.Min, "maximum": v.Range.Max}
	case EnumParameter:
		keys := make([]string, 0, len(v.EnumVals))
		for _, ev := range v.EnumVals {
			keys = append(keys, ev.Key)
		}
		return map[string]any{"type": "string", "default": v.Default, "enum": keys}
	default:
		return map[string]any{}
	}
}

// CheckPayload verifies that raw inputs and parameters satisfy ts: exactly
// the declared keys, each value decodable into the record type its descriptor
// maps to, and parameter values inside their ranges and enum sets.
func CheckPayload(ts TaskSchema, inputs, parameters json.RawMessage) error {
	rawInputs, err := decodeSection(SectionInputs, inputs)
	if err != nil {
		return err
	}
	declared := make(map[string]bool, len(ts.Inputs))
	for _, in := range ts.Inputs {
		declared[in.Key] = true
		raw, ok := rawInputs[in.Key]
		if !ok {
			return &PayloadError{Section: SectionInputs, Key: in.Key, Detail: "missing"}
		}
		rt, ok := inputGoTypes[in.InputType]
		if !ok {
			return &PayloadError{Section: SectionInputs, Key: in.Key, Detail: fmt.Sprintf("unknown input type %q", in.InputType)}
		}
		if err := decodeStrict(raw, reflect.New(rt).Interface()); err != nil {
			return &PayloadError{Section: SectionInputs, Key: in.Key, Detail: err.Error()}
		}
	}
	for _, key := range sortedKeys(rawInputs) {
		if !declared[key] {
			return &PayloadError{Section: SectionInputs, Key: key, Detail: "not declared by the task schema"}
		}
	}

	rawParams, err := decodeSection(SectionParameters, parameters)
	if err != nil {
		return err
	}
	values := make(map[string]any, len(rawParams))
	declared = make(map[string]bool, len(ts.Parameters))
	for _, p := range ts.Parameters {
		declared[p.Key] = true
		if p.Value == nil {
			continue
		}
		raw, ok := rawParams[p.Key]
		if !ok {
			return &PayloadError{Section: SectionParameters, Key: p.Key, Detail: "missing"}
		}
		rt := parameterGoTypes[p.Value.ParameterType()]
		ptr := reflect.New(rt)
		if err := decodeStrict(raw, ptr.Interface()); err != nil {
			return &PayloadError{Section: SectionParameters, Key: p.Key, Detail: err.Error()}
		}
		values[p.Key] = ptr.Elem().Interface()
	}
	for _, key := range sortedKeys(rawParams) {
		if !declared[key] {
			return &PayloadError{Section: SectionParameters, Key: key, Detail: "not declared by the task schema"}
		}
	}
	return CheckParameters(ts, values)
}

// CheckParameters enforces ranges and enum membership for the parameter
// values present in values. Keys absent from values are not checked.
func CheckParameters(ts TaskSchema, values map[string]any) error {
	for _, p := range ts.Parameters {
		v, ok := values[p.Key]
		if !ok || p.Value == nil {
			continue
		}
		if err := checkParameterValue(p.Value, v); err != nil {
			return &PayloadError{Section: SectionParameters, Key: p.Key, Detail: err.Error()}
		}
	}
	return nil
}

func checkParameterValue(d ParameterDescriptor, v any) error {
	switch desc := d.(type) {
	case RangedIntParameter:
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) {
			return fmt.Errorf("%v is not a valid integer", v)
		}
		if f < float64(desc.Range.Min) || f > float64(desc.Range.Max) {
			return fmt.Errorf("%v is not in the range [%d, %d]", v, desc.Range.Min, desc.Range.Max)
		}
	case RangedFloatParameter:
		f, ok := toFloat(v)
		if !ok {
			return fmt.Errorf("%v is not a valid float", v)
		}
		if f < desc.Range.Min || f > desc.Range.Max {
			return fmt.Errorf("%v is not in the range [%g, %g]", v, desc.Range.Min, desc.Range.Max)
		}
	case EnumParameter:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%v is not a string", v)
		}
		if len(desc.EnumVals) == 0 {
			return nil
		}
		for _, ev := range desc.EnumVals {
			if ev.Key == s {
				return nil
			}
		}
		return fmt.Errorf("%q is not one of the allowed values", s)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func decodeSection(section Section, raw json.RawMessage) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]json.RawMessage{}, nil
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, &PayloadError{Section: section, Detail: "must be a JSON object"}
	}
	return out, nil
}

func decodeStrict(raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

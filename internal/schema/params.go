package schema

import (
	"encoding/json"
	"fmt"
)

type ParameterType string

const (
	ParameterTypeText        ParameterType = "text"
	ParameterTypeInt         ParameterType = "int"
	ParameterTypeFloat       ParameterType = "float"
	ParameterTypeRangedInt   ParameterType = "ranged_int"
	ParameterTypeRangedFloat ParameterType = "ranged_float"
	ParameterTypeEnum        ParameterType = "enum"
)

// ParameterDescriptor is the value part of a ParameterSchema. The set of
// implementations is closed: TextParameter, IntParameter, FloatParameter,
// RangedIntParameter, RangedFloatParameter and EnumParameter.
type ParameterDescriptor interface {
	ParameterType() ParameterType
	sample() any
	defaultValue() any
}

type TextParameter struct {
	Default string `json:"default"`
}

type IntParameter struct {
	Default int `json:"default"`
}

type FloatParameter struct {
	Default float64 `json:"default"`
}

type IntRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type FloatRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type RangedIntParameter struct {
	Range   IntRange `json:"range"`
	Default int      `json:"default"`
}

type RangedFloatParameter struct {
	Range   FloatRange `json:"range"`
	Default float64    `json:"default"`
}

type EnumVal struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

type EnumParameter struct {
	EnumVals         []EnumVal `json:"enum_vals"`
	Default          string    `json:"default"`
	MessageWhenEmpty string    `json:"message_when_empty,omitempty"`
}

func (TextParameter) ParameterType() ParameterType        { return ParameterTypeText }
func (IntParameter) ParameterType() ParameterType         { return ParameterTypeInt }
func (FloatParameter) ParameterType() ParameterType       { return ParameterTypeFloat }
func (RangedIntParameter) ParameterType() ParameterType   { return ParameterTypeRangedInt }
func (RangedFloatParameter) ParameterType() ParameterType { return ParameterTypeRangedFloat }
func (EnumParameter) ParameterType() ParameterType        { return ParameterTypeEnum }

func (p TextParameter) sample() any        { return p.Default }
func (p IntParameter) sample() any         { return p.Default }
func (p FloatParameter) sample() any       { return p.Default }
func (p RangedIntParameter) sample() any   { return p.Range.Min }
func (p RangedFloatParameter) sample() any { return p.Range.Min }

func (p TextParameter) defaultValue() any        { return p.Default }
func (p IntParameter) defaultValue() any         { return p.Default }
func (p FloatParameter) defaultValue() any       { return p.Default }
func (p RangedIntParameter) defaultValue() any   { return p.Default }
func (p RangedFloatParameter) defaultValue() any { return p.Default }
func (p EnumParameter) defaultValue() any        { return p.Default }

func (p EnumParameter) sample() any {
	if len(p.EnumVals) == 0 {
		return p.Default
	}
	return p.EnumVals[0].Key
}

func (p TextParameter) MarshalJSON() ([]byte, error) {
	type plain TextParameter
	return json.Marshal(struct {
		ParameterType ParameterType `json:"parameter_type"`
		plain
	}{ParameterTypeText, plain(p)})
}

func (p IntParameter) MarshalJSON() ([]byte, error) {
	type plain IntParameter
	return json.Marshal(struct {
		ParameterType ParameterType `json:"parameter_type"`
		plain
	}{ParameterTypeInt, plain(p)})
}

func (p FloatParameter) MarshalJSON() ([]byte, error) {
	type plain FloatParameter
	return json.Marshal(struct {
		ParameterType ParameterType `json:"parameter_type"`
		plain
	}{ParameterTypeFloat, plain(p)})
}

func (p RangedIntParameter) MarshalJSON() ([]byte, error) {
	type plain RangedIntParameter
	return json.Marshal(struct {
		ParameterType ParameterType `json:"parameter_type"`
		plain
	}{ParameterTypeRangedInt, plain(p)})
}

func (p RangedFloatParameter) MarshalJSON() ([]byte, error) {
	type plain RangedFloatParameter
	return json.Marshal(struct {
		ParameterType ParameterType `json:"parameter_type"`
		plain
	}{ParameterTypeRangedFloat, plain(p)})
}

func (p EnumParameter) MarshalJSON() ([]byte, error) {
	type plain EnumParameter
	return json.Marshal(struct {
		ParameterType ParameterType `json:"parameter_type"`
		plain
	}{ParameterTypeEnum, plain(p)})
}

// ParameterSchema describes one named, tunable parameter of an operation.
type ParameterSchema struct {
	Key      string              `json:"key"`
	Label    string              `json:"label"`
	Subtitle string              `json:"subtitle,omitempty"`
	Value    ParameterDescriptor `json:"value"`
}

func (p *ParameterSchema) UnmarshalJSON(data []byte) error {
	var raw struct {
		Key      string          `json:"key"`
		Label    string          `json:"label"`
		Subtitle string          `json:"subtitle"`
		Value    json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	value, err := DecodeParameterDescriptor(raw.Value)
	if err != nil {
		return fmt.Errorf("parameter %q: %w", raw.Key, err)
	}
	*p = ParameterSchema{Key: raw.Key, Label: raw.Label, Subtitle: raw.Subtitle, Value: value}
	return nil
}

// DecodeParameterDescriptor decodes a descriptor by its parameter_type tag.
func DecodeParameterDescriptor(data []byte) (ParameterDescriptor, error) {
	var tag struct {
		ParameterType ParameterType `json:"parameter_type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, err
	}
	switch tag.ParameterType {
	case ParameterTypeText:
		return decodeAs[TextParameter](data)
	case ParameterTypeInt:
		return decodeAs[IntParameter](data)
	case ParameterTypeFloat:
		return decodeAs[FloatParameter](data)
	case ParameterTypeRangedInt:
		return decodeAs[RangedIntParameter](data)
	case ParameterTypeRangedFloat:
		return decodeAs[RangedFloatParameter](data)
	case ParameterTypeEnum:
		return decodeAs[EnumParameter](data)
	default:
		return nil, fmt.Errorf("unknown parameter_type %q", tag.ParameterType)
	}
}

func decodeAs[T ParameterDescriptor](data []byte) (ParameterDescriptor, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

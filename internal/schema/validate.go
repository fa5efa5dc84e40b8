package schema

import (
	"reflect"
	"sort"
	"strings"
)

const absent = "absent"

var inputGoTypes = map[InputType]reflect.Type{
	InputTypeFile:           reflect.TypeOf(FileInput{}),
	InputTypeDirectory:      reflect.TypeOf(DirectoryInput{}),
	InputTypeText:           reflect.TypeOf(TextInput{}),
	InputTypeTextarea:       reflect.TypeOf(TextInput{}),
	InputTypeBatchFile:      reflect.TypeOf(BatchFileInput{}),
	InputTypeBatchText:      reflect.TypeOf(BatchTextInput{}),
	InputTypeBatchDirectory: reflect.TypeOf(BatchDirectoryInput{}),
}

var parameterGoTypes = map[ParameterType]reflect.Type{
	ParameterTypeText:        reflect.TypeOf(""),
	ParameterTypeEnum:        reflect.TypeOf(""),
	ParameterTypeInt:         reflect.TypeOf(0),
	ParameterTypeRangedInt:   reflect.TypeOf(0),
	ParameterTypeFloat:       reflect.TypeOf(float64(0)),
	ParameterTypeRangedFloat: reflect.TypeOf(float64(0)),
}

// InputGoType returns the record type a handler must use for an input slot.
func InputGoType(t InputType) (reflect.Type, bool) {
	rt, ok := inputGoTypes[t]
	return rt, ok
}

// ParameterGoType returns the field type a handler must use for a parameter.
func ParameterGoType(t ParameterType) (reflect.Type, bool) {
	rt, ok := parameterGoTypes[t]
	return rt, ok
}

// Validate checks that the inputs and parameters record types match ts: the
// same set of keys, each field of the exact type the descriptor maps to. A nil
// parameters type is treated as NoParameters.
func Validate(inputs, parameters reflect.Type, ts TaskSchema) error {
	if parameters == nil {
		parameters = reflect.TypeOf(NoParameters{})
	}

	gotInputs, err := recordFields(SectionInputs, inputs)
	if err != nil {
		return err
	}
	wantInputs, err := expectedInputs(ts.Inputs)
	if err != nil {
		return err
	}
	if err := compareFields(SectionInputs, wantInputs, gotInputs); err != nil {
		return err
	}

	gotParams, err := recordFields(SectionParameters, parameters)
	if err != nil {
		return err
	}
	wantParams, err := expectedParameters(ts.Parameters)
	if err != nil {
		return err
	}
	return compareFields(SectionParameters, wantParams, gotParams)
}

func expectedInputs(inputs []InputSchema) (map[string]reflect.Type, error) {
	want := make(map[string]reflect.Type, len(inputs))
	for _, in := range inputs {
		if _, dup := want[in.Key]; dup {
			return nil, &SchemaMismatchError{Section: SectionInputs, Key: in.Key, Expected: "unique key", Actual: "duplicate key"}
		}
		rt, ok := inputGoTypes[in.InputType]
		if !ok {
			return nil, &SchemaMismatchError{Section: SectionInputs, Key: in.Key, Expected: "known input type", Actual: string(in.InputType)}
		}
		want[in.Key] = rt
	}
	return want, nil
}

func expectedParameters(params []ParameterSchema) (map[string]reflect.Type, error) {
	want := make(map[string]reflect.Type, len(params))
	for _, p := range params {
		if _, dup := want[p.Key]; dup {
			return nil, &SchemaMismatchError{Section: SectionParameters, Key: p.Key, Expected: "unique key", Actual: "duplicate key"}
		}
		if p.Value == nil {
			return nil, &SchemaMismatchError{Section: SectionParameters, Key: p.Key, Expected: "parameter descriptor", Actual: "nil"}
		}
		rt, ok := parameterGoTypes[p.Value.ParameterType()]
		if !ok {
			return nil, &SchemaMismatchError{Section: SectionParameters, Key: p.Key, Expected: "known parameter type", Actual: string(p.Value.ParameterType())}
		}
		want[p.Key] = rt
	}
	return want, nil
}

// recordFields maps the JSON key of every exported field of a struct type to
// the field's type.
func recordFields(section Section, rt reflect.Type) (map[string]reflect.Type, error) {
	if rt == nil || rt.Kind() != reflect.Struct {
		actual := "nil"
		if rt != nil {
			actual = rt.String()
		}
		return nil, &SchemaMismatchError{Section: section, Expected: "struct record", Actual: actual}
	}
	fields := make(map[string]reflect.Type, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		key := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			name, _, _ := strings.Cut(tag, ",")
			if name == "-" {
				continue
			}
			if name != "" {
				key = name
			}
		}
		fields[key] = f.Type
	}
	return fields, nil
}

func compareFields(section Section, want, got map[string]reflect.Type) error {
	for _, key := range sortedKeys(want) {
		g, ok := got[key]
		if !ok {
			return &SchemaMismatchError{Section: section, Key: key, Expected: want[key].String(), Actual: absent}
		}
		if g != want[key] {
			return &SchemaMismatchError{Section: section, Key: key, Expected: want[key].String(), Actual: g.String()}
		}
	}
	for _, key := range sortedKeys(got) {
		if _, ok := want[key]; !ok {
			return &SchemaMismatchError{Section: section, Key: key, Expected: absent, Actual: got[key].String()}
		}
	}
	return nil
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

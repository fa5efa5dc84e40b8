package response

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// InvalidReturnTypeError reports a handler result with no envelope mapping.
type InvalidReturnTypeError struct {
	Type string
}

func (e *InvalidReturnTypeError) Error() string {
	return fmt.Sprintf("invalid return type: %s cannot be converted to a response", e.Type)
}

func (e *InvalidReturnTypeError) ErrorCode() string { return "invalid_return_type" }

func invalid(v any) error {
	if v == nil {
		return &InvalidReturnTypeError{Type: "nil"}
	}
	return &InvalidReturnTypeError{Type: reflect.TypeOf(v).String()}
}

// Normalize converts a handler result into an envelope. Envelopes and case
// values pass through; records are classified by their output_type tag and
// then by key shape; sequences become BatchText; strings and Stringers
// become Text.
func Normalize(v any) (Body, error) {
	switch x := v.(type) {
	case nil:
		return Body{}, invalid(nil)
	case Body:
		if x.Root == nil {
			return Body{}, &InvalidReturnTypeError{Type: "empty response.Body"}
		}
		return Body{Root: canonical(x.Root)}, nil
	case *Body:
		if x == nil || x.Root == nil {
			return Body{}, &InvalidReturnTypeError{Type: "empty response.Body"}
		}
		return Body{Root: canonical(x.Root)}, nil
	case Response:
		if r := canonical(x); r != nil {
			return Body{Root: r}, nil
		}
		return Body{}, invalid(v)
	case string:
		return Text(x), nil
	case []string:
		return batchText(x), nil
	case fmt.Stringer:
		return Text(x.String()), nil
	case map[string]any:
		r, err := classifyRecord(x)
		if err != nil {
			return Body{}, err
		}
		if r == nil {
			return Body{}, invalid(v)
		}
		return Body{Root: r}, nil
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(x, &decoded); err != nil {
			return Body{}, &InvalidReturnTypeError{Type: "malformed JSON"}
		}
		if decoded == nil {
			return Body{}, invalid(nil)
		}
		return Normalize(decoded)
	}
	return normalizeReflect(v)
}

func normalizeReflect(v any) (Body, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return Body{}, invalid(v)
		}
		texts := make([]string, rv.Len())
		for i := range texts {
			texts[i] = stringify(rv.Index(i).Interface())
		}
		return batchText(texts), nil
	case reflect.Struct, reflect.Map:
		if rv.Kind() == reflect.Map && rv.Type().Key().Kind() != reflect.String {
			return Body{}, invalid(v)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return Body{}, invalid(v)
		}
		var record map[string]any
		if err := json.Unmarshal(raw, &record); err != nil {
			return Body{}, invalid(v)
		}
		r, err := classifyRecord(record)
		if err != nil {
			return Body{}, err
		}
		if r == nil {
			return Body{}, invalid(v)
		}
		return Body{Root: r}, nil
	case reflect.Pointer:
		if rv.IsNil() {
			return Body{}, invalid(v)
		}
		return Normalize(rv.Elem().Interface())
	}
	return Body{}, invalid(v)
}

// canonical dereferences pointer cases so envelopes always hold values.
func canonical(r Response) Response {
	switch x := r.(type) {
	case *TextResponse:
		return derefOrNil(x)
	case *BatchTextResponse:
		return derefOrNil(x)
	case *FileResponse:
		return derefOrNil(x)
	case *BatchFileResponse:
		return derefOrNil(x)
	case *DirectoryResponse:
		return derefOrNil(x)
	case *BatchDirectoryResponse:
		return derefOrNil(x)
	case *MarkdownResponse:
		return derefOrNil(x)
	}
	return r
}

func derefOrNil[T Response](p *T) Response {
	if p == nil {
		return nil
	}
	return *p
}

func batchText(values []string) Body {
	texts := make([]TextResponse, len(values))
	for i, s := range values {
		texts[i] = TextResponse{Value: s}
	}
	return Body{Root: BatchTextResponse{Texts: texts}}
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case map[string]any, []any:
		if raw, err := json.Marshal(x); err == nil {
			return string(raw)
		}
	}
	return fmt.Sprint(v)
}

// classifyRecord maps a decoded JSON object onto a case. It returns nil
// without error when the record matches no case.
func classifyRecord(m map[string]any) (Response, error) {
	if tag, ok := m["output_type"].(string); ok {
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, &InvalidReturnTypeError{Type: "record"}
		}
		r, err := decodeTagged(OutputType(tag), raw)
		if err != nil {
			return nil, &InvalidReturnTypeError{Type: fmt.Sprintf("record tagged %q", tag)}
		}
		return r, nil
	}

	switch {
	case has(m, "texts"):
		items, ok := m["texts"].([]any)
		if !ok {
			return nil, nil
		}
		texts := make([]TextResponse, 0, len(items))
		for _, item := range items {
			if obj, ok := item.(map[string]any); ok {
				texts = append(texts, textFromRecord(obj))
				continue
			}
			texts = append(texts, TextResponse{Value: stringify(item)})
		}
		return BatchTextResponse{Texts: texts}, nil
	case has(m, "files"):
		items, ok := m["files"].([]any)
		if !ok {
			return nil, nil
		}
		files := make([]FileResponse, 0, len(items))
		for _, item := range items {
			switch x := item.(type) {
			case map[string]any:
				files = append(files, fileFromRecord(x))
			case string:
				files = append(files, FileResponse{Path: x, FileType: FileTypeForPath(x)})
			default:
				return nil, nil
			}
		}
		return BatchFileResponse{Files: files}, nil
	case has(m, "directories"):
		items, ok := m["directories"].([]any)
		if !ok {
			return nil, nil
		}
		dirs := make([]DirectoryResponse, 0, len(items))
		for _, item := range items {
			switch x := item.(type) {
			case map[string]any:
				dirs = append(dirs, directoryFromRecord(x))
			case string:
				dirs = append(dirs, DirectoryResponse{Path: x})
			default:
				return nil, nil
			}
		}
		return BatchDirectoryResponse{Directories: dirs}, nil
	case has(m, "markdown"):
		return MarkdownResponse{Markdown: stringField(m, "markdown")}, nil
	case has(m, "path"):
		if isDir, _ := m["is_directory"].(bool); isDir {
			return directoryFromRecord(m), nil
		}
		return fileFromRecord(m), nil
	}
	return nil, nil
}

func has(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return stringify(v)
	}
}

func textFromRecord(m map[string]any) TextResponse {
	return TextResponse{
		Value:    stringField(m, "value"),
		Title:    stringField(m, "title"),
		Subtitle: stringField(m, "subtitle"),
	}
}

func fileFromRecord(m map[string]any) FileResponse {
	path := stringField(m, "path")
	fileType := FileType(strings.ToLower(stringField(m, "file_type")))
	if fileType == "" {
		fileType = FileTypeForPath(path)
	}
	return FileResponse{
		Path:     path,
		FileType: fileType,
		Title:    stringField(m, "title"),
		Subtitle: stringField(m, "subtitle"),
	}
}

func directoryFromRecord(m map[string]any) DirectoryResponse {
	return DirectoryResponse{
		Path:     stringField(m, "path"),
		Title:    stringField(m, "title"),
		Subtitle: stringField(m, "subtitle"),
	}
}

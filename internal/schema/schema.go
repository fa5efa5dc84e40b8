// Package schema holds the descriptor vocabulary shared by a plugin's declared
// task schema and the Go types its handlers consume: input records, parameter
// descriptors, the type/schema consistency check and the sample payloads derived
// from a schema.
package schema

// InputType names the shape of one input slot in a task schema.
type InputType string

const (
	InputTypeFile           InputType = "file"
	InputTypeDirectory      InputType = "directory"
	InputTypeText           InputType = "text"
	InputTypeTextarea       InputType = "textarea"
	InputTypeBatchFile      InputType = "batchfile"
	InputTypeBatchText      InputType = "batchtext"
	InputTypeBatchDirectory InputType = "batchdirectory"
)

// FileInput is the record bound to a file input slot.
type FileInput struct {
	Path string `json:"path"`
}

// DirectoryInput is the record bound to a directory input slot.
type DirectoryInput struct {
	Path string `json:"path"`
}

// TextInput is the record bound to text and textarea input slots.
type TextInput struct {
	Text string `json:"text"`
}

type BatchFileInput struct {
	Files []FileInput `json:"files"`
}

type BatchTextInput struct {
	Texts []TextInput `json:"texts"`
}

type BatchDirectoryInput struct {
	Directories []DirectoryInput `json:"directories"`
}

// NoParameters is the parameter record of operations that take no parameters.
type NoParameters struct{}

// InputSchema describes one named input of an operation.
type InputSchema struct {
	Key       string    `json:"key"`
	Label     string    `json:"label"`
	Subtitle  string    `json:"subtitle,omitempty"`
	InputType InputType `json:"input_type"`
}

// TaskSchema declares the inputs and parameters an operation expects.
type TaskSchema struct {
	Inputs     []InputSchema     `json:"inputs"`
	Parameters []ParameterSchema `json:"parameters"`
}

// AppMetadata is the static description a plugin publishes about itself.
type AppMetadata struct {
	Name    string `json:"name"`
	Author  string `json:"author"`
	Version string `json:"version"`
	Info    string `json:"info"`
}

// RequestBody is the wire shape of an operation call: inputs and parameters
// nested under their own keys.
type RequestBody struct {
	Inputs     map[string]any `json:"inputs"`
	Parameters map[string]any `json:"parameters"`
}

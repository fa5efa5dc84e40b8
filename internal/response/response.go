// Package response defines the envelope every command result is reported in:
// a tagged union with one case per output shape.
package response

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// OutputType is the explicit tag carried next to the case fields on the wire.
type OutputType string

const (
	OutputText           OutputType = "text"
	OutputBatchText      OutputType = "batchtext"
	OutputFile           OutputType = "file"
	OutputBatchFile      OutputType = "batchfile"
	OutputDirectory      OutputType = "directory"
	OutputBatchDirectory OutputType = "batchdirectory"
	OutputMarkdown       OutputType = "markdown"
)

type FileType string

const (
	FileTypeImg      FileType = "img"
	FileTypeCSV      FileType = "csv"
	FileTypeJSON     FileType = "json"
	FileTypeText     FileType = "text"
	FileTypeAudio    FileType = "audio"
	FileTypeVideo    FileType = "video"
	FileTypeMarkdown FileType = "markdown"
)

// Response is implemented by exactly the seven case types of this package.
type Response interface {
	OutputType() OutputType
	isResponse()
}

type TextResponse struct {
	Value    string `json:"value"`
	Title    string `json:"title,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`
}

type BatchTextResponse struct {
	Texts []TextResponse `json:"texts"`
}

type FileResponse struct {
	Path     string   `json:"path"`
	FileType FileType `json:"file_type"`
	Title    string   `json:"title,omitempty"`
	Subtitle string   `json:"subtitle,omitempty"`
}

type BatchFileResponse struct {
	Files []FileResponse `json:"files"`
}

type DirectoryResponse struct {
	Path     string `json:"path"`
	Title    string `json:"title,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`
}

type BatchDirectoryResponse struct {
	Directories []DirectoryResponse `json:"directories"`
}

type MarkdownResponse struct {
	Markdown string `json:"markdown"`
}

func (TextResponse) OutputType() OutputType           { return OutputText }
func (BatchTextResponse) OutputType() OutputType      { return OutputBatchText }
func (FileResponse) OutputType() OutputType           { return OutputFile }
func (BatchFileResponse) OutputType() OutputType      { return OutputBatchFile }
func (DirectoryResponse) OutputType() OutputType      { return OutputDirectory }
func (BatchDirectoryResponse) OutputType() OutputType { return OutputBatchDirectory }
func (MarkdownResponse) OutputType() OutputType       { return OutputMarkdown }

func (TextResponse) isResponse()           {}
func (BatchTextResponse) isResponse()      {}
func (FileResponse) isResponse()           {}
func (BatchFileResponse) isResponse()      {}
func (DirectoryResponse) isResponse()      {}
func (BatchDirectoryResponse) isResponse() {}
func (MarkdownResponse) isResponse()       {}

// Body is the envelope: exactly one case, held in Root.
type Body struct {
	Root Response
}

// Text wraps a plain string.
func Text(value string) Body {
	return Body{Root: TextResponse{Value: value}}
}

// Unwrap returns the case value held by the envelope.
func (b Body) Unwrap() Response { return b.Root }

func (b Body) OutputType() OutputType {
	if b.Root == nil {
		return ""
	}
	return b.Root.OutputType()
}

func (b Body) MarshalJSON() ([]byte, error) {
	if b.Root == nil {
		return []byte("null"), nil
	}
	raw, err := json.Marshal(b.Root)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	tag, err := json.Marshal(b.Root.OutputType())
	if err != nil {
		return nil, err
	}
	fields["output_type"] = tag
	return json.Marshal(fields)
}

func (b *Body) UnmarshalJSON(data []byte) error {
	var tag struct {
		OutputType OutputType `json:"output_type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	root, err := decodeTagged(tag.OutputType, data)
	if err != nil {
		return err
	}
	b.Root = root
	return nil
}

func decodeTagged(t OutputType, data []byte) (Response, error) {
	switch t {
	case OutputText:
		return decodeCase[TextResponse](data)
	case OutputBatchText:
		return decodeCase[BatchTextResponse](data)
	case OutputFile:
		return decodeCase[FileResponse](data)
	case OutputBatchFile:
		return decodeCase[BatchFileResponse](data)
	case OutputDirectory:
		return decodeCase[DirectoryResponse](data)
	case OutputBatchDirectory:
		return decodeCase[BatchDirectoryResponse](data)
	case OutputMarkdown:
		return decodeCase[MarkdownResponse](data)
	default:
		return nil, fmt.Errorf("unknown output_type %q", t)
	}
}

func decodeCase[T Response](data []byte) (Response, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// FileTypeForPath guesses a file type from the path's extension.
func FileTypeForPath(path string) FileType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp", ".tif", ".tiff":
		return FileTypeImg
	case ".csv":
		return FileTypeCSV
	case ".json":
		return FileTypeJSON
	case ".md", ".markdown":
		return FileTypeMarkdown
	case ".mp3", ".wav", ".flac", ".ogg", ".m4a":
		return FileTypeAudio
	case ".mp4", ".mov", ".avi", ".mkv", ".webm":
		return FileTypeVideo
	default:
		return FileTypeText
	}
}

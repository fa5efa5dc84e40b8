package schema

import "fmt"

// Section names the half of a task schema an error refers to.
type Section string

const (
	SectionInputs     Section = "inputs"
	SectionParameters Section = "parameters"
)

// SchemaMismatchError reports a handler type that disagrees with the task
// schema it is registered with. Expected and Actual are type names, or
// "absent" when the key exists on one side only.
type SchemaMismatchError struct {
	Section  Section
	Key      string
	Expected string
	Actual   string
}

func (e *SchemaMismatchError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("schema mismatch in %s: expected %s, got %s", e.Section, e.Expected, e.Actual)
	}
	return fmt.Sprintf("schema mismatch in %s for key %q: expected %s, got %s", e.Section, e.Key, e.Expected, e.Actual)
}

func (e *SchemaMismatchError) ErrorCode() string { return "schema_mismatch" }

// PayloadError reports a request body that does not satisfy a task schema.
type PayloadError struct {
	Section Section
	Key     string
	Detail  string
}

func (e *PayloadError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("invalid %s: %s", e.Section, e.Detail)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Section, e.Key, e.Detail)
}

func (e *PayloadError) ErrorCode() string {
	if e.Section == SectionParameters {
		return "invalid_parameter"
	}
	return "invalid_request_schema"
}

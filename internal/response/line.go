package response

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ClassifyLine turns one captured output line into an envelope. JSON object
// lines are normalized like handler results; everything else, including
// objects that match no case, is reported as Text. It never fails: a line
// that starts like an object but does not parse, or cannot be processed,
// yields a Text envelope carrying the error.
func ClassifyLine(line string) (b Body) {
	defer func() {
		if r := recover(); r != nil {
			b = Text(fmt.Sprintf("error: processing output line: %v", r))
		}
	}()

	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return Text(line)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return Text(fmt.Sprintf("error: malformed output line: %v: %s", err, line))
	}
	normalized, err := Normalize(record)
	if err != nil {
		return Text(line)
	}
	return normalized
}

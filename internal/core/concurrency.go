package core

import (
	"fmt"
	"strings"
)

// ConcurrencyMode controls how many invocations the executor runs at once.
// Every invocation owns its capture sink, so isolated execution is safe.
type ConcurrencyMode string

const (
	ConcurrencyIsolated  ConcurrencyMode = "isolated"
	ConcurrencySerialize ConcurrencyMode = "serialize"
)

func ParseConcurrencyMode(v string) (ConcurrencyMode, error) {
	mode := ConcurrencyMode(strings.ToLower(strings.TrimSpace(v)))
	if mode == "" {
		return ConcurrencyIsolated, nil
	}
	if mode == ConcurrencyIsolated || mode == ConcurrencySerialize {
		return mode, nil
	}
	return "", fmt.Errorf("invalid CONCURRENCY_MODE %q, expected isolated or serialize", v)
}

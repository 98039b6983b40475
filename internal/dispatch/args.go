package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParseArgs decodes a request body into positional arguments. An empty body
// means no arguments, a JSON array is the argument list, and any other JSON
// value is a single argument.
func ParseArgs(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if !json.Valid(body) {
		return nil, ErrMalformedArgs
	}
	if body[0] != '[' {
		return []json.RawMessage{json.RawMessage(body)}, nil
	}
	var args []json.RawMessage
	if err := json.Unmarshal(body, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArgs, err)
	}
	return args, nil
}

// EncodeArgs marshals Go values into positional arguments.
func EncodeArgs(values ...any) ([]json.RawMessage, error) {
	args := make([]json.RawMessage, 0, len(values))
	for i, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args = append(args, raw)
	}
	return args, nil
}

// ArgsFromStrings converts command-line words into arguments: words that are
// valid JSON are used as-is, anything else becomes a JSON string.
func ArgsFromStrings(words []string) []json.RawMessage {
	args := make([]json.RawMessage, 0, len(words))
	for _, w := range words {
		if json.Valid([]byte(w)) {
			args = append(args, json.RawMessage(w))
			continue
		}
		raw, _ := json.Marshal(w)
		args = append(args, raw)
	}
	return args
}

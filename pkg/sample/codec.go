package sample

import (
	"bytes"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// json sorts map keys so that encoded records are reproducible.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EncodeLine encodes a record as one compact, newline-terminated line.
func EncodeLine(r Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal record %d: %w", r.Index, err)
	}
	return append(data, '\n'), nil
}

// DecodeLine decodes one record line.
func DecodeLine(line []byte) (Record, error) {
	var r Record
	if len(bytes.TrimSpace(line)) == 0 {
		return r, fmt.Errorf("empty record line")
	}
	if err := json.Unmarshal(line, &r); err != nil {
		return r, fmt.Errorf("cannot parse record: %w", err)
	}
	return r, nil
}

// SplitLines splits file content into record lines. A single trailing
// newline does not produce an empty line.
func SplitLines(content []byte) [][]byte {
	content = bytes.TrimSuffix(content, []byte("\n"))
	if len(content) == 0 {
		return nil
	}
	return bytes.Split(content, []byte("\n"))
}

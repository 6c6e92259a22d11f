package sandbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// EncodeRequest serializes a Request to JSON and writes it to w.
func EncodeRequest(w io.Writer, req *Request) error {
	if req.Protocol != ProtocolVersion {
		return fmt.Errorf("unsupported protocol version: %d", req.Protocol)
	}

	if err := json.NewEncoder(w).Encode(req); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return nil
}

// DecodeResult reads a Result from r. Runners may log to stdout before the
// result, so when the whole output is not one JSON document the last
// non-empty line is tried. The raw bytes are returned for diagnostics.
func DecodeResult(r io.Reader) (*Result, []byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read result: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, data, fmt.Errorf("runner produced no output on stdout")
	}

	var res Result
	if err := json.Unmarshal(trimmed, &res); err != nil {
		lines := bytes.Split(trimmed, []byte("\n"))
		last := bytes.TrimSpace(lines[len(lines)-1])
		if err := json.Unmarshal(last, &res); err != nil {
			return nil, data, fmt.Errorf("runner output is not valid JSON: %w", err)
		}
	}

	if res.Kind() == KindInvalid {
		return nil, data, fmt.Errorf("result has none of error, timed_out or score")
	}
	return &res, data, nil
}

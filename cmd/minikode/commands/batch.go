package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/minmaxflow/mini-kode/internal/executor"
)

// batchFile is the on-disk form of a batch. A bare list of calls is also
// accepted.
type batchFile struct {
	SessionID string      `json:"sessionId,omitempty"`
	Calls     []batchCall `json:"calls"`
}

type batchCall struct {
	RequestID string          `json:"requestId,omitempty"`
	ToolName  string          `json:"toolName"`
	Input     json.RawMessage `json:"input,omitempty"`
}

// parseBatch decodes a JSON or YAML batch. name picks the decoder by
// extension; anything not ending in .yaml or .yml is tried as JSON first.
// Calls without a request id get a generated one.
func parseBatch(name string, r io.Reader) (string, []executor.Request, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read batch: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(name))
	isYAML := ext == ".yaml" || ext == ".yml"
	if !isYAML && !json.Valid(data) {
		isYAML = true
	}
	if isYAML {
		if data, err = yamlToJSON(data); err != nil {
			return "", nil, fmt.Errorf("invalid YAML batch: %w", err)
		}
	}

	var file batchFile
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &file.Calls)
	} else {
		err = json.Unmarshal(trimmed, &file)
	}
	if err != nil {
		return "", nil, fmt.Errorf("invalid batch: %w", err)
	}
	if len(file.Calls) == 0 {
		return "", nil, errors.New("batch has no calls")
	}

	reqs := make([]executor.Request, len(file.Calls))
	for i, c := range file.Calls {
		if c.ToolName == "" {
			return "", nil, fmt.Errorf("call %d: toolName is required", i+1)
		}
		id := c.RequestID
		if id == "" {
			id = "call_" + strings.ToLower(ulid.Make().String())
		}
		reqs[i] = executor.Request{RequestID: id, ToolName: c.ToolName, Input: c.Input}
	}
	return file.SessionID, reqs, nil
}

// yamlToJSON re-encodes a YAML document as JSON so tool inputs reach the
// tools as raw JSON.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(jsonCompatible(doc))
}

// jsonCompatible converts the map[any]any nodes yaml can produce for
// non-string keys.
func jsonCompatible(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = jsonCompatible(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = jsonCompatible(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = jsonCompatible(val)
		}
		return t
	}
	return v
}

func newSessionID() string {
	return "ses_" + strings.ToLower(ulid.Make().String())
}

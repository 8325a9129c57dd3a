package permission

import (
	"encoding/json"
	"time"
)

// grantedAtLayout is the on-disk timestamp form, always UTC.
const grantedAtLayout = "2006-01-02T15:04:05.000Z"

// grantRecord is one entry of the project grant file. Pointer fields let
// decoding tell a missing field from an empty one. GrantedAt is
// informational, so it is decoded leniently on its own.
type grantRecord struct {
	Type       *string         `json:"type"`
	Path       *string         `json:"path,omitempty"`
	Command    *string         `json:"command,omitempty"`
	ServerName *string         `json:"serverName,omitempty"`
	ToolName   *string         `json:"toolName,omitempty"`
	GrantedAt  json.RawMessage `json:"grantedAt"`
}

type grantFile struct {
	Grants []Grant `json:"grants"`
}

// MarshalJSON writes a grant in the project file format.
func (g Grant) MarshalJSON() ([]byte, error) {
	typ := string(g.Type)
	at := g.GrantedAt.UTC().Format(grantedAtLayout)
	rec := grantRecord{Type: &typ, GrantedAt: json.RawMessage(`"` + at + `"`)}
	switch g.Type {
	case KindFs:
		rec.Path = &g.Path
	case KindBash:
		rec.Command = &g.Command
	case KindMCP:
		rec.ServerName = &g.ServerName
		if g.ToolName != "" {
			rec.ToolName = &g.ToolName
		}
	}
	return json.Marshal(rec)
}

// decodeGrantFile parses the project grant file. It never fails: anything
// that is not an object with a "grants" array yields no grants, and entries
// that do not validate are dropped. dropped counts the discarded entries.
func decodeGrantFile(data []byte) (grants []Grant, dropped int) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, 0
	}
	raw, ok := top["grants"]
	if !ok {
		return nil, 0
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, 0
	}

	for _, entry := range entries {
		g, ok := decodeGrant(entry)
		if !ok {
			dropped++
			continue
		}
		grants = append(grants, g)
	}
	return grants, dropped
}

func decodeGrant(data json.RawMessage) (Grant, bool) {
	var rec grantRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Grant{}, false
	}
	if rec.Type == nil {
		return Grant{}, false
	}
	at := parseGrantedAt(rec.GrantedAt)

	switch Kind(*rec.Type) {
	case KindFs:
		if !nonEmpty(rec.Path) {
			return Grant{}, false
		}
		return FsGrant(*rec.Path, at), true
	case KindBash:
		if !nonEmpty(rec.Command) {
			return Grant{}, false
		}
		return BashGrant(*rec.Command, at), true
	case KindMCP:
		if !nonEmpty(rec.ServerName) {
			return Grant{}, false
		}
		tool := ""
		if rec.ToolName != nil {
			tool = *rec.ToolName
		}
		return MCPGrant(*rec.ServerName, tool, at), true
	}
	return Grant{}, false
}

// parseGrantedAt reads an RFC 3339 timestamp. Anything else, including a
// missing value, yields the zero time and keeps the grant.
func parseGrantedAt(raw json.RawMessage) time.Time {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return time.Time{}
	}
	at, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return at
}

func nonEmpty(s *string) bool {
	return s != nil && *s != ""
}

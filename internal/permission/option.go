package permission

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// OptionKind is the family of a permission option.
type OptionKind string

const (
	OptionOnce   OptionKind = "once"
	OptionFs     OptionKind = "fs"
	OptionBash   OptionKind = "bash"
	OptionMCP    OptionKind = "mcp"
	OptionReject OptionKind = "reject"
)

// Scope is how far a remembered approval reaches.
type Scope string

const (
	ScopeDirectory Scope = "directory"
	ScopeGlobal    Scope = "global"
	ScopeCommand   Scope = "command"
	ScopePrefix    Scope = "prefix"
	ScopeTool      Scope = "tool"
	ScopeServer    Scope = "server"
)

var optionScopes = map[OptionKind][]Scope{
	OptionFs:   {ScopeDirectory, ScopeGlobal},
	OptionBash: {ScopeCommand, ScopePrefix, ScopeGlobal},
	OptionMCP:  {ScopeTool, ScopeServer},
}

// Option is the scope a user grants when answering a permission request.
type Option struct {
	Kind  OptionKind `json:"kind"`
	Scope Scope      `json:"scope,omitempty"`
}

var (
	Once   = Option{Kind: OptionOnce}
	Reject = Option{Kind: OptionReject}
)

// Validate checks that the scope belongs to the kind.
func (o Option) Validate() error {
	switch o.Kind {
	case OptionOnce, OptionReject:
		if o.Scope != "" {
			return fmt.Errorf("option %s takes no scope", o.Kind)
		}
		return nil
	}
	scopes, ok := optionScopes[o.Kind]
	if !ok {
		return fmt.Errorf("unknown option kind %q", o.Kind)
	}
	for _, s := range scopes {
		if s == o.Scope {
			return nil
		}
	}
	return fmt.Errorf("option %s does not support scope %q", o.Kind, o.Scope)
}

// Remember reports whether the option outlives the current request.
func (o Option) Remember() bool {
	return o.Kind != OptionOnce && o.Kind != OptionReject
}

func (o Option) String() string {
	if o.Scope == "" {
		return string(o.Kind)
	}
	return string(o.Kind) + ":" + string(o.Scope)
}

// ParseOption parses the String form of an option, e.g. "once" or "bash:prefix".
func ParseOption(s string) (Option, error) {
	kind, scope, _ := strings.Cut(strings.TrimSpace(s), ":")
	o := Option{Kind: OptionKind(kind), Scope: Scope(scope)}
	if err := o.Validate(); err != nil {
		return Option{}, err
	}
	return o, nil
}

// OptionsFor lists the options that make sense for a hint, in prompt order.
func OptionsFor(hint UIHint) []Option {
	opts := []Option{Once}
	switch hint.Kind {
	case KindFs:
		opts = append(opts, Option{OptionFs, ScopeDirectory}, Option{OptionFs, ScopeGlobal})
	case KindBash:
		opts = append(opts, Option{OptionBash, ScopeCommand}, Option{OptionBash, ScopePrefix}, Option{OptionBash, ScopeGlobal})
	case KindMCP:
		opts = append(opts, Option{OptionMCP, ScopeTool}, Option{OptionMCP, ScopeServer})
	}
	return append(opts, Reject)
}

// RejectReason records why a request was denied.
type RejectReason string

const (
	ReasonUserRejected RejectReason = "user_rejected"
	ReasonTimeout      RejectReason = "timeout"
)

// Decision is the answer to an approval request.
type Decision struct {
	Approved bool         `json:"approved"`
	Option   Option       `json:"option,omitempty"`
	Reason   RejectReason `json:"reason,omitempty"`
}

// Approve returns an approving decision. Choosing the reject option yields a
// user rejection.
func Approve(opt Option) Decision {
	if opt.Kind == OptionReject {
		return Deny(ReasonUserRejected)
	}
	return Decision{Approved: true, Option: opt}
}

// Deny returns a rejecting decision.
func Deny(reason RejectReason) Decision {
	return Decision{Reason: reason}
}

// Validate checks a decision received from outside the process.
func (d Decision) Validate() error {
	if d.Approved {
		if d.Option.Kind == OptionReject {
			return errors.New("approved decision cannot carry the reject option")
		}
		return d.Option.Validate()
	}
	switch d.Reason {
	case ReasonUserRejected, ReasonTimeout:
		return nil
	}
	return fmt.Errorf("unknown rejection reason %q", d.Reason)
}

// MarshalJSON writes only the fields of the decision's branch.
func (d Decision) MarshalJSON() ([]byte, error) {
	if d.Approved {
		return json.Marshal(struct {
			Approved bool   `json:"approved"`
			Option   Option `json:"option"`
		}{true, d.Option})
	}
	return json.Marshal(struct {
		Approved bool         `json:"approved"`
		Reason   RejectReason `json:"reason"`
	}{false, d.Reason})
}

// UnmarshalJSON accepts {"approved":true,"option":"bash:prefix"} as well as
// the object form of the option, and defaults a missing rejection reason
// to user_rejected.
func (d *Decision) UnmarshalJSON(data []byte) error {
	var wire struct {
		Approved bool            `json:"approved"`
		Option   json.RawMessage `json:"option"`
		Reason   RejectReason    `json:"reason"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*d = Decision{Approved: wire.Approved, Reason: wire.Reason}
	if len(wire.Option) > 0 && string(wire.Option) != "null" {
		var s string
		if json.Unmarshal(wire.Option, &s) == nil {
			opt, err := ParseOption(s)
			if err != nil {
				return err
			}
			d.Option = opt
		} else if err := json.Unmarshal(wire.Option, &d.Option); err != nil {
			return err
		}
	}
	if !d.Approved && d.Reason == "" {
		d.Reason = ReasonUserRejected
	}
	return nil
}

// GrantsFor returns the grants an approval with opt creates for hint.
// Relative fs paths are resolved against cwd.
func GrantsFor(hint UIHint, opt Option, cwd string, now time.Time) ([]Grant, error) {
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	if opt.Kind == OptionReject {
		return nil, errors.New("reject option creates no grants")
	}
	if opt.Kind != OptionOnce && string(opt.Kind) != string(hint.Kind) {
		return nil, fmt.Errorf("option %s does not apply to a %s request", opt, hint.Kind)
	}

	switch hint.Kind {
	case KindFs:
		target := absPath(cwd, hint.Path)
		switch opt.Scope {
		case ScopeGlobal:
			return []Grant{FsGrant("*", now)}, nil
		case ScopeDirectory:
			if info, err := os.Stat(target); err != nil || !info.IsDir() {
				target = filepath.Dir(target)
			}
		}
		return []Grant{FsGrant(target, now)}, nil

	case KindBash:
		if opt.Scope == ScopeGlobal {
			return []Grant{BashGrant("*", now)}, nil
		}
		var grants []Grant
		seen := make(map[string]bool)
		for _, seg := range PermissionSegments(hint.Command) {
			pattern := seg
			if opt.Scope == ScopePrefix {
				pattern = PrefixPattern(seg)
			}
			if pattern == "" || seen[pattern] {
				continue
			}
			seen[pattern] = true
			grants = append(grants, BashGrant(pattern, now))
		}
		if len(grants) == 0 {
			return nil, errors.New("command has nothing to grant")
		}
		return grants, nil

	case KindMCP:
		if opt.Scope == ScopeServer {
			return []Grant{MCPGrant(hint.ServerName, "", now)}, nil
		}
		return []Grant{MCPGrant(hint.ServerName, hint.ToolName, now)}, nil
	}
	return nil, fmt.Errorf("unknown permission kind %q", hint.Kind)
}

func absPath(cwd, path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(cwd, path)
	}
	return filepath.Clean(path)
}

package permission

import (
	"path/filepath"
	"strings"
)

// Resolver applies the layered policy: approval mode, then the project's
// private directory, then session grants, then project grants. Its answers
// depend only on its arguments and the grant snapshot it reads.
type Resolver struct {
	grants GrantStore
}

// NewResolver creates a Resolver reading grants from store.
func NewResolver(store GrantStore) *Resolver {
	return &Resolver{grants: store}
}

// Grants returns the underlying grant store.
func (r *Resolver) Grants() GrantStore {
	return r.grants
}

// CheckFs decides whether target may be written. Relative targets are
// resolved against cwd.
func (r *Resolver) CheckFs(cwd, target string, mode ApprovalMode) Verdict {
	if mode == ModeYolo || mode == ModeAutoEdit {
		return allow()
	}

	cwd = filepath.Clean(cwd)
	abs := absPath(cwd, target)
	if pathWithin(abs, filepath.Join(cwd, ProjectDirName)) {
		return allow()
	}

	want := Grant{Type: KindFs, Path: abs}
	if anyCovers(r.grants.SessionGrants(), want) || anyCovers(r.grants.ProjectGrants(cwd), want) {
		return allow()
	}
	return deny("Permission required to write %s", displayPath(cwd, abs))
}

// CheckBash decides whether command may run. Every segment that is not a
// setup command (cd, export, ...) must be covered by a grant, so
// "cd src && npm test" needs a grant for "npm test" only and
// "npm test && rm -rf build" needs one for each.
func (r *Resolver) CheckBash(cwd, command string, mode ApprovalMode) Verdict {
	if mode == ModeYolo {
		return allow()
	}

	segments := PermissionSegments(command)
	if len(segments) == 0 {
		return deny("Command is empty")
	}

	session := r.grants.SessionGrants()
	missing := uncoveredSegments(session, segments)
	if len(missing) == 0 {
		return allow()
	}
	missing = uncoveredSegments(r.grants.ProjectGrants(filepath.Clean(cwd)), missing)
	if len(missing) == 0 {
		return allow()
	}
	return deny("Permission required to run: %s", strings.Join(missing, " && "))
}

// CheckMCP decides whether toolName on serverName may be called.
func (r *Resolver) CheckMCP(cwd, serverName, toolName string, mode ApprovalMode) Verdict {
	if mode == ModeYolo {
		return allow()
	}

	want := Grant{Type: KindMCP, ServerName: serverName, ToolName: toolName}
	if anyCovers(r.grants.SessionGrants(), want) || anyCovers(r.grants.ProjectGrants(filepath.Clean(cwd)), want) {
		return allow()
	}
	return deny("Permission required to call %s on MCP server %s", toolName, serverName)
}

func anyCovers(grants []Grant, want Grant) bool {
	for _, g := range grants {
		if g.Covers(want) {
			return true
		}
	}
	return false
}

func uncoveredSegments(grants []Grant, segments []string) []string {
	var missing []string
	for _, seg := range segments {
		if !anyCovers(grants, Grant{Type: KindBash, Command: seg}) {
			missing = append(missing, seg)
		}
	}
	return missing
}

func displayPath(cwd, abs string) string {
	rel, err := filepath.Rel(cwd, abs)
	if err != nil {
		return abs
	}
	return rel
}

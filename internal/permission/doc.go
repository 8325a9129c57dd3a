// Package permission decides whether a tool may touch a path, run a shell
// command or call an MCP tool, and brokers user approvals when it may not.
//
// # Overview
//
// Authorization is layered. The approval mode comes first: yolo allows
// everything, autoEdit allows file writes. Anything the mode does not allow is
// checked against grants, session grants first and then the project grant
// file at <cwd>/.mini-kode/permissions.json. A check that finds no covering
// grant returns a Verdict with Allowed false and a message for the user.
//
//	r := permission.NewResolver(permission.NewStore())
//	v := r.CheckBash(cwd, "npm test && npm run lint", permission.ModeDefault)
//	if !v.Allowed {
//		fmt.Println(v.Message)
//	}
//
// # Grants
//
// A Grant is one of three kinds:
//
//   - fs: a path; it covers the path and everything below it. "*" covers all.
//   - bash: an exact command, a prefix pattern such as "npm:*", or "*".
//   - mcp: a server, optionally narrowed to one tool.
//
// Grants are only ever added. Session grants live for the process. Project
// grants are reread from disk on every check, and each entry of the file is
// validated on its own so one bad entry never hides the rest.
//
// # Bash Commands
//
// Commands are split into segments on &&, || and ; with the mvdan.cc/sh
// parser, so quoted separators stay inside their segment. ValidateCommand
// rejects network clients and browsers in any segment, whatever the grants
// say. CheckBash requires every segment except setup commands such as cd and
// export to be granted.
//
// # Approvals
//
// When a check fails the tool returns a PermissionRequiredError carrying a
// UIHint. OptionsFor lists the answers that make sense for the hint, and
// GrantsFor turns the chosen Option into grants. The Broker holds the pending
// request until some client resolves it, the context ends or the timeout
// fires:
//
//	d, err := broker.Await(ctx, requestID, hint, 0)
//	if err == nil && d.Approved {
//		grants, _ := permission.GrantsFor(hint, d.Option, cwd, time.Now())
//		...
//	}
package permission

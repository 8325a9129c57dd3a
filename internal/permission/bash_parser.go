package permission

import (
	"fmt"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Segment is one command of a compound shell line, split on &&, || and ;.
type Segment struct {
	Text     string   // source text, trimmed
	Name     string   // first word
	Commands []string // every command invoked, including pipeline members and substitutions
}

// SplitCommand splits a shell line into its && / || / ; segments. Quoted
// separators stay inside their segment. Input the shell parser rejects is
// split textually.
func SplitCommand(command string) []Segment {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return splitNaive(command)
	}

	var segments []Segment
	var visit func(stmt *syntax.Stmt)
	visit = func(stmt *syntax.Stmt) {
		if bin, ok := stmt.Cmd.(*syntax.BinaryCmd); ok && (bin.Op == syntax.AndStmt || bin.Op == syntax.OrStmt) {
			visit(bin.X)
			visit(bin.Y)
			return
		}
		if seg, ok := segmentFromStmt(command, stmt); ok {
			segments = append(segments, seg)
		}
	}
	for _, stmt := range file.Stmts {
		visit(stmt)
	}
	return segments
}

func segmentFromStmt(src string, stmt *syntax.Stmt) (Segment, bool) {
	start := int(stmt.Pos().Offset())
	end := int(stmt.End().Offset())
	if stmt.Semicolon.IsValid() {
		end = int(stmt.Semicolon.Offset())
	}
	if start < 0 || end > len(src) || start >= end {
		return Segment{}, false
	}

	seg := Segment{Text: strings.TrimSpace(src[start:end])}
	syntax.Walk(stmt, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok && len(call.Args) > 0 {
			if name := wordToString(call.Args[0]); name != "" {
				seg.Commands = append(seg.Commands, name)
			}
		}
		return true
	})
	if len(seg.Commands) > 0 {
		seg.Name = seg.Commands[0]
	}
	return seg, seg.Text != ""
}

// wordToString converts a syntax.Word to a string.
func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			sb.WriteString("$()")
		}
	}
	return sb.String()
}

// splitNaive splits on the separators without understanding quoting.
func splitNaive(command string) []Segment {
	parts := []string{command}
	for _, sep := range []string{"&&", "||", ";", "\n"} {
		var next []string
		for _, p := range parts {
			next = append(next, strings.Split(p, sep)...)
		}
		parts = next
	}

	var segments []Segment
	for _, p := range parts {
		text := strings.TrimSpace(p)
		if text == "" {
			continue
		}
		seg := Segment{Text: text}
		for _, piece := range strings.Split(text, "|") {
			fields := strings.Fields(piece)
			if len(fields) > 0 {
				seg.Commands = append(seg.Commands, strings.Trim(fields[0], `"'`))
			}
		}
		if len(seg.Commands) > 0 {
			seg.Name = seg.Commands[0]
		}
		segments = append(segments, seg)
	}
	return segments
}

// bannedCommands maps executables that may never run to the reason.
var bannedCommands = func() map[string]string {
	m := make(map[string]string)
	ban := func(reason string, names ...string) {
		for _, n := range names {
			m[n] = reason
		}
	}
	ban("it changes shell state for later commands", "alias")
	ban("network clients are not allowed", "curl", "curlie", "wget", "axel", "aria2c", "httpie", "xh", "http-prompt")
	ban("raw network sockets are not allowed", "nc", "telnet")
	ban("interactive browsers are not allowed", "lynx", "w3m", "links", "chrome", "firefox", "safari")
	return m
}()

// setupCommands only prepare the environment for the command that follows.
var setupCommands = map[string]bool{
	"cd":     true,
	"pushd":  true,
	"popd":   true,
	"export": true,
	"unset":  true,
	"source": true,
	".":      true,
	"set":    true,
	"env":    true,
}

// ValidateCommand rejects empty commands and commands that invoke a banned
// executable in any segment. It does not consult grants.
func ValidateCommand(command string) Verdict {
	if strings.TrimSpace(command) == "" {
		return deny("Command is empty")
	}
	for _, seg := range SplitCommand(command) {
		for _, name := range seg.Commands {
			base := filepath.Base(name)
			if reason, banned := bannedCommands[base]; banned {
				return deny("Command %q is not allowed: %s", base, reason)
			}
		}
	}
	return allow()
}

// ExtractMainCommand returns the last segment that is not a setup command,
// or the final segment when every segment is setup.
func ExtractMainCommand(command string) string {
	segments := SplitCommand(command)
	if len(segments) == 0 {
		return strings.TrimSpace(command)
	}
	for i := len(segments) - 1; i >= 0; i-- {
		if !isSetup(segments[i]) {
			return segments[i].Text
		}
	}
	return segments[len(segments)-1].Text
}

// PermissionSegments returns every segment that needs a grant: all non-setup
// segments, or the final segment when every segment is setup.
func PermissionSegments(command string) []string {
	segments := SplitCommand(command)
	var out []string
	for _, seg := range segments {
		if !isSetup(seg) {
			out = append(out, seg.Text)
		}
	}
	if len(out) == 0 && len(segments) > 0 {
		out = append(out, segments[len(segments)-1].Text)
	}
	return out
}

func isSetup(seg Segment) bool {
	return setupCommands[filepath.Base(seg.Name)]
}

// PrefixPattern returns the "<first word>:*" pattern for a segment.
func PrefixPattern(segment string) string {
	fields := strings.Fields(segment)
	if len(fields) == 0 {
		return ""
	}
	return fmt.Sprintf("%s:*", fields[0])
}

// MatchBashPattern reports whether a grant pattern covers a command segment.
// Patterns are "*", "<prefix>:*" (the prefix alone or followed by a space)
// or an exact command.
func MatchBashPattern(pattern, segment string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ":*"); ok {
		return segment == prefix || strings.HasPrefix(segment, prefix+" ")
	}
	return pattern == segment
}

// internal/toolcall/parser.go
package toolcall

import "strings"

// Command is a single embedded tool invocation parsed from model output.
type Command struct {
	Name   string
	Params string
}

const (
	openMarker  = "[[TOOL:"
	closeMarker = "]]"
)

// Parse scans raw model output for non-overlapping [[TOOL:<name>[:<params>]]]
// occurrences and returns them in left-to-right order. Names are
// canonicalized to lower case; params are passed through verbatim and may be
// empty or contain whitespace and colons. A token without a terminating ]]
// is ignored, as is a token with an empty name.
func Parse(text string) []Command {
	var cmds []Command
	rest := text
	for {
		start := strings.Index(rest, openMarker)
		if start < 0 {
			return cmds
		}
		body := rest[start+len(openMarker):]
		end := strings.Index(body, closeMarker)
		if end < 0 {
			return cmds
		}
		inner := body[:end]
		rest = body[end+len(closeMarker):]

		name := inner
		params := ""
		if i := strings.IndexByte(inner, ':'); i >= 0 {
			name = inner[:i]
			params = inner[i+1:]
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		cmds = append(cmds, Command{Name: name, Params: params})
	}
}

// Package validate implements the request checks that run before any process
// is created: tool-name shape, argument token content, and working-directory
// containment. All functions are pure and safe for concurrent use.
package validate

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Limits on argument lists. A request exceeding either is rejected outright.
const (
	MaxArgCount  = 64
	MaxArgLength = 2048
	MaxNameLen   = 64
)

// Kind classifies a validation failure.
type Kind string

const (
	KindInvalidToolName    Kind = "invalid_tool_name"
	KindDisallowedArgument Kind = "disallowed_argument"
	KindPathEscapesSandbox Kind = "path_escapes_sandbox"
)

// Error is a validation failure. Detail carries the full offending input for
// the audit trail; callers must not echo it back to clients verbatim.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Kind, e.Detail)
}

// Is reports whether target is a validate.Error of the same kind, so callers
// can match with errors.Is against the sentinel values below.
func (e *Error) Is(target error) bool {
	var ve *Error
	if !errors.As(target, &ve) {
		return false
	}
	return ve.Kind == e.Kind
}

// Sentinels for errors.Is matching.
var (
	ErrInvalidToolName    = &Error{Kind: KindInvalidToolName}
	ErrDisallowedArgument = &Error{Kind: KindDisallowedArgument}
	ErrPathEscapesSandbox = &Error{Kind: KindPathEscapesSandbox}
)

var toolNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// shellMeta is the set of bytes that are never allowed in an argument token.
// Execution is argv-based and never touches a shell, so this is defense in
// depth rather than the primary control. The check runs on raw bytes; quoting
// inside a token does not neutralize it.
const shellMeta = ";&|`$()<>"

// ToolName checks that the name is a plausible binary name: 1–64 bytes of
// [A-Za-z0-9._-]. Anything else is a security violation, not a lookup miss.
func ToolName(name string) error {
	if !toolNameRe.MatchString(name) {
		return &Error{Kind: KindInvalidToolName, Detail: fmt.Sprintf("tool name %q", name)}
	}
	return nil
}

// Arguments checks every token of a pre-tokenized argument list. Tokens are
// never joined into a shell string; each is inspected as raw bytes.
func Arguments(args []string) error {
	if len(args) > MaxArgCount {
		return &Error{
			Kind:   KindDisallowedArgument,
			Detail: fmt.Sprintf("%d arguments exceeds limit of %d", len(args), MaxArgCount),
		}
	}
	for i, arg := range args {
		if len(arg) > MaxArgLength {
			return &Error{
				Kind:   KindDisallowedArgument,
				Detail: fmt.Sprintf("argument %d length %d exceeds limit of %d", i, len(arg), MaxArgLength),
			}
		}
		if idx := strings.IndexAny(arg, shellMeta); idx >= 0 {
			return &Error{
				Kind:   KindDisallowedArgument,
				Detail: fmt.Sprintf("argument %d contains forbidden character %q: %q", i, arg[idx], arg),
			}
		}
		for j := 0; j < len(arg); j++ {
			if b := arg[j]; b < 0x20 || b == 0x7f {
				return &Error{
					Kind:   KindDisallowedArgument,
					Detail: fmt.Sprintf("argument %d contains control character 0x%02x: %q", i, b, arg),
				}
			}
		}
	}
	return nil
}

// WorkingDirectory canonicalizes the requested path (resolving ., .., and
// symlinks) and requires the result to live inside root. Containment is
// decided by path-segment comparison, never by string prefix, so a sibling
// like /sandbox2 cannot pass a check against /sandbox.
//
// The directory must already exist: EvalSymlinks fails on missing paths, and
// a path that cannot be canonicalized cannot be proven to stay inside root.
func WorkingDirectory(path, root string) (string, error) {
	if path == "" {
		return "", &Error{Kind: KindPathEscapesSandbox, Detail: "empty working directory"}
	}

	// Relative requests are anchored at the sandbox root.
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", &Error{
			Kind:   KindPathEscapesSandbox,
			Detail: fmt.Sprintf("cannot canonicalize %q: %v", path, err),
		}
	}

	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", &Error{
			Kind:   KindPathEscapesSandbox,
			Detail: fmt.Sprintf("cannot canonicalize sandbox root %q: %v", root, err),
		}
	}

	if !isDescendant(resolvedRoot, resolved) {
		return "", &Error{
			Kind:   KindPathEscapesSandbox,
			Detail: fmt.Sprintf("%q resolves outside sandbox root %q", path, root),
		}
	}
	return resolved, nil
}

// isDescendant reports whether path equals root or sits below it, comparing
// whole path segments.
func isDescendant(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MinTimeout is the floor for any effective timeout. A clamp below this would
// make every execution fail before the process can do useful work.
const MinTimeout = 1 * time.Second

// envAllowList is the only set of variables a child may inherit from the
// host. Everything else — credentials, dynamic-loader knobs, proxy settings —
// is dropped. LD_* and *_PROXY are deliberately absent.
var envAllowList = []string{"PATH", "LANG", "LC_ALL", "USER", "TERM"}

// Environment builds the minimal process environment for one execution.
// HOME and TMPDIR are pinned to the working directory so tools that write
// dotfiles or tempfiles stay inside the sandbox.
func Environment(workdir string) []string {
	env := make([]string, 0, len(envAllowList)+2)
	for _, key := range envAllowList {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	env = append(env, "HOME="+workdir, "TMPDIR="+workdir)
	return env
}

// ResolveWorkingDirectory returns the directory an execution runs in. An
// empty request falls back to the sandbox root, which is created on demand;
// a non-empty request must already be validated and is used as-is. The
// fallback is the only path this function will ever create.
func ResolveWorkingDirectory(validated, root string) (string, error) {
	if validated != "" {
		return validated, nil
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return "", fmt.Errorf("creating sandbox root %s: %w", root, err)
	}
	// Resolve symlinks so the executor and the validator agree on what the
	// root is.
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolving sandbox root %s: %w", root, err)
	}
	return resolved, nil
}

// EffectiveTimeout clamps the requested timeout into [MinTimeout, max].
// Zero means "use the default"; the default itself is clamped too, so a
// misconfigured default can never exceed the hard cap.
func EffectiveTimeout(requested, defaultTimeout, max time.Duration) time.Duration {
	effective := requested
	if effective <= 0 {
		effective = defaultTimeout
	}
	if effective > max {
		effective = max
	}
	if effective < MinTimeout {
		effective = MinTimeout
	}
	return effective
}

package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/jkaninda/kalimcp/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewContainsBuiltins(t *testing.T) {
	r := New(nil, testLogger())

	for _, name := range []string{"nmap", "sqlmap", "nikto", "gobuster", "john", "hydra", "whois", "dig"} {
		if !r.Contains(name) {
			t.Errorf("builtin %q missing from registry", name)
		}
	}
	if r.Len() != len(builtinTools) {
		t.Errorf("Len() = %d, want %d", r.Len(), len(builtinTools))
	}
}

func TestLookupExactMatchOnly(t *testing.T) {
	r := New(nil, testLogger())

	if _, err := r.Lookup("nmap"); err != nil {
		t.Errorf("Lookup(nmap): %v", err)
	}

	// No prefix, substring, or case-folded matching.
	for _, name := range []string{"nma", "nmapx", "NMAP", "Nmap", " nmap", "map"} {
		if _, err := r.Lookup(name); !errors.Is(err, ErrNotFound) {
			t.Errorf("Lookup(%q) = %v, want ErrNotFound", name, err)
		}
	}
}

func TestLookupReturnsCopy(t *testing.T) {
	r := New(nil, testLogger())

	d, err := r.Lookup("nmap")
	if err != nil {
		t.Fatal(err)
	}
	d.Path = "/tmp/evil"
	d.Available = true

	again, _ := r.Lookup("nmap")
	if again.Path == "/tmp/evil" {
		t.Error("mutating a Lookup result changed the catalog")
	}
}

func TestExtraTools(t *testing.T) {
	extra := []config.ExtraTool{
		{Name: "mytool", Category: "custom", Path: "/opt/mytool", TimeoutS: 120},
		{Name: "plain"},
		{Name: "bad;tool"},  // invalid name, dropped
		{Name: "../escape"}, // invalid name, dropped
	}
	r := New(extra, testLogger())

	d, err := r.Lookup("mytool")
	if err != nil {
		t.Fatalf("Lookup(mytool): %v", err)
	}
	if d.Category != "custom" || d.Path != "/opt/mytool" {
		t.Errorf("descriptor = %+v", d)
	}
	if d.DefaultTimeout != 120*time.Second {
		t.Errorf("DefaultTimeout = %s, want 120s", d.DefaultTimeout)
	}

	if d, _ := r.Lookup("plain"); d.Category != "extra" {
		t.Errorf("default category = %q, want %q", d.Category, "extra")
	}

	for _, name := range []string{"bad;tool", "../escape"} {
		if r.Contains(name) {
			t.Errorf("invalid extra tool %q admitted to the allow-list", name)
		}
	}
}

func TestExtraToolOverridesBuiltin(t *testing.T) {
	r := New([]config.ExtraTool{{Name: "nmap", Path: "/custom/nmap"}}, testLogger())

	d, err := r.Lookup("nmap")
	if err != nil {
		t.Fatal(err)
	}
	if d.Path != "/custom/nmap" {
		t.Errorf("Path = %q, want operator override", d.Path)
	}
}

func TestListSorted(t *testing.T) {
	r := New(nil, testLogger())
	list := r.List()

	if len(list) != r.Len() {
		t.Fatalf("List() returned %d entries, want %d", len(list), r.Len())
	}
	if !sort.SliceIsSorted(list, func(i, j int) bool { return list[i].Name < list[j].Name }) {
		t.Error("List() not sorted by name")
	}
}

func TestReload(t *testing.T) {
	r := New([]config.ExtraTool{{Name: "first"}}, testLogger())
	if !r.Contains("first") {
		t.Fatal("first missing after New")
	}

	r.Reload([]config.ExtraTool{{Name: "second"}})

	if r.Contains("first") {
		t.Error("stale extra tool survived Reload")
	}
	if !r.Contains("second") {
		t.Error("second missing after Reload")
	}
}

func TestRefreshAvailability(t *testing.T) {
	// "sh" resolves on any test host; a nonsense name does not.
	extra := []config.ExtraTool{
		{Name: "sh"},
		{Name: "kalimcp-no-such-tool"},
	}
	r := New(extra, testLogger())
	ctx := context.Background()

	d, err := r.RefreshAvailability(ctx, "sh")
	if err != nil {
		t.Fatalf("RefreshAvailability(sh): %v", err)
	}
	if !d.Available || d.Path == "" {
		t.Errorf("sh: Available=%t Path=%q, want resolved", d.Available, d.Path)
	}
	if d.LastProbe.IsZero() {
		t.Error("LastProbe not set")
	}

	d, err = r.RefreshAvailability(ctx, "kalimcp-no-such-tool")
	if err != nil {
		t.Fatalf("RefreshAvailability(missing): %v", err)
	}
	if d.Available {
		t.Error("missing binary reported available")
	}

	// A probe must never widen the allow-list.
	if _, err := r.RefreshAvailability(ctx, "not-listed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("probe of unlisted tool = %v, want ErrNotFound", err)
	}
}

func TestRefreshAvailabilityConfiguredPath(t *testing.T) {
	// A configured path is a hint, not a promise: the probe must still
	// verify the binary exists and is executable.
	extra := []config.ExtraTool{
		{Name: "good", Path: "/bin/sh"},
		{Name: "ghost", Path: "/nonexistent/ghost-bin"},
	}
	r := New(extra, testLogger())
	ctx := context.Background()

	d, err := r.RefreshAvailability(ctx, "good")
	if err != nil {
		t.Fatalf("RefreshAvailability(good): %v", err)
	}
	if !d.Available {
		t.Errorf("Available = false for existing binary %q", d.Path)
	}

	d, err = r.RefreshAvailability(ctx, "ghost")
	if err != nil {
		t.Fatalf("RefreshAvailability(ghost): %v", err)
	}
	if d.Available {
		t.Errorf("Available = true for nonexistent binary %q", d.Path)
	}
	if d.Version != "" {
		t.Errorf("Version = %q for nonexistent binary, want empty", d.Version)
	}
	if d.Path != "/nonexistent/ghost-bin" {
		t.Errorf("Path = %q, configured path lost from the descriptor", d.Path)
	}
}

func TestRefreshPersistsInCatalog(t *testing.T) {
	r := New([]config.ExtraTool{{Name: "sh"}}, testLogger())

	if _, err := r.RefreshAvailability(context.Background(), "sh"); err != nil {
		t.Fatal(err)
	}
	d, err := r.Lookup("sh")
	if err != nil {
		t.Fatal(err)
	}
	if !d.Available {
		t.Error("probe result not cached in the catalog")
	}
}

func TestBuiltinTableShape(t *testing.T) {
	seen := map[string]bool{}
	for _, d := range builtinTools {
		if seen[d.Name] {
			t.Errorf("duplicate builtin %q", d.Name)
		}
		seen[d.Name] = true
		if d.Category == "" {
			t.Errorf("builtin %q has no category", d.Name)
		}
		if d.Available || d.Path != "" {
			t.Errorf("builtin %q starts with probe state set", d.Name)
		}
	}
}

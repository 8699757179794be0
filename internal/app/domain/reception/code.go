// Package reception defines the reception code catalog. A reception code
// classifies why a token or respondent track is active, rejected or deleted,
// and whether deleting with it spawns a redo token.
package reception

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// RedoKind describes what a non-success code does to the deleted token's round.
type RedoKind int

const (
	// RedoNone leaves the round without a replacement token.
	RedoNone RedoKind = iota
	// RedoCreate spawns a fresh successor token for the same round.
	RedoCreate
	// RedoCopy spawns a successor and copies the original answers into it.
	RedoCopy
)

// Code is one entry of the reception code catalog.
type Code struct {
	Code        string
	Description string
	Success     bool
	Redo        RedoKind
	ForTokens   bool
	ForTracks   bool
}

// HasRedo reports whether deleting with this code creates a successor token.
func (c Code) HasRedo() bool { return c.Redo != RedoNone }

// UnknownCodeError is returned when a code is not present in the catalog.
type UnknownCodeError struct {
	Code string
}

func (e UnknownCodeError) Error() string {
	return fmt.Sprintf("unknown reception code %q", e.Code)
}

// Catalog resolves reception codes. Implementations must be safe for
// concurrent readers.
type Catalog interface {
	Resolve(code string) (Code, error)
	List() []Code
}

// OK is the default success code assigned to newly created tokens and tracks.
const OK = "OK"

// The built-in closed code set. Projects extend it through Registry.Register,
// never through runtime class lookup.
func builtinCodes() []Code {
	return []Code{
		{Code: OK, Description: "Valid", Success: true, ForTokens: true, ForTracks: true},
		{Code: "skipped", Description: "Skipped by respondent", ForTokens: true},
		{Code: "refused", Description: "Refused by respondent", ForTokens: true, ForTracks: true},
		{Code: "stopped", Description: "Stopped participating", ForTracks: true},
		{Code: "mistake", Description: "Entered by mistake", ForTokens: true, ForTracks: true},
		{Code: "moved", Description: "Moved to new token", Redo: RedoCreate, ForTokens: true},
		{Code: "redo", Description: "Redo with copied answers", Redo: RedoCopy, ForTokens: true},
		{Code: "retracted", Description: "Consent retracted", ForTokens: true, ForTracks: true},
	}
}

// Registry is the default Catalog. It is seeded with the built-in codes and
// accepts project-specific additions.
type Registry struct {
	mu    sync.RWMutex
	codes map[string]Code
}

var _ Catalog = (*Registry)(nil)

// NewRegistry returns a catalog seeded with the built-in code set.
func NewRegistry() *Registry {
	r := &Registry{codes: make(map[string]Code)}
	for _, c := range builtinCodes() {
		r.codes[normalize(c.Code)] = c
	}
	return r
}

// Register adds or replaces a project-specific code.
func (r *Registry) Register(c Code) error {
	key := normalize(c.Code)
	if key == "" {
		return fmt.Errorf("reception code is required")
	}
	if c.Success && c.Redo != RedoNone {
		return fmt.Errorf("reception code %q: success codes cannot carry redo", c.Code)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[key] = c
	return nil
}

// Resolve returns the catalog entry for code.
func (r *Registry) Resolve(code string) (Code, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.codes[normalize(code)]
	if !ok {
		return Code{}, UnknownCodeError{Code: code}
	}
	return c, nil
}

// List returns all known codes ordered by code string.
func (r *Registry) List() []Code {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Code, 0, len(r.codes))
	for _, c := range r.codes {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result
}

func normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

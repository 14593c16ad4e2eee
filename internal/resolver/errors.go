package resolver

import (
	"fmt"
	"strings"
)

// InvalidReferenceError is returned when a model reference is empty or
// whitespace-only.
type InvalidReferenceError struct {
	Input string
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("invalid model reference: %q", e.Input)
}

// ModelNotConfiguredError is returned when no configuration node matches
// the reference at all.
type ModelNotConfiguredError struct {
	Reference string
}

func (e *ModelNotConfiguredError) Error() string {
	return fmt.Sprintf("model not configured: %q", e.Reference)
}

// AmbiguousReferenceError is returned when a short name matches more than
// one configured model node. Candidates is always sorted
// lexicographically (invariant #2).
type AmbiguousReferenceError struct {
	Reference  string
	Candidates []string
}

func (e *AmbiguousReferenceError) Error() string {
	return fmt.Sprintf("ambiguous model reference %q: matches %s", e.Reference, strings.Join(e.Candidates, ", "))
}

// ConfigError is returned for a missing or unknown `type`, or a missing
// `api_key` with no legacy env fallback available.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s", e.Reason)
}

// WrongSurfaceError is returned by the gateway router (§4.7) when a
// resolved model's kind does not match the HTTP surface it was requested
// on. It lives here, next to the other resolver errors, since it is
// produced from the same resolution result.
type WrongSurfaceError struct {
	Reference    string
	ResolvedKind string
	Surface      string
}

func (e *WrongSurfaceError) Error() string {
	return fmt.Sprintf("model %q resolves to %s, which cannot serve the %s surface", e.Reference, e.ResolvedKind, e.Surface)
}

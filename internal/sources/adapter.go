// Package sources defines the uniform contract over heterogeneous lesson
// content origins and the concrete adapters implementing it.
package sources

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Source type identifiers resolved from a program's source_type field.
const (
	TypeScraper  = "scraper"
	TypeManifest = "manifest"
)

// ErrSessionExpired signals that the content host rejected the session
// cookie (HTTP 401/403). Callers must prompt a credential refresh instead
// of retrying blindly.
var ErrSessionExpired = errors.New("session expired: authentication required")

// ErrUnknownSourceType is returned by the registry for unregistered types.
var ErrUnknownSourceType = errors.New("unknown source type")

// Auth carries the decrypted session credential for authenticated fetches.
// A nil Auth means anonymous access.
type Auth struct {
	// Cookie is the raw Cookie header value for the content host.
	Cookie string
}

// ValidationResult is the outcome of validating a root URL.
type ValidationResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// LessonRef is one enumerated lesson link.
type LessonRef struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Order int    `json:"order"`
}

// Content is fetched lesson text with its normalized fingerprint.
type Content struct {
	Text string `json:"text"`
	Hash string `json:"hash"`
}

// Adapter translates one external content source's shape into the uniform
// fetch/enumerate contract.
type Adapter interface {
	// Type returns the source type identifier this adapter serves.
	Type() string
	// Validate checks whether the root URL is acceptable for this adapter.
	Validate(rootURL string) ValidationResult
	// EnumerateLessons lists the lessons reachable from the root URL in order.
	EnumerateLessons(ctx context.Context, rootURL string, auth *Auth) ([]LessonRef, error)
	// FetchLessonContent fetches and normalizes one lesson's text.
	FetchLessonContent(ctx context.Context, lessonURL string, auth *Auth) (*Content, error)
}

// Registry resolves adapters by source type. It is constructed once during
// process startup and passed by reference; there is no package-level
// registration side effect.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates a registry over the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Type()] = a
	}
	return r
}

// Resolve returns the adapter for a source type.
func (r *Registry) Resolve(sourceType string) (Adapter, error) {
	adapter, ok := r.adapters[sourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSourceType, sourceType)
	}
	return adapter, nil
}

// Types returns the registered source types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

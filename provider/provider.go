// Package provider holds the identifiers and collaborator interfaces shared
// by the health, fallback, and selection packages.
package provider

import (
	"context"
	"strings"
)

// Type distinguishes providers running on the local machine from hosted
// cloud APIs.
type Type string

const (
	TypeLocal Type = "local"
	TypeCloud Type = "cloud"
)

// ID identifies a provider. Local providers are namespaced "local:<name>"
// and cloud providers "cloud:<name>" so the two can share maps and logs
// without colliding.
type ID string

// Local builds the ID for a local provider.
func Local(name string) ID {
	return ID("local:" + name)
}

// Cloud builds the ID for a cloud provider.
func Cloud(name string) ID {
	return ID("cloud:" + name)
}

// IsLocal reports whether the ID names a local provider.
func (id ID) IsLocal() bool {
	return strings.HasPrefix(string(id), "local:")
}

// IsCloud reports whether the ID names a cloud provider.
func (id ID) IsCloud() bool {
	return strings.HasPrefix(string(id), "cloud:")
}

// Name returns the provider name without its namespace prefix.
func (id ID) Name() string {
	s := string(id)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Kind returns the provider type encoded in the ID. IDs without a recognized
// prefix are treated as local, matching how bare names are interpreted in
// configuration.
func (id ID) Kind() Type {
	if id.IsCloud() {
		return TypeCloud
	}
	return TypeLocal
}

func (id ID) String() string {
	return string(id)
}

// Model describes a model advertised by a provider.
type Model struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// Capabilities describes what a cloud provider's API supports.
type Capabilities struct {
	Streaming bool
	Tools     bool
}

// knownCloudCapabilities covers the vendors this engine recognizes. Vendors
// not listed here are assumed streaming-capable; tool support for them is
// unknown and resolved by the fallback engine's conservative rule.
var knownCloudCapabilities = map[string]Capabilities{
	"openai":    {Streaming: true, Tools: true},
	"anthropic": {Streaming: true, Tools: true},
}

// CloudCapabilities looks up the declared capabilities of a cloud provider
// by name. ok is false for vendors the engine does not recognize.
func CloudCapabilities(name string) (caps Capabilities, ok bool) {
	caps, ok = knownCloudCapabilities[strings.ToLower(name)]
	return caps, ok
}

// ModelLister is the slice of a provider client the resilience engine needs
// for discovery. Full chat clients are owned by the caller.
type ModelLister interface {
	ListModels(ctx context.Context) ([]Model, error)
}

// Message is one turn of a chat exchange passed to a ChatClient.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatClient is the request-serving surface of a provider. The engine only
// routes; callers hold the clients and invoke whichever provider a selection
// names.
type ChatClient interface {
	ModelLister
	Chat(ctx context.Context, model string, messages []Message) (Message, error)
}

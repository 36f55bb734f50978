// Package credential resolves the secret used to open the AI channel.
//
// The console tries a key typed into the dashboard first, then the
// environment, the credentials file and finally Google Application Default
// Credentials.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ErrNotFound means a resolver has no credential to offer. It is
// recoverable: the dashboard prompts for a key.
var ErrNotFound = errors.New("credential: not found")

// GenerativeLanguageScope is requested when falling back to ADC.
const GenerativeLanguageScope = "https://www.googleapis.com/auth/generative-language"

// Credential authenticates the AI channel with either an API key or an
// OAuth token source.
type Credential struct {
	APIKey      string
	TokenSource oauth2.TokenSource
	// Source names the resolver that produced the credential.
	Source string
}

// Valid reports whether the credential carries a secret.
func (c Credential) Valid() bool {
	return c.APIKey != "" || c.TokenSource != nil
}

// Resolver produces a credential.
type Resolver interface {
	Resolve(ctx context.Context) (Credential, error)
}

// Env reads an API key from the first non-empty environment variable.
type Env struct {
	Vars   []string
	Lookup func(string) (string, bool)
}

// DefaultEnv checks GEMINI_API_KEY then GOOGLE_API_KEY.
func DefaultEnv() Env {
	return Env{Vars: []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}, Lookup: os.LookupEnv}
}

func (e Env) Resolve(ctx context.Context) (Credential, error) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, name := range e.Vars {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			return Credential{APIKey: strings.TrimSpace(v), Source: "env:" + name}, nil
		}
	}
	return Credential{}, ErrNotFound
}

// File reads an API key from disk. The file holds either the bare key or
// JSON of the form {"api_key": "..."}.
type File struct {
	Path string
}

// DefaultFilePath returns ~/.fleet/credentials.
func DefaultFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".fleet", "credentials")
	}
	return filepath.Join(home, ".fleet", "credentials")
}

func (f File) Resolve(ctx context.Context) (Credential, error) {
	if f.Path == "" {
		return Credential{}, ErrNotFound
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credential{}, ErrNotFound
		}
		return Credential{}, fmt.Errorf("credential: read %s: %w", f.Path, err)
	}

	key := parseKeyFile(data)
	if key == "" {
		return Credential{}, ErrNotFound
	}
	return Credential{APIKey: key, Source: "file"}, nil
}

func parseKeyFile(data []byte) string {
	var doc struct {
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(data, &doc); err == nil {
		return strings.TrimSpace(doc.APIKey)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(line)
}

// Prompt holds a key submitted interactively. It lives only in memory.
type Prompt struct {
	mu  sync.RWMutex
	key string
}

// Set stores key; an empty key clears it.
func (p *Prompt) Set(key string) {
	p.mu.Lock()
	p.key = strings.TrimSpace(key)
	p.mu.Unlock()
}

// Has reports whether a key was submitted.
func (p *Prompt) Has() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.key != ""
}

func (p *Prompt) Resolve(ctx context.Context) (Credential, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.key == "" {
		return Credential{}, ErrNotFound
	}
	return Credential{APIKey: p.key, Source: "prompt"}, nil
}

// GoogleDefault uses Application Default Credentials.
type GoogleDefault struct {
	Scopes []string
	// Find defaults to google.FindDefaultCredentials.
	Find func(ctx context.Context, scopes ...string) (*google.Credentials, error)
}

func (g GoogleDefault) Resolve(ctx context.Context) (Credential, error) {
	find := g.Find
	if find == nil {
		find = google.FindDefaultCredentials
	}
	scopes := g.Scopes
	if len(scopes) == 0 {
		scopes = []string{GenerativeLanguageScope}
	}
	creds, err := find(ctx, scopes...)
	if err != nil || creds == nil || creds.TokenSource == nil {
		return Credential{}, ErrNotFound
	}
	return Credential{TokenSource: oauth2.ReuseTokenSource(nil, creds.TokenSource), Source: "adc"}, nil
}

// Chain tries each resolver in order and returns the first credential.
// It reports ErrNotFound only when every resolver came up empty; otherwise
// the hard failures are returned joined.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context) (Credential, error) {
	var errs []error
	for _, r := range c {
		cred, err := r.Resolve(ctx)
		if err == nil && cred.Valid() {
			return cred, nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			return Credential{}, ctx.Err()
		}
	}
	if len(errs) > 0 {
		return Credential{}, errors.Join(errs...)
	}
	return Credential{}, ErrNotFound
}

package credential

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestEnv(t *testing.T) {
	env := Env{Vars: []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}, Lookup: lookupFrom(map[string]string{
		"GEMINI_API_KEY": "  ",
		"GOOGLE_API_KEY": "g-key",
	})}

	cred, err := env.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "g-key", cred.APIKey)
	assert.Equal(t, "env:GOOGLE_API_KEY", cred.Source)

	_, err = Env{Vars: []string{"NOPE"}, Lookup: lookupFrom(nil)}.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bare key", "abc123\n", "abc123"},
		{"json", `{"api_key": "json-key"}`, "json-key"},
		{"empty", "\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			cred, err := File{Path: path}.Resolve(context.Background())
			if tt.want == "" {
				assert.ErrorIs(t, err, ErrNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cred.APIKey)
		})
	}

	_, err := File{Path: filepath.Join(dir, "missing")}.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPrompt(t *testing.T) {
	var p Prompt
	_, err := p.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	p.Set(" typed ")
	assert.True(t, p.Has())
	cred, err := p.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "typed", cred.APIKey)

	p.Set("")
	assert.False(t, p.Has())
}

func TestGoogleDefault(t *testing.T) {
	var gotScopes []string
	found := GoogleDefault{Find: func(ctx context.Context, scopes ...string) (*google.Credentials, error) {
		gotScopes = scopes
		return &google.Credentials{TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"})}, nil
	}}

	cred, err := found.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{GenerativeLanguageScope}, gotScopes)
	tok, err := cred.TokenSource.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok", tok.AccessToken)

	missing := GoogleDefault{Find: func(context.Context, ...string) (*google.Credentials, error) {
		return nil, errors.New("could not find default credentials")
	}}
	_, err = missing.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

type failing struct{ err error }

func (f failing) Resolve(context.Context) (Credential, error) { return Credential{}, f.err }

func TestChain(t *testing.T) {
	prompt := &Prompt{}
	chain := Chain{
		Env{Vars: []string{"X"}, Lookup: lookupFrom(nil)},
		failing{err: errors.New("permission denied")},
		prompt,
	}

	_, err := chain.Resolve(context.Background())
	assert.ErrorContains(t, err, "permission denied")
	assert.NotErrorIs(t, err, ErrNotFound)

	_, err = Chain{Env{Vars: []string{"X"}, Lookup: lookupFrom(nil)}, &Prompt{}}.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = Chain{Chain{failing{err: errors.New("disk")}}, &Prompt{}}.Resolve(context.Background())
	assert.ErrorContains(t, err, "disk")

	prompt.Set("k")
	cred, err := chain.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "prompt", cred.Source)
}

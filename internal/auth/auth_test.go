package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid", header: "Bearer abc123", want: "abc123"},
		{name: "trailing space", header: "Bearer abc123  ", want: "abc123"},
		{name: "missing", header: "", wantErr: true},
		{name: "wrong scheme", header: "Basic abc123", wantErr: true},
		{name: "empty token", header: "Bearer   ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "reader", Scopes: []string{ScopeQueueRead}},
		{Token: "writer", Scopes: []string{" queue:rw ", ""}},
		{Token: "judge", Scopes: []string{ScopeScoresWrite}},
	}

	p, ok := Authenticate("admin-key", "admin-key", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeScoresWrite))

	p, ok = Authenticate("reader", "admin-key", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeQueueRead))
	assert.False(t, HasAnyScope(p, ScopeQueueWrite, ScopeScoresWrite))

	p, ok = Authenticate("writer", "admin-key", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeQueueRead), "rw implies ro")
	assert.True(t, HasAnyScope(p, ScopeQueueWrite))
	assert.NotContains(t, p.Scopes, "")

	p, ok = Authenticate("judge", "", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeQueueRead))
	assert.False(t, HasAnyScope(p, ScopeQueueWrite))

	_, ok = Authenticate("nope", "admin-key", tokens)
	assert.False(t, ok)

	_, ok = Authenticate("", "", nil)
	assert.False(t, ok, "empty legacy key never matches")
}

func TestHasAnyScopeNoneRequired(t *testing.T) {
	assert.True(t, HasAnyScope(Principal{}))
}

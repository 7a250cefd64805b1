package config

import (
	"fmt"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretString(t *testing.T) {
	s := Secret("password123")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))

	empty := Secret("")
	assert.Equal(t, "", empty.String())
}

func TestSecretGoString(t *testing.T) {
	s := Secret("password123")
	assert.Equal(t, `"[REDACTED]"`, fmt.Sprintf("%#v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", struct{ Key Secret }{s}), "password123")
}

func TestSecretMarshalJSON(t *testing.T) {
	creds := Credentials{APIKey: Secret("key"), SecretKey: Secret("shh")}
	data, err := json.Marshal(creds)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "shh")
	assert.Contains(t, string(data), "[REDACTED]")
}

func TestSecretMarshalYAML(t *testing.T) {
	s := Secret("password123")
	val, err := s.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]", val)
}

func TestSecretUnmarshalKeepsValue(t *testing.T) {
	var creds Credentials
	require.NoError(t, json.Unmarshal([]byte(`{"api_key":"k","secret_key":"s"}`), &creds))
	assert.Equal(t, "k", string(creds.APIKey))
	assert.Equal(t, "s", string(creds.SecretKey))
}

package protocol

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-key")

func TestSealOpenRoundTrip(t *testing.T) {
	in := ConfigHandle{RunID: "run-1", Role: "microscale", ResultsDir: "/tmp/results"}
	token, err := Seal(KindConfig, in, testKey)
	require.NoError(t, err)
	assert.NotContains(t, token, " ")

	var out ConfigHandle
	require.NoError(t, Open(token, KindConfig, testKey, &out))
	assert.Equal(t, in, out)
}

func TestOpenRejectsBeforeDecoding(t *testing.T) {
	token, err := Seal(KindConfig, ConfigHandle{RunID: "run-1"}, testKey)
	require.NoError(t, err)

	tamper := func(mutate func(*envelope)) string {
		raw, err := base64.RawURLEncoding.DecodeString(token)
		require.NoError(t, err)
		var env envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		mutate(&env)
		raw, err = json.Marshal(env)
		require.NoError(t, err)
		return base64.RawURLEncoding.EncodeToString(raw)
	}

	tests := []struct {
		name  string
		token string
		kind  string
		key   []byte
		want  error
	}{
		{"wrong key", token, KindConfig, []byte("other"), ErrIntegrity},
		{"wrong kind", token, KindLog, testKey, ErrKindMismatch},
		{"not base64", "***", KindConfig, testKey, ErrMalformedEnvelope},
		{"not json", base64.RawURLEncoding.EncodeToString([]byte("nope")), KindConfig, testKey, ErrMalformedEnvelope},
		{"payload changed", tamper(func(e *envelope) { e.Payload = json.RawMessage(`{"run_id":"run-2"}`) }), KindConfig, testKey, ErrIntegrity},
		{"future version", tamper(func(e *envelope) { e.Version = 2 }), KindConfig, testKey, ErrUnsupportedVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ConfigHandle{RunID: "untouched"}
			err := Open(tt.token, tt.kind, tt.key, &out)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, "untouched", out.RunID)
		})
	}
}

func TestKeyFromEnv(t *testing.T) {
	t.Setenv(KeyEnv, "")
	assert.Equal(t, []byte(defaultKey), KeyFromEnv())
	t.Setenv(KeyEnv, "secret")
	assert.Equal(t, []byte("secret"), KeyFromEnv())
}

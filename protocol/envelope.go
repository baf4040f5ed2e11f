package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// EnvelopeVersion is the only envelope version this package reads.
const EnvelopeVersion = 1

// KeyEnv names the environment variable holding the integrity key shared by
// the supervisor and its parties.
const KeyEnv = "COSIM_INTEGRITY_KEY"

const defaultKey = "cosim-default-integrity-key"

// Envelope kinds
const (
	KindConfig    = "config"
	KindLog       = "log-settings"
	KindEndpoints = "endpoints"
)

type envelope struct {
	Version int             `json:"version"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	Tag     string          `json:"tag"`
}

// KeyFromEnv returns the integrity key from KeyEnv, or the built-in key
// when the variable is unset.
func KeyFromEnv() []byte {
	if k := os.Getenv(KeyEnv); k != "" {
		return []byte(k)
	}
	return []byte(defaultKey)
}

// Seal serializes v and tags it so that Open can detect tampering. The
// result is a single base64 token, safe to pass as a process argument.
func Seal(kind string, v any, key []byte) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("seal %s: %w", kind, err)
	}
	raw, err := json.Marshal(envelope{
		Version: EnvelopeVersion,
		Kind:    kind,
		Payload: payload,
		Tag:     sign(key, EnvelopeVersion, kind, payload),
	})
	if err != nil {
		return "", fmt.Errorf("seal %s: %w", kind, err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Open validates token and only then decodes its payload into v. The
// envelope's version, kind and tag are all checked before the payload is
// trusted.
func Open(token, kind string, key []byte, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformedEnvelope, kind, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformedEnvelope, kind, err)
	}
	if env.Version != EnvelopeVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	if env.Kind != kind {
		return fmt.Errorf("%w: expected %q, got %q", ErrKindMismatch, kind, env.Kind)
	}
	want := sign(key, env.Version, env.Kind, env.Payload)
	if !hmac.Equal([]byte(want), []byte(env.Tag)) {
		return fmt.Errorf("%w: %s", ErrIntegrity, kind)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %w", ErrMalformedEnvelope, kind, err)
	}
	return nil
}

func sign(key []byte, version int, kind string, payload []byte) string {
	h := hmac.New(sha256.New, key)
	fmt.Fprintf(h, "%d\n%s\n", version, kind)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

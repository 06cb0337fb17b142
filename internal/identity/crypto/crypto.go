// Package crypto implements Ed25519 keypair generation, did:key encoding,
// and the RFC8785-style canonical JSON payload used to sign and verify
// every mail and chat message that carries an identity.
package crypto

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mr-tron/base58"
)

// didKeyPrefix is the literal prefix of every did:key our agents mint.
const didKeyPrefix = "did:key:z"

// ed25519MulticodecTag is the 2-byte multicodec tag for an Ed25519 public key.
var ed25519MulticodecTag = [2]byte{0xed, 0x01}

// VerifyResult is the three-way outcome of Verify.
type VerifyResult string

const (
	Verified   VerifyResult = "VERIFIED"
	Unverified VerifyResult = "UNVERIFIED"
	Failed     VerifyResult = "FAILED"
)

// ErrInvalidDID is returned by PublicKeyFromDID for any malformed did:key.
type ErrInvalidDID struct{ Reason string }

func (e *ErrInvalidDID) Error() string { return "invalid did:key: " + e.Reason }

// GenerateKeypair creates a fresh Ed25519 keypair. The returned seed is the
// 32-byte private seed (not the 64-byte expanded key), matching the
// did:key/"store the seed" convention used throughout custody.
func GenerateKeypair() (seed []byte, publicKey []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 keypair: %w", err)
	}
	return priv.Seed(), []byte(pub), nil
}

// DIDFromPublicKey encodes an Ed25519 public key as a did:key.
func DIDFromPublicKey(pk []byte) (string, error) {
	if len(pk) != ed25519.PublicKeySize {
		return "", fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pk))
	}
	tagged := make([]byte, 0, 2+len(pk))
	tagged = append(tagged, ed25519MulticodecTag[:]...)
	tagged = append(tagged, pk...)
	return didKeyPrefix + base58.Encode(tagged), nil
}

// PublicKeyFromDID decodes a did:key back into its Ed25519 public key.
func PublicKeyFromDID(did string) ([]byte, error) {
	if !strings.HasPrefix(did, didKeyPrefix) {
		return nil, &ErrInvalidDID{Reason: "missing did:key:z prefix"}
	}
	encoded := strings.TrimPrefix(did, didKeyPrefix)
	decoded, err := base58.Decode(encoded)
	if err != nil {
		return nil, &ErrInvalidDID{Reason: "bad base58btc encoding"}
	}
	if len(decoded) < 2 || decoded[0] != ed25519MulticodecTag[0] || decoded[1] != ed25519MulticodecTag[1] {
		return nil, &ErrInvalidDID{Reason: "wrong multicodec tag"}
	}
	pk := decoded[2:]
	if len(pk) != ed25519.PublicKeySize {
		return nil, &ErrInvalidDID{Reason: "wrong decoded key length"}
	}
	return pk, nil
}

// canonicalFields is the fixed whitelist of fields retained by CanonicalPayload
// (sorted lexicographically as required).
var canonicalFields = []string{"body", "from", "from_did", "subject", "timestamp", "to", "to_did", "type"}

// CanonicalPayload filters fields down to the 8-field whitelist and serializes
// them as JSON with lexicographically sorted keys, no extraneous whitespace,
// and literal (non-escaped) UTF-8. This exact byte sequence is what gets
// signed and verified.
func CanonicalPayload(fields map[string]any) ([]byte, error) {
	return CanonicalJSON(fields, canonicalFields)
}

// CanonicalJSON serializes fields restricted to allowedKeys as JSON with
// lexicographically sorted keys, no extraneous whitespace, and literal
// (non-escaped) UTF-8. Used both for the message whitelist (CanonicalPayload)
// and for the smaller ad hoc payloads signed over rotation and retirement
// operations.
func CanonicalJSON(fields map[string]any, allowedKeys []string) ([]byte, error) {
	filtered := make(map[string]any, len(allowedKeys))
	keys := make([]string, 0, len(allowedKeys))
	for _, k := range allowedKeys {
		if v, ok := fields[k]; ok {
			filtered[k] = v
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')

		valJSON, err := marshalNoHTMLEscape(filtered[k])
		if err != nil {
			return nil, err
		}
		buf.Write(valJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalNoHTMLEscape marshals v without the stdlib's default HTML escaping
// of <, >, and &, which would otherwise corrupt the canonical byte sequence.
func marshalNoHTMLEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// json.Encoder.Encode appends a trailing newline; trim it.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sign produces a base64url-nopad signature over payload using seed (the
// 32-byte Ed25519 seed, as returned by GenerateKeypair).
func Sign(seed []byte, payload []byte) (string, error) {
	if len(seed) != ed25519.SeedSize {
		return "", fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	sig := ed25519.Sign(priv, payload)
	return base64.RawURLEncoding.EncodeToString(sig), nil
}

// Verify checks sig against payload under the public key encoded in did.
// A missing did or missing sig yields Unverified (no claim was made); a
// malformed did/sig or a cryptographic mismatch yields Failed.
func Verify(did string, payload []byte, sig string) VerifyResult {
	if did == "" || sig == "" {
		return Unverified
	}
	pk, err := PublicKeyFromDID(did)
	if err != nil {
		return Failed
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return Failed
	}
	if ed25519.Verify(pk, payload, sigBytes) {
		return Verified
	}
	return Failed
}

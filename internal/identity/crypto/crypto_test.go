package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDIDRoundTrip(t *testing.T) {
	_, pub, err := GenerateKeypair()
	require.NoError(t, err)

	did, err := DIDFromPublicKey(pub)
	require.NoError(t, err)
	require.Regexp(t, `^did:key:z`, did)

	decoded, err := PublicKeyFromDID(did)
	require.NoError(t, err)
	require.Equal(t, pub, decoded)
}

func TestPublicKeyFromDID_RejectsBadPrefix(t *testing.T) {
	_, err := PublicKeyFromDID("did:web:example.com")
	require.Error(t, err)
}

func TestPublicKeyFromDID_RejectsBadBase58(t *testing.T) {
	_, err := PublicKeyFromDID("did:key:z0OIl")
	require.Error(t, err)
}

func TestSignVerify_RoundTrip(t *testing.T) {
	seed, pub, err := GenerateKeypair()
	require.NoError(t, err)
	did, err := DIDFromPublicKey(pub)
	require.NoError(t, err)

	payload, err := CanonicalPayload(map[string]any{
		"from": "org-a/alice", "to": "org-a/bob", "body": "hi",
	})
	require.NoError(t, err)

	sig, err := Sign(seed, payload)
	require.NoError(t, err)

	require.Equal(t, Verified, Verify(did, payload, sig))
	require.Equal(t, Unverified, Verify("", payload, sig))
	require.Equal(t, Unverified, Verify(did, payload, ""))
	require.Equal(t, Failed, Verify(did, payload, "not-base64url!!"))

	tampered, err := CanonicalPayload(map[string]any{
		"from": "org-a/alice", "to": "org-a/bob", "body": "hi!",
	})
	require.NoError(t, err)
	require.Equal(t, Failed, Verify(did, tampered, sig))
}

func TestCanonicalPayload_SortedKeysNoWhitespace(t *testing.T) {
	payload, err := CanonicalPayload(map[string]any{
		"type":    "mail",
		"body":    "hello",
		"from":    "a",
		"ignored": "dropped",
	})
	require.NoError(t, err)
	require.Equal(t, `{"body":"hello","from":"a","type":"mail"}`, string(payload))
}

func TestCanonicalPayload_LiteralUTF8NotEscaped(t *testing.T) {
	payload, err := CanonicalPayload(map[string]any{"body": "héllo <world>"})
	require.NoError(t, err)
	require.Equal(t, `{"body":"héllo <world>"}`, string(payload))
}

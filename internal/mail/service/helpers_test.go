package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/awebhq/aweb/internal/identity/crypto"
)

func mustKeypair(t *testing.T) (did string, pub []byte, seed []byte) {
	t.Helper()
	seed, pub, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	did, err = crypto.DIDFromPublicKey(pub)
	require.NoError(t, err)
	return did, pub, seed
}

// mustRotationFixture signs a rotation payload {new_did, old_did, timestamp}
// under oldSeed/oldDID and returns a fresh new keypair's DID/public key
// alongside the signature and timestamp, ready for Service.Rotate.
func mustRotationFixture(t *testing.T, oldSeed []byte, oldDID string) (newDID string, newPub []byte, signature string, ts time.Time) {
	t.Helper()
	newSeed, pub, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	did, err := crypto.DIDFromPublicKey(pub)
	require.NoError(t, err)
	ts = time.Now().UTC()
	payload, err := crypto.CanonicalJSON(map[string]any{
		"new_did":   did,
		"old_did":   oldDID,
		"timestamp": ts.Format(time.RFC3339),
	}, []string{"new_did", "old_did", "timestamp"})
	require.NoError(t, err)
	sig, err := crypto.Sign(oldSeed, payload)
	require.NoError(t, err)
	_ = newSeed
	return did, pub, sig, ts
}

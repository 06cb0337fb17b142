package custody

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/awebhq/aweb/internal/identity/crypto"
)

func testMasterKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	master := testMasterKey(t)
	seed, _, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	blob, err := Encrypt(seed, master)
	require.NoError(t, err)

	decrypted, err := Decrypt(blob, master)
	require.NoError(t, err)
	require.Equal(t, seed, decrypted)
}

func TestDecrypt_TamperedBlobFails(t *testing.T) {
	master := testMasterKey(t)
	seed, _, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	blob, err := Encrypt(seed, master)
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xFF

	_, err = Decrypt(blob, master)
	require.ErrorIs(t, err, ErrDecryptFailed)
}

func TestSignOnBehalf_NoMasterKeyReturnsNil(t *testing.T) {
	result, err := SignOnBehalf(Agent{FoundAgentRow: true, Custody: "custodial"}, nil, []byte("x"), "did:key:zabc")
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestSignOnBehalf_AgentNotFound(t *testing.T) {
	master := testMasterKey(t)
	_, err := SignOnBehalf(Agent{FoundAgentRow: false}, master, []byte("x"), "did:key:zabc")
	require.ErrorIs(t, err, ErrAgentNotFound)
}

func TestSignOnBehalf_CustodialNoBlobFails(t *testing.T) {
	master := testMasterKey(t)
	_, err := SignOnBehalf(Agent{FoundAgentRow: true, Custody: "custodial"}, master, []byte("x"), "did:key:zabc")
	require.ErrorIs(t, err, ErrNoEncryptedKey)
}

func TestSignOnBehalf_SelfCustodyReturnsNilNotError(t *testing.T) {
	master := testMasterKey(t)
	result, err := SignOnBehalf(Agent{FoundAgentRow: true, Custody: "self"}, master, []byte("x"), "did:key:zabc")
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestSignOnBehalf_Succeeds(t *testing.T) {
	master := testMasterKey(t)
	seed, pub, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	did, err := crypto.DIDFromPublicKey(pub)
	require.NoError(t, err)

	blob, err := Encrypt(seed, master)
	require.NoError(t, err)

	payload := []byte(`{"body":"hi"}`)
	result, err := SignOnBehalf(Agent{FoundAgentRow: true, Custody: "custodial", EncryptedSeed: blob}, master, payload, did)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, crypto.Verified, crypto.Verify(did, payload, result.Signature))
}

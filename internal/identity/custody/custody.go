// Package custody implements AEAD-encrypted at-rest storage of agent
// private keys and "sign on behalf of" for custodial agents.
package custody

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/awebhq/aweb/internal/identity/crypto"
)

var (
	// ErrNoMasterKey indicates custody is disabled process-wide.
	ErrNoMasterKey = errors.New("custody: no master key configured")
	// ErrAgentNotFound indicates sign_on_behalf was called for a nonexistent agent.
	ErrAgentNotFound = errors.New("custody: agent not found")
	// ErrNoEncryptedKey indicates a custodial agent has no stored blob.
	ErrNoEncryptedKey = errors.New("custody: agent has no encrypted key")
	// ErrNotCustodial indicates sign_on_behalf was called for a non-custodial agent.
	ErrNotCustodial = errors.New("custody: agent is not custodial")
	// ErrDecryptFailed indicates the ciphertext or nonce was tampered with.
	ErrDecryptFailed = errors.New("custody: decryption failed, ciphertext may be tampered")
)

const nonceSize = 12

// Encrypt seals seed under master with a fresh random nonce, returning
// nonce || ciphertext_with_tag.
func Encrypt(seed, master []byte) ([]byte, error) {
	block, err := aes.NewCipher(master)
	if err != nil {
		return nil, fmt.Errorf("custody: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("custody: new gcm: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("custody: generate nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, seed, nil)
	return append(nonce, sealed...), nil
}

// Decrypt opens a blob produced by Encrypt. Any tampering with the nonce or
// ciphertext surfaces as ErrDecryptFailed rather than silently returning
// corrupt plaintext.
func Decrypt(blob, master []byte) ([]byte, error) {
	block, err := aes.NewCipher(master)
	if err != nil {
		return nil, fmt.Errorf("custody: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("custody: new gcm: %w", err)
	}
	if len(blob) < nonceSize {
		return nil, ErrDecryptFailed
	}
	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	seed, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return seed, nil
}

// Agent is the minimal view of an agent row custody needs.
type Agent struct {
	ID            string
	Custody       string // "self" | "custodial" | ""
	EncryptedSeed []byte
	FoundAgentRow bool
}

// SignedResult is what sign_on_behalf returns on success.
type SignedResult struct {
	FromDID      string
	Signature    string
	SigningKeyID string
}

// SignOnBehalf signs payload fields with the agent's custodial key. Returns
// (nil, nil) when custody is globally disabled (no master key) or the agent
// is not custodial, including a self-custodial agent with no stored blob.
// A missing agent returns ErrAgentNotFound and a custodial agent with no
// stored blob returns ErrNoEncryptedKey; decrypt and sign failures are
// returned as well.
func SignOnBehalf(agent Agent, master []byte, payload []byte, fromDID string) (*SignedResult, error) {
	if !agent.FoundAgentRow {
		return nil, ErrAgentNotFound
	}
	if master == nil {
		return nil, nil
	}
	if agent.Custody != "custodial" {
		if agent.Custody == "self" && len(agent.EncryptedSeed) == 0 {
			return nil, nil
		}
		return nil, nil
	}
	if len(agent.EncryptedSeed) == 0 {
		return nil, ErrNoEncryptedKey
	}

	seed, err := Decrypt(agent.EncryptedSeed, master)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(seed, payload)
	if err != nil {
		return nil, fmt.Errorf("custody: sign on behalf: %w", err)
	}
	return &SignedResult{FromDID: fromDID, Signature: sig, SigningKeyID: fromDID}, nil
}

// Destroy returns the zero-value blob to store, clearing custodial key
// material on deregister or on custody graduation (custodial -> self).
func Destroy() []byte {
	return nil
}

package wallet

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Signer holds the keeper's ed25519 keypair and signs transactions built by
// the venue layer.
type Signer struct {
	key    solana.PrivateKey
	pubkey solana.PublicKey
}

// NewSigner creates a Signer from a loaded private key.
func NewSigner(key solana.PrivateKey) *Signer {
	return &Signer{
		key:    key,
		pubkey: key.PublicKey(),
	}
}

// Address returns the wallet's public key.
func (s *Signer) Address() solana.PublicKey {
	return s.pubkey
}

// Sign adds the wallet's signature to the transaction. The transaction must
// already carry a recent blockhash and list the wallet as a required signer.
func (s *Signer) Sign(tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.pubkey) {
			return &s.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("wallet: sign transaction: %w", err)
	}
	return nil
}

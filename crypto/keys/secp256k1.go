package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	sagecrypto "github.com/sage-x-project/sage-mesh/crypto"
)

// secp256k1KeyPair is an alternate signing identity for peers that arrive
// with a secp256k1 keypair instead of Ed25519 (legacy or interop donor
// identities). The DHT's SignedPeerInfo always fixes on Ed25519, so this
// type exists purely as a second KeyPair implementation a node could verify
// against, not as something core/identity ever generates for itself.
type secp256k1KeyPair struct {
	privateKey *secp256k1.PrivateKey
	publicKey  *secp256k1.PublicKey
	id         string
}

// GenerateSecp256k1KeyPair generates a new secp256k1 key pair.
func GenerateSecp256k1KeyPair() (sagecrypto.KeyPair, error) {
	privateKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	publicKey := privateKey.PubKey()

	pubKeyBytes := publicKey.SerializeCompressed()
	hash := sha256.Sum256(pubKeyBytes)
	id := hex.EncodeToString(hash[:8])

	return &secp256k1KeyPair{
		privateKey: privateKey,
		publicKey:  publicKey,
		id:         id,
	}, nil
}

func (kp *secp256k1KeyPair) PublicKey() crypto.PublicKey { return kp.publicKey.ToECDSA() }

func (kp *secp256k1KeyPair) PrivateKey() crypto.PrivateKey { return kp.privateKey.ToECDSA() }

func (kp *secp256k1KeyPair) Type() sagecrypto.KeyType { return sagecrypto.KeyTypeSecp256k1 }

// Sign produces a fixed-width 64-byte (r||s) ECDSA signature over
// SHA-256(message).
func (kp *secp256k1KeyPair) Sign(message []byte) ([]byte, error) {
	hash := sha256.Sum256(message)

	r, s, err := ecdsa.Sign(rand.Reader, kp.privateKey.ToECDSA(), hash[:])
	if err != nil {
		return nil, err
	}

	return serializeSignature(r, s), nil
}

func (kp *secp256k1KeyPair) Verify(message, signature []byte) error {
	hash := sha256.Sum256(message)

	r, s, err := deserializeSignature(signature)
	if err != nil {
		return sagecrypto.ErrInvalidSignature
	}

	if !ecdsa.Verify(kp.publicKey.ToECDSA(), hash[:], r, s) {
		return sagecrypto.ErrInvalidSignature
	}

	return nil
}

func (kp *secp256k1KeyPair) ID() string {
	return kp.id
}

// serializeSignature packs r and s into a fixed 64-byte buffer, left-padded
// with zeros, so signature length never leaks their bit length.
func serializeSignature(r, s *big.Int) []byte {
	rBytes := r.Bytes()
	sBytes := s.Bytes()

	signature := make([]byte, 64)
	copy(signature[32-len(rBytes):32], rBytes)
	copy(signature[64-len(sBytes):64], sBytes)

	return signature
}

func deserializeSignature(data []byte) (*big.Int, *big.Int, error) {
	if len(data) != 64 {
		return nil, nil, sagecrypto.ErrInvalidSignature
	}

	r := new(big.Int).SetBytes(data[:32])
	s := new(big.Int).SetBytes(data[32:])

	return r, s, nil
}

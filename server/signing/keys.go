package signing

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"

	"github.com/tkrehbiel/activitycore/server/storage"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// ErrCorruptKey means a stored private key could not be parsed. The key store
// needs manual repair; a new key is never generated over it.
var ErrCorruptKey = errors.New("corrupt private key")

// ErrNoKey means an actor has no stored key. Keys are only made by InitKey.
var ErrNoKey = errors.New("no signing key")

// lock returns the mutex that serializes key creation for one actor.
func (s *Signer) lock(actorID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[actorID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[actorID] = m
	}
	return m
}

// InitKey makes sure actorID has a key pair and returns its public key.
// A key is generated only if none is stored; the first stored key wins.
func (s *Signer) InitKey(ctx context.Context, actorID string) (*rsa.PublicKey, error) {
	key, err := s.privateKey(ctx, actorID, true)
	if err != nil {
		return nil, err
	}
	return &key.PublicKey, nil
}

// privateKey loads the key of actorID, generating one first when create is set.
func (s *Signer) privateKey(ctx context.Context, actorID string, create bool) (*rsa.PrivateKey, error) {
	if actorID == "" {
		return nil, errors.New("no actor id for signing key")
	}
	m := s.lock(actorID)
	m.Lock()
	defer m.Unlock()

	ref := storage.KeyReference(actorID)
	stored, err := s.keys.LoadKey(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("loading key for %s: %w", actorID, err)
	}
	if stored == nil && !create {
		return nil, fmt.Errorf("%w for %s", ErrNoKey, actorID)
	}
	if stored == nil {
		generated, err := generateKey(s.keyBits)
		if err != nil {
			return nil, fmt.Errorf("generating key for %s: %w", actorID, err)
		}
		stored, err = s.keys.CreateKey(ctx, ref, generated)
		if err != nil {
			return nil, fmt.Errorf("storing key for %s: %w", actorID, err)
		}
		telemetry.Log("created signing key %s", ref)
	}
	key, err := parsePrivateKey(stored)
	if err != nil {
		telemetry.Error(err, "stored key %s is unreadable", ref)
		return nil, fmt.Errorf("%w %s: %v", ErrCorruptKey, ref, err)
	}
	return key, nil
}

func generateKey(bits int) ([]byte, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func parsePrivateKey(pemKey []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("no PEM block in key")
	}
	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("unsupported private key type %T", key)
		}
		return rsaKey, nil
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}

// PublicKeyPEM encodes a public key for publishing on an actor profile.
func PublicKeyPEM(key *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

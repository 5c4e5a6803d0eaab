package signing

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-fed/httpsig"

	"github.com/tkrehbiel/activitycore/server/activity"
)

var (
	ErrMissingSignature   = errors.New("missing signature")
	ErrMalformedSignature = errors.New("malformed signature")
	ErrDigestMismatch     = errors.New("digest mismatch")
	ErrUnresolvableKey    = errors.New("unresolvable key")
	ErrBadSignature       = errors.New("bad signature")
)

// VerificationError is returned for any request whose signature does not check out.
// Use errors.Is with the Err* values to tell the causes apart.
type VerificationError struct {
	KeyID string
	Err   error
}

func (e *VerificationError) Error() string {
	if e.KeyID == "" {
		return fmt.Sprintf("signature verification failed: %v", e.Err)
	}
	return fmt.Sprintf("signature verification failed for %s: %v", e.KeyID, e.Err)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

func verificationError(keyID string, sentinel error, cause error) error {
	if cause == nil {
		return &VerificationError{KeyID: keyID, Err: sentinel}
	}
	return &VerificationError{KeyID: keyID, Err: fmt.Errorf("%w: %v", sentinel, cause)}
}

const maxBodySize = 1 << 20

// Verify checks the signature and digest of an incoming request and returns
// the actor that signed it. The request body is left readable.
func (s *Signer) Verify(ctx context.Context, r *http.Request) (activity.Actor, error) {
	if r.Header.Get("Signature") == "" {
		return nil, verificationError("", ErrMissingSignature, nil)
	}
	verifier, err := httpsig.NewVerifier(r)
	if err != nil {
		return nil, verificationError("", ErrMalformedSignature, err)
	}
	keyID := verifier.KeyId()
	if err := checkCoverage(r.Header.Get("Signature")); err != nil {
		return nil, verificationError(keyID, ErrMalformedSignature, err)
	}

	body, err := readBody(r)
	if err != nil {
		return nil, verificationError(keyID, ErrDigestMismatch, err)
	}
	if err := checkDigest(r.Header.Get("Digest"), body); err != nil {
		return nil, verificationError(keyID, ErrDigestMismatch, err)
	}

	actor, publicKey, err := s.publicKey(ctx, keyID)
	if err != nil {
		return nil, verificationError(keyID, ErrUnresolvableKey, err)
	}

	if err := verifier.Verify(publicKey, httpsig.RSA_SHA256); err != nil {
		return nil, verificationError(keyID, ErrBadSignature, err)
	}
	return actor, nil
}

var headersParam = regexp.MustCompile(`(?:^|,)\s*headers\s*=\s*"([^"]*)"`)

// checkCoverage makes sure the signature covers every header we sign with.
// httpsig verifies whatever list the sender declares, so a signature that
// leaves out the digest would not protect the body.
func checkCoverage(signature string) error {
	m := headersParam.FindStringSubmatch(signature)
	if m == nil {
		return errors.New("signature lists no headers")
	}
	covered := make(map[string]bool)
	for _, name := range strings.Fields(m[1]) {
		covered[strings.ToLower(name)] = true
	}
	for _, name := range signedHeaders {
		if !covered[name] {
			return fmt.Errorf("signature does not cover %s", name)
		}
	}
	return nil
}

// readBody reads the request body and replaces it so later handlers can read it again.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// checkDigest compares a Digest header against the body. The header may list
// several algorithms; only SHA-256 is checked and it must be present.
func checkDigest(header string, body []byte) error {
	if header == "" {
		return errors.New("no digest header")
	}
	for _, part := range strings.Split(header, ",") {
		algo, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found || !strings.EqualFold(algo, "SHA-256") {
			continue
		}
		if value != computeDigest(body) {
			return errors.New("body does not match SHA-256 digest")
		}
		return nil
	}
	return errors.New("no SHA-256 digest")
}

// publicKey finds the actor that owns keyID and parses its public key.
// The key id is usually the actor id with a #main-key fragment.
func (s *Signer) publicKey(ctx context.Context, keyID string) (activity.Actor, crypto.PublicKey, error) {
	if s.resolver == nil {
		return nil, nil, errors.New("no resolver for remote keys")
	}
	actorID, _, _ := strings.Cut(keyID, "#")
	obj, err := s.resolver.ResolveID(ctx, actorID)
	if err != nil {
		return nil, nil, err
	}
	actor, ok := obj.(activity.Actor)
	if !ok {
		return nil, nil, fmt.Errorf("key owner %s is a %s, not an actor", actorID, obj.Type())
	}
	pk := actor.ActorFields().PublicKey
	if pk == nil || pk.PublicKeyPem == "" {
		return nil, nil, fmt.Errorf("actor %s publishes no public key", actorID)
	}
	key, err := ParsePublicKey([]byte(pk.PublicKeyPem))
	if err != nil {
		return nil, nil, err
	}
	return actor, key, nil
}

// ParsePublicKey reads a PKIX or PKCS#1 PEM encoded RSA public key.
func ParsePublicKey(pemKey []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("no PEM block in key")
	}
	switch block.Type {
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("unsupported public key type %T", key)
		}
		return rsaKey, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}

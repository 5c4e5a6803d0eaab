// Package signing signs outgoing federation requests and verifies incoming ones
// with RSA-SHA256 HTTP signatures.
package signing

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/storage"
)

// signedHeaders are the headers covered by every signature we make, in order.
var signedHeaders = []string{"(request-target)", "host", "date", "digest"}

// HeaderSetter receives the signature headers. http.Header is one.
type HeaderSetter interface {
	Set(key, value string)
}

// KeyResolver dereferences the actor that owns a signing key.
type KeyResolver interface {
	ResolveID(ctx context.Context, id string) (activity.Object, error)
}

// Signer signs requests with the private keys of local actors and verifies
// requests against the public keys of remote ones.
type Signer struct {
	keys     storage.KeyStore
	resolver KeyResolver
	// Now is the clock used for the Date header.
	Now func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
	keyBits int
}

func NewSigner(keys storage.KeyStore, resolver KeyResolver) *Signer {
	return &Signer{
		keys:     keys,
		resolver: resolver,
		Now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
		keyBits:  2048,
	}
}

func computeDigest(body []byte) string {
	hash := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(hash[:])
}

// signingString is the text that gets signed, one "name: value" line per signed header.
func signingString(method, target, host, date, digest string) string {
	return strings.Join([]string{
		fmt.Sprintf("(request-target): %s %s", strings.ToLower(method), target),
		fmt.Sprintf("host: %s", host),
		fmt.Sprintf("date: %s", date),
		fmt.Sprintf("digest: SHA-256=%s", digest),
	}, "\n")
}

// Sign adds Signature, Date and Digest headers to r for a request sent by actor with body.
func (s *Signer) Sign(ctx context.Context, r *http.Request, actor activity.Actor, body []byte) error {
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	target := r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return s.SignHeaders(ctx, r.Header, r.Method, host, target, activity.ID(actor), body)
}

// SignHeaders computes the digest, date and signature for a request and sets
// the Signature, Date and Digest headers in that order. The actor must already
// have a key from InitKey.
func (s *Signer) SignHeaders(ctx context.Context, h HeaderSetter, method, host, target, actorID string, body []byte) error {
	privateKey, err := s.privateKey(ctx, actorID, false)
	if err != nil {
		return err
	}

	digest := computeDigest(body)
	date := s.Now().UTC().Format(http.TimeFormat)

	hashed := sha256.Sum256([]byte(signingString(method, target, host, date, digest)))
	signature, err := rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA256, hashed[:])
	if err != nil {
		return fmt.Errorf("signing request for %s: %w", actorID, err)
	}

	h.Set("Signature", fmt.Sprintf(`keyId="%s",headers="%s",signature="%s"`,
		actorID, strings.Join(signedHeaders, " "), base64.StdEncoding.EncodeToString(signature)))
	h.Set("Date", date)
	h.Set("Digest", "SHA-256="+digest)
	return nil
}

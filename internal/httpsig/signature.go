// Package httpsig signs and verifies federation HTTP traffic: HMAC bodies
// for WebSub pushes and draft-cavage RSA signatures for ActivityPub.
package httpsig

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	fedsig "github.com/go-fed/httpsig"
)

var (
	ErrMissingSignature = errors.New("httpsig: missing signature")
	ErrInvalidSignature = errors.New("httpsig: invalid signature")
)

// DefaultClockSkew bounds how far the signed Date may drift from now.
const DefaultClockSkew = 12 * time.Hour

// KeyResolver returns the public key behind a keyId.
type KeyResolver interface {
	PublicKey(ctx context.Context, keyID string) (*rsa.PublicKey, error)
}

// KeyResolverFunc adapts a function to KeyResolver.
type KeyResolverFunc func(ctx context.Context, keyID string) (*rsa.PublicKey, error)

func (f KeyResolverFunc) PublicKey(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
	return f(ctx, keyID)
}

func signedHeaderList(body []byte) []string {
	headers := []string{fedsig.RequestTarget, "host", "date"}
	if body != nil {
		headers = append(headers, "digest")
	}
	return headers
}

// SignRequest adds Date, Host, Digest (when body is non-nil) and Signature
// headers to r.
func SignRequest(r *http.Request, body []byte, keyID string, key *rsa.PrivateKey) error {
	if r.Header.Get("Date") == "" {
		r.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	if r.Header.Get("Host") == "" {
		r.Header.Set("Host", r.URL.Host)
	}
	signer, _, err := fedsig.NewSigner(
		[]fedsig.Algorithm{fedsig.RSA_SHA256},
		fedsig.DigestSha256,
		signedHeaderList(body),
		fedsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("creating signer: %w", err)
	}
	if err := signer.SignRequest(key, keyID, r, body); err != nil {
		return fmt.Errorf("signing request: %w", err)
	}
	return nil
}

// Verifier checks inbound signed requests.
type Verifier struct {
	keys KeyResolver
	skew time.Duration
	now  func() time.Time
}

// NewVerifier creates a verifier. A skew of zero disables the Date check.
func NewVerifier(keys KeyResolver, skew time.Duration) *Verifier {
	return &Verifier{keys: keys, skew: skew, now: time.Now}
}

// VerifyRequest authenticates r and returns the keyId that signed it. body
// is the already-read request body; when non-empty the signature must cover
// a Digest header that matches it.
func (v *Verifier) VerifyRequest(ctx context.Context, r *http.Request, body []byte) (string, error) {
	raw := signatureParams(r.Header)
	if raw == "" {
		return "", ErrMissingSignature
	}
	if r.Header.Get("Host") == "" {
		r.Header.Set("Host", r.Host)
	}

	verifier, err := fedsig.NewVerifier(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	keyID := verifier.KeyId()

	if v.skew > 0 {
		date, err := http.ParseTime(r.Header.Get("Date"))
		if err != nil {
			return keyID, fmt.Errorf("%w: bad date header", ErrInvalidSignature)
		}
		if d := v.now().Sub(date); d > v.skew || d < -v.skew {
			return keyID, fmt.Errorf("%w: date outside allowed skew", ErrInvalidSignature)
		}
	}

	if len(body) > 0 {
		if !covers(raw, "digest") {
			return keyID, fmt.Errorf("%w: digest not signed", ErrInvalidSignature)
		}
		if err := checkDigest(r.Header.Get("Digest"), body); err != nil {
			return keyID, err
		}
	}

	pub, err := v.keys.PublicKey(ctx, keyID)
	if err != nil {
		return keyID, fmt.Errorf("resolving key %s: %w", keyID, err)
	}
	if err := verifier.Verify(pub, fedsig.RSA_SHA256); err != nil {
		return keyID, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return keyID, nil
}

func signatureParams(h http.Header) string {
	if s := h.Get("Signature"); s != "" {
		return s
	}
	auth := h.Get("Authorization")
	if rest, ok := strings.CutPrefix(auth, "Signature "); ok {
		return rest
	}
	return ""
}

// covers reports whether the headers parameter of a signature lists name.
func covers(params, name string) bool {
	for _, part := range strings.Split(params, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || k != "headers" {
			continue
		}
		for _, h := range strings.Fields(strings.Trim(val, `"`)) {
			if strings.EqualFold(h, name) {
				return true
			}
		}
	}
	return false
}

func checkDigest(header string, body []byte) error {
	algo, value, ok := strings.Cut(header, "=")
	if !ok || !strings.EqualFold(algo, "SHA-256") {
		return fmt.Errorf("%w: unsupported digest %q", ErrInvalidSignature, header)
	}
	sum := sha256.Sum256(body)
	if base64.StdEncoding.EncodeToString(sum[:]) != value {
		return fmt.Errorf("%w: digest mismatch", ErrInvalidSignature)
	}
	return nil
}

// ParsePrivateKey reads a PKCS#1 or PKCS#8 RSA private key.
func ParsePrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("httpsig: no PEM block in private key")
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	rk, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("httpsig: private key is not RSA")
	}
	return rk, nil
}

// ParsePublicKey reads a PKIX or PKCS#1 RSA public key.
func ParsePublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("httpsig: no PEM block in public key")
	}
	if k, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rk, ok := k.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("httpsig: public key is not RSA")
		}
		return rk, nil
	}
	k, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	return k, nil
}

// EncodeKeyPair renders key as PKCS#8 and PKIX PEM blocks.
func EncodeKeyPair(key *rsa.PrivateKey) (privatePEM, publicPEM string, err error) {
	priv, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("encoding private key: %w", err)
	}
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("encoding public key: %w", err)
	}
	privatePEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: priv}))
	publicPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub}))
	return privatePEM, publicPEM, nil
}

// Package dpop builds RFC 9449 DPoP proofs: short-lived JWTs, signed with an
// ephemeral key, whose header carries the public half of that key so the
// authorization server can bind an issued token to it without pre-registration.
package dpop

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// HeaderName is the HTTP header carrying a proof.
	HeaderName = "DPoP"
	// NonceHeaderName is the HTTP header a server uses to hand out a nonce.
	NonceHeaderName = "DPoP-Nonce"
	// ErrorUseNonce is the OAuth error code of a nonce challenge.
	ErrorUseNonce = "use_dpop_nonce"

	// TokenType is the "typ" header of every proof.
	TokenType = "dpop+jwt"

	// DefaultKeyBits is the RSA modulus size of generated keys.
	DefaultKeyBits = 2048
	minKeyBits     = 2048

	jtiBytes = 16
)

// signingMethod matches the key type produced by GenerateKeyPair.
var signingMethod = jwt.SigningMethodRS256

// KeyPair is an ephemeral RSA key pair. A KeyPair belongs to exactly one token
// exchange and is dropped when that exchange ends.
type KeyPair struct {
	private *rsa.PrivateKey
	public  jose.JSONWebKey
}

// GenerateKeyPair creates a fresh 2048-bit RSA key pair.
func GenerateKeyPair() (*KeyPair, error) {
	return GenerateKeyPairWithSize(rand.Reader, DefaultKeyBits)
}

// GenerateKeyPairWithSize creates a fresh RSA key pair of the given size, reading
// entropy from random.
func GenerateKeyPairWithSize(random io.Reader, bits int) (*KeyPair, error) {
	if bits < minKeyBits {
		return nil, fmt.Errorf("rsa key size %d is below the %d bit minimum", bits, minKeyBits)
	}

	key, err := rsa.GenerateKey(random, bits)
	if err != nil {
		return nil, fmt.Errorf("could not generate rsa key: %w", err)
	}

	return &KeyPair{
		private: key,
		public:  jose.JSONWebKey{Key: &key.PublicKey},
	}, nil
}

// PublicJWK returns the public key as a JSON Web Key ({kty, n, e}).
func (k *KeyPair) PublicJWK() jose.JSONWebKey {
	return k.public
}

// Thumbprint returns the base64url RFC 7638 SHA-256 thumbprint of the public key,
// the value an authorization server puts in a bound token's cnf.jkt claim.
func (k *KeyPair) Thumbprint() (string, error) {
	sum, err := k.public.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("could not compute jwk thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

// ProofClaims are the claims of a DPoP proof.
type ProofClaims struct {
	// Method is the uppercase HTTP method of the request the proof authorizes.
	Method string `json:"htm"`
	// URL is the target URL without query or fragment.
	URL string `json:"htu"`
	// Nonce echoes a server-provided nonce; empty on a first attempt.
	Nonce string `json:"nonce,omitempty"`

	// ID (jti) and IssuedAt (iat) are carried by the registered claims.
	jwt.RegisteredClaims
}

// Builder signs proofs. The zero value uses crypto/rand and the wall clock.
type Builder struct {
	// Rand is the entropy source for jti values.
	Rand io.Reader
	// Now returns the issuance time.
	Now func() time.Time
}

// BuildProof signs a proof with the default Builder.
func BuildProof(kp *KeyPair, method, targetURL, nonce string) (string, error) {
	return Builder{}.Build(kp, method, targetURL, nonce)
}

// Build returns a signed, serialized proof for one HTTP request. The nonce claim is
// included only when nonce is non-empty. Build performs no I/O.
func (b Builder) Build(kp *KeyPair, method, targetURL, nonce string) (string, error) {
	if kp == nil || kp.private == nil {
		return "", errors.New("dpop key pair is required")
	}
	if method == "" {
		return "", errors.New("http method is required")
	}

	htu, err := normalizeURL(targetURL)
	if err != nil {
		return "", err
	}

	jti, err := b.newJTI()
	if err != nil {
		return "", err
	}

	claims := ProofClaims{
		Method: strings.ToUpper(method),
		URL:    htu,
		Nonce:  nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       jti,
			IssuedAt: jwt.NewNumericDate(b.now()),
		},
	}

	token := jwt.NewWithClaims(signingMethod, claims)
	token.Header["typ"] = TokenType
	token.Header["jwk"] = kp.public

	signed, err := token.SignedString(kp.private)
	if err != nil {
		return "", fmt.Errorf("could not sign dpop proof: %w", err)
	}
	return signed, nil
}

func (b Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b Builder) newJTI() (string, error) {
	random := b.Rand
	if random == nil {
		random = rand.Reader
	}

	var buf [jtiBytes]byte
	if _, err := io.ReadFull(random, buf[:]); err != nil {
		return "", fmt.Errorf("could not generate jti: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// normalizeURL strips the query and fragment from target, as htu requires.
func normalizeURL(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid target url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("target url %q must be absolute", target)
	}

	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// ParseProof verifies proof using only the public key embedded in its own header
// and returns its claims and that key.
func ParseProof(proof string) (*ProofClaims, *jose.JSONWebKey, error) {
	var embedded jose.JSONWebKey

	claims := &ProofClaims{}
	token, err := jwt.ParseWithClaims(proof, claims, func(t *jwt.Token) (any, error) {
		if typ, _ := t.Header["typ"].(string); typ != TokenType {
			return nil, fmt.Errorf("unexpected typ header %q", typ)
		}

		raw, err := json.Marshal(t.Header["jwk"])
		if err != nil {
			return nil, fmt.Errorf("invalid jwk header: %w", err)
		}
		if err := embedded.UnmarshalJSON(raw); err != nil {
			return nil, fmt.Errorf("invalid jwk header: %w", err)
		}
		if !embedded.IsPublic() {
			return nil, errors.New("jwk header must hold a public key")
		}

		return embedded.Key, nil
	}, jwt.WithValidMethods([]string{signingMethod.Alg()}))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid dpop proof: %w", err)
	}
	if !token.Valid {
		return nil, nil, errors.New("invalid dpop proof")
	}

	return claims, &embedded, nil
}

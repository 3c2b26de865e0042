package dpop

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTokenURL = "https://auth.example.com/oauth2/default/v1/token"

var testKeyPair = mustGenerateKeyPair()

func mustGenerateKeyPair() *KeyPair {
	kp, err := GenerateKeyPair()
	if err != nil {
		panic(err)
	}
	return kp
}

// decodeSegment decodes one base64url JWT segment into a map.
func decodeSegment(t *testing.T, proof string, index int) map[string]any {
	t.Helper()

	parts := strings.Split(proof, ".")
	require.Len(t, parts, 3)

	raw, err := base64.RawURLEncoding.DecodeString(parts[index])
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestGenerateKeyPair(t *testing.T) {
	assert.GreaterOrEqual(t, testKeyPair.private.N.BitLen(), 2048)

	other := mustGenerateKeyPair()
	assert.NotEqual(t, 0, testKeyPair.private.N.Cmp(other.private.N), "every call must produce a new key")
}

func TestGenerateKeyPairRejectsSmallKeys(t *testing.T) {
	_, err := GenerateKeyPairWithSize(rand.Reader, 1024)
	require.Error(t, err)
}

func TestBuildProofHeader(t *testing.T) {
	proof, err := BuildProof(testKeyPair, "POST", testTokenURL, "")
	require.NoError(t, err)

	header := decodeSegment(t, proof, 0)
	assert.Equal(t, "dpop+jwt", header["typ"])
	assert.Equal(t, "RS256", header["alg"])

	jwk, ok := header["jwk"].(map[string]any)
	require.True(t, ok, "jwk header must be an object")
	assert.Equal(t, "RSA", jwk["kty"])
	assert.NotContains(t, jwk, "d", "private exponent must never be embedded")

	n, err := base64.RawURLEncoding.DecodeString(jwk["n"].(string))
	require.NoError(t, err, "n must be unpadded base64url")
	assert.Equal(t, 0, new(big.Int).SetBytes(n).Cmp(testKeyPair.private.N))

	e, err := base64.RawURLEncoding.DecodeString(jwk["e"].(string))
	require.NoError(t, err, "e must be unpadded base64url")
	assert.Equal(t, int64(testKeyPair.private.E), new(big.Int).SetBytes(e).Int64())
}

func TestBuildProofClaims(t *testing.T) {
	issuedAt := time.Unix(1700000000, 0)
	builder := Builder{Now: func() time.Time { return issuedAt }}

	tests := map[string]struct {
		method    string
		targetURL string
		nonce     string
		wantHTM   string
		wantHTU   string
	}{
		"first attempt without nonce": {
			method:    "POST",
			targetURL: testTokenURL,
			wantHTM:   "POST",
			wantHTU:   testTokenURL,
		},
		"retry with nonce": {
			method:    "POST",
			targetURL: testTokenURL,
			nonce:     "n1",
			wantHTM:   "POST",
			wantHTU:   testTokenURL,
		},
		"method upper-cased": {
			method:    "get",
			targetURL: "https://api.example.com/resource",
			wantHTM:   "GET",
			wantHTU:   "https://api.example.com/resource",
		},
		"query and fragment stripped": {
			method:    "POST",
			targetURL: testTokenURL + "?foo=bar#frag",
			wantHTM:   "POST",
			wantHTU:   testTokenURL,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			proof, err := builder.Build(testKeyPair, tt.method, tt.targetURL, tt.nonce)
			require.NoError(t, err)

			claims := decodeSegment(t, proof, 1)
			assert.Equal(t, tt.wantHTM, claims["htm"])
			assert.Equal(t, tt.wantHTU, claims["htu"])
			assert.Equal(t, float64(issuedAt.Unix()), claims["iat"])

			jti, ok := claims["jti"].(string)
			require.True(t, ok)
			assert.Len(t, jti, 32, "jti must be 16 bytes hex encoded")

			if tt.nonce == "" {
				assert.NotContains(t, claims, "nonce")
			} else {
				assert.Equal(t, tt.nonce, claims["nonce"])
			}
		})
	}
}

func TestBuildProofErrors(t *testing.T) {
	tests := map[string]struct {
		kp        *KeyPair
		method    string
		targetURL string
	}{
		"missing key pair": {
			kp:        nil,
			method:    "POST",
			targetURL: testTokenURL,
		},
		"missing method": {
			kp:        testKeyPair,
			targetURL: testTokenURL,
		},
		"relative url": {
			kp:        testKeyPair,
			method:    "POST",
			targetURL: "/v1/token",
		},
		"unparsable url": {
			kp:        testKeyPair,
			method:    "POST",
			targetURL: "https://exa mple.com/%zz",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := BuildProof(tt.kp, tt.method, tt.targetURL, "")
			require.Error(t, err)
		})
	}
}

func TestBuildProofRandFailure(t *testing.T) {
	builder := Builder{Rand: bytes.NewReader(nil)}

	_, err := builder.Build(testKeyPair, "POST", testTokenURL, "")
	require.Error(t, err)
}

func TestProofVerifiesWithEmbeddedKey(t *testing.T) {
	proof, err := BuildProof(testKeyPair, "POST", testTokenURL, "n1")
	require.NoError(t, err)

	claims, jwk, err := ParseProof(proof)
	require.NoError(t, err)

	assert.Equal(t, "POST", claims.Method)
	assert.Equal(t, testTokenURL, claims.URL)
	assert.Equal(t, "n1", claims.Nonce)

	pub, ok := jwk.Key.(*rsa.PublicKey)
	require.True(t, ok)
	assert.True(t, pub.Equal(&testKeyPair.private.PublicKey))
}

func TestParseProofRejectsTampering(t *testing.T) {
	proof, err := BuildProof(testKeyPair, "POST", testTokenURL, "")
	require.NoError(t, err)

	t.Run("swapped key", func(t *testing.T) {
		// A proof signed by one key but carrying another public key must not verify.
		other := mustGenerateKeyPair()
		claims := ProofClaims{Method: "POST", URL: testTokenURL}
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["typ"] = TokenType
		token.Header["jwk"] = other.public
		forged, err := token.SignedString(testKeyPair.private)
		require.NoError(t, err)

		_, _, err = ParseProof(forged)
		require.Error(t, err)
	})

	t.Run("modified claims", func(t *testing.T) {
		parts := strings.Split(proof, ".")
		parts[1] = base64.RawURLEncoding.EncodeToString([]byte(`{"htm":"GET","htu":"https://evil.example.com","jti":"x","iat":1}`))

		_, _, err := ParseProof(strings.Join(parts, "."))
		require.Error(t, err)
	})

	t.Run("wrong typ", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, ProofClaims{Method: "POST", URL: testTokenURL})
		token.Header["typ"] = "JWT"
		token.Header["jwk"] = testKeyPair.public
		signed, err := token.SignedString(testKeyPair.private)
		require.NoError(t, err)

		_, _, err = ParseProof(signed)
		require.Error(t, err)
	})

	t.Run("private key embedded", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, ProofClaims{Method: "POST", URL: testTokenURL})
		token.Header["typ"] = TokenType
		token.Header["jwk"] = map[string]any{"kty": "oct", "k": "c2VjcmV0"}
		signed, err := token.SignedString(testKeyPair.private)
		require.NoError(t, err)

		_, _, err = ParseProof(signed)
		require.Error(t, err)
	})
}

func TestJTIUniqueness(t *testing.T) {
	const n = 10000

	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		jti, err := Builder{}.newJTI()
		require.NoError(t, err)

		if _, dup := seen[jti]; dup {
			t.Fatalf("duplicate jti %q after %d generations", jti, i)
		}
		seen[jti] = struct{}{}
	}
}

func TestProofJTIDistinct(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		proof, err := BuildProof(testKeyPair, "POST", testTokenURL, "")
		require.NoError(t, err)

		jti := decodeSegment(t, proof, 1)["jti"].(string)
		_, dup := seen[jti]
		require.False(t, dup, "duplicate jti %q", jti)
		seen[jti] = struct{}{}
	}
}

func TestThumbprint(t *testing.T) {
	thumb, err := testKeyPair.Thumbprint()
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(thumb)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	again, err := testKeyPair.Thumbprint()
	require.NoError(t, err)
	assert.Equal(t, thumb, again)
}

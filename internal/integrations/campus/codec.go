package campus

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"

	"courtbot/internal/domain"
)

// credentialPrefix tags ciphertexts so the platform knows they carry an
// RSA-encrypted credential rather than a plaintext one.
const credentialPrefix = "__RSA__"

// fetchPublicKey retrieves the identity provider's RSA public key. It is
// called once per client; keys are effectively static but re-fetching per
// login tolerates rotation.
func fetchPublicKey(ctx context.Context, httpClient *http.Client, url string) (*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyFetch, err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyFetch, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyFetch, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("%w: response is not PEM", domain.ErrKeyFetch)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyFetch, err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: key is %T, want RSA", domain.ErrKeyFetch, parsed)
	}
	return key, nil
}

// encryptCredential produces the platform's tagged credential token:
// "__RSA__" + base64(PKCS#1 v1.5 ciphertext).
func encryptCredential(key *rsa.PublicKey, plaintext string) (string, error) {
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, key, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrEncrypt, err)
	}
	return credentialPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

package gateway

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"

	"github.com/Saymandev/Advanced-Poss-sub004/internal/logger"
)

// The envelope is obfuscation, not a security boundary: the derivation secret
// is a build-time value shared with every client. The wire format is kept for
// interop with the upstream API.
const (
	kdfIterations = 10000
	kdfKeyLen     = 32
)

type envelope struct {
	Encrypted bool   `json:"encrypted"`
	IV        string `json:"iv"`
	Data      string `json:"data"`
}

// DecodeEnvelope unwraps an encrypted response envelope in place, so callers
// see the original payload shape. Recognized forms:
//
//	{ "encrypted": true, "iv": "...", "data": "..." }
//	{ "success": true, "data": { "encrypted": true, ... } }
//
// Any decode or decrypt failure returns the body unchanged; a broken envelope
// must never fail the call itself.
func DecodeEnvelope(body []byte, secret string) []byte {
	if secret == "" || len(body) == 0 {
		return body
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Encrypted {
		plain, err := decryptEnvelope(&env, secret)
		if err != nil {
			logger.Log.Error("Failed to decrypt response envelope", zap.Error(err))
			return body
		}
		return plain
	}

	// One level of nesting: the envelope may sit under a success wrapper.
	// Only the "data" member is replaced; siblings (message, pagination)
	// survive the unwrap.
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapped); err != nil || len(wrapped["data"]) == 0 {
		return body
	}
	var inner envelope
	if err := json.Unmarshal(wrapped["data"], &inner); err != nil || !inner.Encrypted {
		return body
	}
	plain, err := decryptEnvelope(&inner, secret)
	if err != nil {
		logger.Log.Error("Failed to decrypt response envelope", zap.Error(err))
		return body
	}

	wrapped["data"] = plain
	replaced, err := json.Marshal(wrapped)
	if err != nil {
		return body
	}
	return replaced
}

func decryptEnvelope(env *envelope, secret string) ([]byte, error) {
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("iv length %d, want %d", len(iv), aes.BlockSize)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d not a block multiple", len(ciphertext))
	}

	// The IV doubles as the KDF salt on the wire.
	key := pbkdf2.Key([]byte(secret), iv, kdfIterations, kdfKeyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	plain, err = pkcs7Unpad(plain)
	if err != nil {
		return nil, err
	}

	// The payload is JSON whenever the sender encrypted JSON; if it is not
	// valid JSON, re-encode it as a JSON string so callers always get JSON.
	if json.Valid(plain) {
		return plain, nil
	}
	return json.Marshal(string(plain))
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-pad], nil
}

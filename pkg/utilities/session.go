package utilities

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SessionKeys derives the cookie authentication (64 byte) and encryption
// (32 byte) keys from one secret. An empty secret yields random keys, which
// invalidates all sessions on restart.
func SessionKeys(secret []byte) (hashKey, blockKey []byte, err error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, nil, err
		}
	}
	hashKey = make([]byte, 64)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte("session-hash")), hashKey); err != nil {
		return nil, nil, err
	}
	blockKey = make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte("session-block")), blockKey); err != nil {
		return nil, nil, err
	}
	return hashKey, blockKey, nil
}

package session

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

// Token is a persisted bearer token.
type Token struct {
	AccessToken string    `json:"accessToken"`
	Expiry      time.Time `json:"expiry,omitempty"`
}

// Valid reports whether the token is present and not expired at now.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && (t.Expiry.IsZero() || t.Expiry.After(now))
}

// FileStore keeps a token on disk sealed with XChaCha20-Poly1305.
type FileStore struct {
	path string
	key  []byte
	mu   sync.Mutex
	now  func() time.Time
}

// NewFileStore builds a store at path using a 32 byte key.
func NewFileStore(path string, key []byte) (*FileStore, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("session key must be %d bytes", chacha20poly1305.KeySize)
	}
	return &FileStore{path: path, key: append([]byte(nil), key...), now: time.Now}, nil
}

// Save seals tok and replaces the file atomically.
func (f *FileStore) Save(tok Token) error {
	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return err
	}
	plain, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plain, nil)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return os.Rename(tmp, f.path)
}

// Load opens the stored token. A missing file yields ErrNoSession.
func (f *FileStore) Load() (Token, error) {
	f.mu.Lock()
	data, err := os.ReadFile(f.path)
	f.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return Token{}, ErrNoSession
	}
	if err != nil {
		return Token{}, fmt.Errorf("read session: %w", err)
	}
	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return Token{}, err
	}
	if len(data) < aead.NonceSize() {
		return Token{}, errors.New("session file is truncated")
	}
	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Token{}, fmt.Errorf("open session: %w", err)
	}
	var tok Token
	if err := json.Unmarshal(plain, &tok); err != nil {
		return Token{}, fmt.Errorf("decode session: %w", err)
	}
	return tok, nil
}

// Token returns the stored access token while it is valid.
func (f *FileStore) Token(context.Context) (string, error) {
	tok, err := f.Load()
	if err != nil {
		return "", err
	}
	if !tok.Valid(f.now()) {
		return "", ErrExpired
	}
	return tok.AccessToken, nil
}

// Package keychain implements the wallet's key storage: a fingerprint-keyed
// map from BLS master key to one of four storage variants, with secret
// material sealed under an Argon2id-derived AES-256-GCM key, using
// golang.org/x/crypto/argon2 (already in the dependency graph for scrypt
// elsewhere) and the standard library's crypto/aes + crypto/cipher for the
// AEAD itself: Go's stdlib AES-GCM is the idiomatic choice the wider
// ecosystem reaches for instead of a dedicated aes-gcm package, so no
// third-party AEAD library is wired here.
package keychain

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/rawblock/lightwallet/chain"
)

// Kind is the closed set of key storage variants.
type Kind string

const (
	// KindPublic stores only a master public key: can derive addresses,
	// cannot sign.
	KindPublic Kind = "public"
	// KindSecret stores one encrypted secret: the master secret key, or
	// the mnemonic entropy it came from when FromMnemonic is set.
	KindSecret Kind = "secret"
	// KindVault stores a singleton launcher id for a vault wallet backed
	// by an on-chain 1-of-1 multisig coin rather than a BLS key.
	KindVault Kind = "vault"
	// KindWatch stores an explicit list of puzzle hashes to watch, for
	// wallets with no key material at all.
	KindWatch Kind = "watch"
)

// ErrKeyExists is returned when adding a fingerprint already present.
var ErrKeyExists = errors.New("keychain: fingerprint already present")

// ErrWrongPassword is returned when decrypting secret data with the wrong
// password — AES-GCM authentication failure, never distinguished further.
var ErrWrongPassword = errors.New("keychain: wrong password or corrupt data")

// Entry is one fingerprint's stored key data.
type Entry struct {
	Kind Kind

	// KindPublic, KindSecret
	MasterPublicKey chain.PublicKey

	// KindSecret
	Encrypted    *Envelope
	FromMnemonic bool

	// KindVault
	LauncherID chain.Hash

	// KindWatch
	PuzzleHashes []chain.Hash
}

// Envelope is a password-sealed secret: ciphertext, nonce and salt travel
// together so a key file is self-contained.
type Envelope struct {
	Ciphertext []byte   `json:"ciphertext"`
	Nonce      []byte   `json:"nonce"`
	Salt       [32]byte `json:"salt"`
}

const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

func encryptionKey(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// Seal encrypts data under password, generating a fresh random salt and
// nonce per call so repeated calls with the same password never repeat
// ciphertext.
func Seal(password, data []byte) (*Envelope, error) {
	var salt [32]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, fmt.Errorf("keychain: generate salt: %w", err)
	}
	block, err := aes.NewCipher(encryptionKey(password, salt[:]))
	if err != nil {
		return nil, fmt.Errorf("keychain: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keychain: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keychain: generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, data, nil)
	return &Envelope{Ciphertext: ciphertext, Nonce: nonce, Salt: salt}, nil
}

// Open decrypts an envelope with password, returning ErrWrongPassword on
// any authentication failure.
func Open(env *Envelope, password []byte) ([]byte, error) {
	block, err := aes.NewCipher(encryptionKey(password, env.Salt[:]))
	if err != nil {
		return nil, fmt.Errorf("keychain: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keychain: new gcm: %w", err)
	}
	data, err := gcm.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	return data, nil
}

// Keychain is a fingerprint-keyed collection of key entries for every
// wallet the user has added.
type Keychain struct {
	keys map[uint32]Entry
}

// New returns an empty keychain.
func New() *Keychain {
	return &Keychain{keys: make(map[uint32]Entry)}
}

// MarshalJSON/UnmarshalJSON let a keychain round-trip through the wallet's
// config directory as a single file.
func (k *Keychain) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.keys)
}

func (k *Keychain) UnmarshalJSON(data []byte) error {
	var keys map[uint32]Entry
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	if keys == nil {
		keys = make(map[uint32]Entry)
	}
	k.keys = keys
	return nil
}

// Contains reports whether fingerprint is already stored.
func (k *Keychain) Contains(fingerprint uint32) bool {
	_, ok := k.keys[fingerprint]
	return ok
}

// Remove deletes a fingerprint's entry, reporting whether it existed.
func (k *Keychain) Remove(fingerprint uint32) bool {
	if !k.Contains(fingerprint) {
		return false
	}
	delete(k.keys, fingerprint)
	return true
}

// Fingerprints returns every stored fingerprint.
func (k *Keychain) Fingerprints() []uint32 {
	out := make([]uint32, 0, len(k.keys))
	for fp := range k.keys {
		out = append(out, fp)
	}
	return out
}

// PublicKey returns the master public key for fingerprint, if it has one
// (KindPublic or KindSecret); KindVault and KindWatch have none.
func (k *Keychain) PublicKey(fingerprint uint32) (chain.PublicKey, bool) {
	entry, ok := k.keys[fingerprint]
	if !ok || (entry.Kind != KindPublic && entry.Kind != KindSecret) {
		return chain.PublicKey{}, false
	}
	return entry.MasterPublicKey, true
}

// HasSecretKey reports whether fingerprint can sign.
func (k *Keychain) HasSecretKey(fingerprint uint32) bool {
	entry, ok := k.keys[fingerprint]
	return ok && entry.Kind == KindSecret
}

// AddPublicKey stores a watch-only BLS key, keyed by its fingerprint.
func (k *Keychain) AddPublicKey(fingerprint uint32, pk chain.PublicKey) error {
	if k.Contains(fingerprint) {
		return ErrKeyExists
	}
	k.keys[fingerprint] = Entry{Kind: KindPublic, MasterPublicKey: pk}
	return nil
}

// AddSecretKey seals secretKey (its raw 32-byte scalar, or mnemonic entropy
// if fromMnemonic is set) under password and stores it against fingerprint.
func (k *Keychain) AddSecretKey(fingerprint uint32, masterPublicKey chain.PublicKey, secretKey, password []byte, fromMnemonic bool) error {
	if k.Contains(fingerprint) {
		return ErrKeyExists
	}
	env, err := Seal(password, secretKey)
	if err != nil {
		return err
	}
	k.keys[fingerprint] = Entry{
		Kind:            KindSecret,
		MasterPublicKey: masterPublicKey,
		Encrypted:       env,
		FromMnemonic:    fromMnemonic,
	}
	return nil
}

// AddVault stores a vault wallet's launcher id.
func (k *Keychain) AddVault(fingerprint uint32, launcherID chain.Hash) error {
	if k.Contains(fingerprint) {
		return ErrKeyExists
	}
	k.keys[fingerprint] = Entry{Kind: KindVault, LauncherID: launcherID}
	return nil
}

// AddWatch stores a keyless watch-only wallet's explicit puzzle hash list.
func (k *Keychain) AddWatch(fingerprint uint32, puzzleHashes []chain.Hash) error {
	if k.Contains(fingerprint) {
		return ErrKeyExists
	}
	k.keys[fingerprint] = Entry{Kind: KindWatch, PuzzleHashes: puzzleHashes}
	return nil
}

// ExtractSecret decrypts fingerprint's secret key material under password.
func (k *Keychain) ExtractSecret(fingerprint uint32, password []byte) ([]byte, error) {
	entry, ok := k.keys[fingerprint]
	if !ok || entry.Kind != KindSecret {
		return nil, fmt.Errorf("keychain: fingerprint %d has no secret key", fingerprint)
	}
	return Open(entry.Encrypted, password)
}

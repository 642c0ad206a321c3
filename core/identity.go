package core

// Identity: Ed25519 HD wallets and did:key resolution for the mesh engine.
//
// Features
// --------
//   * Ed25519 key-pairs only (fast, deterministic, small signatures).
//   * Hierarchical Deterministic derivation (SLIP-0010 / BIP-32-like).
//   * BIP-39 mnemonic utilities (12-/24-word human recovery phrases).
//   * did:key derivation (multicodec ed25519-pub prefix + multibase base58btc)
//     in place of the 20-byte account address scheme.
//   * Envelope signing helper wired for protocol messages.
//
// Import hygiene: identity depends only on common + utility (crypto, log,
// bip39/multibase libs). It does not import the ledger, overlay or sandbox
// packages, to stay at the lowest tier.

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/multiformats/go-multibase"
	log "github.com/sirupsen/logrus"
	bip39 "github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/pbkdf2"
)

const (
	hardenedOffset uint32 = 0x80000000
	masterHMACKey         = "ed25519 seed" // SLIP-0010 master-key string
)

// multicodec varint prefix for ed25519-pub (0xed, 0x01), per the did:key spec.
var ed25519MulticodecPrefix = []byte{0xed, 0x01}

func SetWalletLogger(l *log.Logger) { globalLogger = l }

var globalLogger = log.New()

//---------------------------------------------------------------------
// HDWallet structure
//---------------------------------------------------------------------

// HDWallet keeps master key material in-memory only. Never persist the
// private fields directly — use a KeyStore instead.
//
// Derivation model: SLIP-0010 hardened children only, path m / account' /
// index' (ed25519 does not support unhardened children).
type HDWallet struct {
	seed        []byte
	masterKey   []byte
	masterChain []byte
	logger      *log.Logger
}

// Seed returns a copy of the wallet's master seed. Callers should securely
// wipe the returned slice after use.
func (w *HDWallet) Seed() []byte {
	out := make([]byte, len(w.seed))
	copy(out, w.seed)
	return out
}

//---------------------------------------------------------------------
// Wallet creation utilities
//---------------------------------------------------------------------

// NewRandomWallet generates entropyBits (128/256) of RNG entropy, returns
// wallet + mnemonic. The caller MUST wipe the mnemonic or store it securely.
func NewRandomWallet(entropyBits int) (*HDWallet, string, error) {
	if entropyBits != 128 && entropyBits != 256 {
		return nil, "", fmt.Errorf("unsupported entropy size %d", entropyBits)
	}

	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return nil, "", fmt.Errorf("entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", fmt.Errorf("mnemonic: %w", err)
	}
	seed := bip39.NewSeed(mnemonic, "")
	w, err := NewHDWalletFromSeed(seed, globalLogger)
	if err != nil {
		return nil, "", err
	}
	return w, mnemonic, nil
}

// WalletFromMnemonic imports an existing BIP-39 phrase.
func WalletFromMnemonic(mnemonic, passphrase string) (*HDWallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic checksum")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	return NewHDWalletFromSeed(seed, globalLogger)
}

func NewHDWalletFromSeed(seed []byte, lg *log.Logger) (*HDWallet, error) {
	if len(seed) < 16 {
		return nil, errors.New("seed too short")
	}

	I := hmacSHA512([]byte(masterHMACKey), seed)

	w := &HDWallet{
		seed:        seed,
		masterKey:   I[:32],
		masterChain: I[32:],
		logger:      lg,
	}

	lg.Infof("identity: master key initialised (%d bytes seed)", len(seed))
	return w, nil
}

//---------------------------------------------------------------------
// Derivation path helpers
//---------------------------------------------------------------------

// derivePrivate returns the key material & new chain-code for a (hardened)
// index. Only hardened derivation is supported for ed25519 — index MUST
// already carry the hardened offset.
func derivePrivate(parentKey, parentChain []byte, index uint32) (key, ccode []byte, err error) {
	if index < hardenedOffset {
		return nil, nil, errors.New("non-hardened derivation not supported for ed25519")
	}
	data := make([]byte, 1+32+4)
	copy(data[1:], parentKey)
	binary.BigEndian.PutUint32(data[33:], index)

	I := hmacSHA512(parentChain, data)
	key = I[:32]
	ccode = I[32:]
	return key, ccode, nil
}

func hmacSHA512(key, data []byte) []byte {
	h := hmac.New(sha512.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// PrivateKey returns the ed25519 key pair for derivation path
// m / account' / index'. account, index are hardened internally.
func (w *HDWallet) PrivateKey(account, index uint32) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	account |= hardenedOffset
	index |= hardenedOffset

	k1, c1, err := derivePrivate(w.masterKey, w.masterChain, account)
	if err != nil {
		return nil, nil, err
	}
	k2, _, err := derivePrivate(k1, c1, index)
	if err != nil {
		return nil, nil, err
	}
	priv := ed25519.NewKeyFromSeed(k2)
	pub := priv.Public().(ed25519.PublicKey)
	return priv, pub, nil
}

//---------------------------------------------------------------------
// did:key helpers
//---------------------------------------------------------------------

// PubKeyToDID encodes an ed25519 public key as a did:key identifier:
// "did:key:" + multibase(base58btc, multicodec(ed25519-pub) || pub).
func PubKeyToDID(pub ed25519.PublicKey) (DID, error) {
	buf := make([]byte, 0, len(ed25519MulticodecPrefix)+len(pub))
	buf = append(buf, ed25519MulticodecPrefix...)
	buf = append(buf, pub...)
	enc, err := multibase.Encode(multibase.Base58BTC, buf)
	if err != nil {
		return "", err
	}
	return DID("did:key:" + enc), nil
}

// DIDToPubKey reverses PubKeyToDID, extracting the ed25519 public key.
func DIDToPubKey(d DID) (ed25519.PublicKey, error) {
	const prefix = "did:key:"
	s := string(d)
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return nil, fmt.Errorf("identity: %q is not a did:key", s)
	}
	_, data, err := multibase.Decode(s[len(prefix):])
	if err != nil {
		return nil, fmt.Errorf("identity: multibase decode: %w", err)
	}
	if len(data) != len(ed25519MulticodecPrefix)+ed25519.PublicKeySize {
		return nil, errors.New("identity: unexpected did:key payload length")
	}
	if data[0] != ed25519MulticodecPrefix[0] || data[1] != ed25519MulticodecPrefix[1] {
		return nil, errors.New("identity: unsupported did:key codec")
	}
	return ed25519.PublicKey(data[len(ed25519MulticodecPrefix):]), nil
}

// NewDID derives account+index and returns its did:key identifier.
func (w *HDWallet) NewDID(account, index uint32) (DID, error) {
	_, pub, err := w.PrivateKey(account, index)
	if err != nil {
		return "", err
	}
	return PubKeyToDID(pub)
}

//---------------------------------------------------------------------
// Envelope signing
//---------------------------------------------------------------------

// Sign derives (account, index) key and returns a detached ed25519
// signature over digest.
func (w *HDWallet) Sign(account, index uint32, digest []byte) ([]byte, error) {
	priv, _, err := w.PrivateKey(account, index)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(priv, digest), nil
}

// VerifySignature checks sig against digest for the public key backing did.
func VerifySignature(did DID, digest, sig []byte) error {
	pub, err := DIDToPubKey(did)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, digest, sig) {
		return errors.New("identity: signature verification failed")
	}
	return nil
}

//---------------------------------------------------------------------
// Utility helpers
//---------------------------------------------------------------------

// RandomMnemonicEntropy produces cryptographically-secure random entropy of
// given bits.
func RandomMnemonicEntropy(bits int) ([]byte, error) {
	if bits%32 != 0 {
		return nil, errors.New("entropy bits must be multiple of 32")
	}
	b := make([]byte, bits/8)
	if _, err := crand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Wipe zeroes a byte slice in-place (best-effort — GC might still copy).
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

//---------------------------------------------------------------------
// KeyStore — where the wallet seed actually lives
//---------------------------------------------------------------------

// KeyStore abstracts seed persistence so production nodes can require an
// encrypted-at-rest backend while tests use an in-memory one.
type KeyStore interface {
	Load() (*HDWallet, error)
	Save(w *HDWallet) error
}

// MemoryKeyStore holds a wallet seed in process memory only, for tests.
// Nothing in this package stops it from being used in other builds.
type MemoryKeyStore struct {
	mu   sync.Mutex
	seed []byte
}

func NewMemoryKeyStore() *MemoryKeyStore { return &MemoryKeyStore{} }

func (m *MemoryKeyStore) Load() (*HDWallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seed == nil {
		return nil, errors.New("identity: memory keystore empty")
	}
	return NewHDWalletFromSeed(m.seed, globalLogger)
}

func (m *MemoryKeyStore) Save(w *HDWallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seed = w.Seed()
	return nil
}

// keystorePBKDF2Rounds is the PBKDF2-HMAC-SHA256 iteration count used to
// stretch the keystore passphrase into an AES-256 key.
const keystorePBKDF2Rounds = 150_000

// fileKeystoreJSON is the on-disk layout: PBKDF2-AES-256-GCM, fields
// hex-encoded.
type fileKeystoreJSON struct {
	Salt   string `json:"salt"`
	Nonce  string `json:"nonce"`
	Cipher string `json:"cipher"`
}

func deriveKeystoreKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, keystorePBKDF2Rounds, 32, sha256.New)
}

func encryptKeystoreSeed(seed []byte, passphrase string) (*fileKeystoreJSON, []byte, error) {
	salt := make([]byte, 16)
	if _, err := crand.Read(salt); err != nil {
		return nil, nil, err
	}
	key := deriveKeystoreKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := crand.Read(nonce); err != nil {
		return nil, nil, err
	}
	cipherText := gcm.Seal(nil, nonce, seed, nil)
	return &fileKeystoreJSON{
		Salt:   hex.EncodeToString(salt),
		Nonce:  hex.EncodeToString(nonce),
		Cipher: hex.EncodeToString(cipherText),
	}, key, nil
}

func decryptKeystoreSeed(ks *fileKeystoreJSON, passphrase string) ([]byte, []byte, error) {
	salt, err := hex.DecodeString(ks.Salt)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: keystore salt: %w", err)
	}
	nonce, err := hex.DecodeString(ks.Nonce)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: keystore nonce: %w", err)
	}
	cipherText, err := hex.DecodeString(ks.Cipher)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: keystore cipher: %w", err)
	}
	key := deriveKeystoreKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	seed, err := gcm.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: keystore decrypt: %w", err)
	}
	return seed, key, nil
}

// FileKeyStore persists the wallet seed to a single file, encrypted at rest
// with AES-256-GCM under a PBKDF2-derived key, in the layout and cipher the
// CLI wallet store uses. The Passphrase never touches disk; only the
// derived key is cached, and only until Close zeroes it.
type FileKeyStore struct {
	Path       string
	Passphrase string

	mu  sync.Mutex
	key []byte
}

func NewFileKeyStore(path, passphrase string) *FileKeyStore {
	return &FileKeyStore{Path: path, Passphrase: passphrase}
}

func (f *FileKeyStore) Load() (*HDWallet, error) {
	if f.Passphrase == "" {
		return nil, errors.New("identity: keystore passphrase required")
	}
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("identity: read keystore: %w", err)
	}
	var ks fileKeystoreJSON
	if err := json.Unmarshal(b, &ks); err != nil {
		return nil, fmt.Errorf("identity: parse keystore: %w", err)
	}
	seed, key, err := decryptKeystoreSeed(&ks, f.Passphrase)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	Wipe(f.key)
	f.key = key
	f.mu.Unlock()
	return NewHDWalletFromSeed(seed, globalLogger)
}

func (f *FileKeyStore) Save(w *HDWallet) error {
	if f.Passphrase == "" {
		return errors.New("identity: keystore passphrase required")
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	seed := w.Seed()
	defer Wipe(seed)
	ks, key, err := encryptKeystoreSeed(seed, f.Passphrase)
	if err != nil {
		return err
	}
	f.mu.Lock()
	Wipe(f.key)
	f.key = key
	f.mu.Unlock()
	out, err := json.Marshal(ks)
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, out, 0o600)
}

// Close zeroes the keystore's cached PBKDF2-derived key.
func (f *FileKeyStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	Wipe(f.key)
	f.key = nil
	return nil
}

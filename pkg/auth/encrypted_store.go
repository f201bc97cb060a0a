package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// PassphraseEnv overrides the generated passphrase of the encrypted store.
const PassphraseEnv = "THREADCRAWL_PASSPHRASE"

const (
	vaultVersion   = 2
	saltSize       = 32
	keySize        = 32
	kdfIterations  = 100000
	passphraseFile = ".passphrase"
)

// ErrWrongPassphrase is returned when a sealed record cannot be opened.
var ErrWrongPassphrase = errors.New("credential vault cannot be opened with this passphrase")

// vault is the on-disk form of the encrypted store. Application and user
// names stay readable so accounts can be listed; the client secret and the
// password of each account are sealed with AES-GCM under a key derived
// from the passphrase.
type vault struct {
	Version    int                    `json:"version"`
	Salt       string                 `json:"salt"`
	Iterations int                    `json:"iterations"`
	Accounts   map[string]vaultRecord `json:"accounts"`
}

type vaultRecord struct {
	ClientID  string    `json:"client_id"`
	Username  string    `json:"username"`
	UserAgent string    `json:"user_agent,omitempty"`
	Modified  time.Time `json:"modified"`
	Sealed    string    `json:"sealed"`
}

type secrets struct {
	ClientSecret string `json:"client_secret"`
	Password     string `json:"password"`
}

// EncryptedFileStore keeps accounts in a passphrase protected vault file.
type EncryptedFileStore struct {
	path       string
	passphrase string

	mu sync.RWMutex

	keyMu sync.Mutex
	// keys caches derived keys by salt.
	keys map[string][]byte
}

// NewEncryptedFileStore opens the vault at path. The passphrase comes from
// THREADCRAWL_PASSPHRASE or a generated file next to the user config.
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	passphrase, err := loadPassphrase()
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}
	return &EncryptedFileStore{path: path, passphrase: passphrase, keys: make(map[string][]byte)}, nil
}

func (e *EncryptedFileStore) Store(account *Account) error {
	if account == nil || account.Name == "" {
		return ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.read()
	switch {
	case os.IsNotExist(err):
		if v, err = e.newVault(); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		// refuse to mix records sealed under different passphrases
		if err := e.checkPassphrase(v); err != nil {
			return err
		}
	}

	rec, err := e.seal(v, account)
	if err != nil {
		return err
	}
	v.Accounts[account.Name] = rec
	return e.write(v)
}

func (e *EncryptedFileStore) Retrieve(name string) (*Account, error) {
	if name == "" {
		return nil, ErrInvalidCredentials
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	v, err := e.read()
	if os.IsNotExist(err) {
		return nil, ErrCredentialsNotFound
	}
	if err != nil {
		return nil, err
	}
	rec, ok := v.Accounts[name]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return e.open(v, name, rec)
}

// List returns every account in name order.
func (e *EncryptedFileStore) List() ([]*Account, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v, err := e.read()
	if os.IsNotExist(err) {
		return []*Account{}, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(v.Accounts))
	for name := range v.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)

	accounts := make([]*Account, 0, len(names))
	for _, name := range names {
		account, err := e.open(v, name, v.Accounts[name])
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// Delete removes an account. The vault file goes away with its last one.
func (e *EncryptedFileStore) Delete(name string) error {
	if name == "" {
		return ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.read()
	if os.IsNotExist(err) {
		return ErrCredentialsNotFound
	}
	if err != nil {
		return err
	}
	if _, ok := v.Accounts[name]; !ok {
		return ErrCredentialsNotFound
	}

	delete(v.Accounts, name)
	if len(v.Accounts) == 0 {
		return os.Remove(e.path)
	}
	return e.write(v)
}

func (e *EncryptedFileStore) Exists(name string) bool {
	account, err := e.Retrieve(name)
	return err == nil && account != nil
}

func (e *EncryptedFileStore) newVault() (*vault, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return &vault{
		Version:    vaultVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Iterations: kdfIterations,
		Accounts:   make(map[string]vaultRecord),
	}, nil
}

func (e *EncryptedFileStore) read() (*vault, error) {
	content, err := os.ReadFile(e.path)
	if err != nil {
		return nil, err
	}
	var v vault
	if err := json.Unmarshal(content, &v); err != nil {
		return nil, fmt.Errorf("failed to parse credential vault: %w", err)
	}
	if v.Version != vaultVersion {
		return nil, fmt.Errorf("unsupported credential vault version %d", v.Version)
	}
	if v.Accounts == nil {
		v.Accounts = make(map[string]vaultRecord)
	}
	return &v, nil
}

func (e *EncryptedFileStore) write(v *vault) error {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credential vault: %w", err)
	}
	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0600); err != nil {
		return fmt.Errorf("failed to write credential vault: %w", err)
	}
	return os.Rename(tmp, e.path)
}

func (e *EncryptedFileStore) checkPassphrase(v *vault) error {
	for name, rec := range v.Accounts {
		_, err := e.open(v, name, rec)
		return err
	}
	return nil
}

// aead returns the cipher for the vault's salt, deriving the key once.
func (e *EncryptedFileStore) aead(v *vault) (cipher.AEAD, error) {
	e.keyMu.Lock()
	defer e.keyMu.Unlock()

	key, ok := e.keys[v.Salt]
	if !ok {
		salt, err := base64.StdEncoding.DecodeString(v.Salt)
		if err != nil {
			return nil, fmt.Errorf("failed to decode salt: %w", err)
		}
		iterations := v.Iterations
		if iterations <= 0 {
			iterations = kdfIterations
		}
		key = pbkdf2.Key([]byte(e.passphrase), salt, iterations, keySize, sha256.New)
		e.keys[v.Salt] = key
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// recordAAD binds a sealed record to the account it belongs to.
func recordAAD(name, clientID, username string) []byte {
	return []byte(name + "\x00" + clientID + "\x00" + username)
}

func (e *EncryptedFileStore) seal(v *vault, a *Account) (vaultRecord, error) {
	gcm, err := e.aead(v)
	if err != nil {
		return vaultRecord{}, err
	}
	plain, err := json.Marshal(secrets{ClientSecret: a.ClientSecret, Password: a.Password})
	if err != nil {
		return vaultRecord{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return vaultRecord{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plain, recordAAD(a.Name, a.ClientID, a.Username))

	modified := a.LastModified
	if modified.IsZero() {
		modified = time.Now()
	}
	return vaultRecord{
		ClientID:  a.ClientID,
		Username:  a.Username,
		UserAgent: a.UserAgent,
		Modified:  modified,
		Sealed:    base64.StdEncoding.EncodeToString(sealed),
	}, nil
}

func (e *EncryptedFileStore) open(v *vault, name string, rec vaultRecord) (*Account, error) {
	gcm, err := e.aead(v)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(rec.Sealed)
	if err != nil || len(raw) < gcm.NonceSize() {
		return nil, fmt.Errorf("account %s: corrupt sealed record", name)
	}
	nonce, body := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, body, recordAAD(name, rec.ClientID, rec.Username))
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", name, ErrWrongPassphrase)
	}
	var s secrets
	if err := json.Unmarshal(plain, &s); err != nil {
		return nil, fmt.Errorf("account %s: %w", name, err)
	}
	return &Account{
		Name:         name,
		ClientID:     rec.ClientID,
		ClientSecret: s.ClientSecret,
		Username:     rec.Username,
		Password:     s.Password,
		UserAgent:    rec.UserAgent,
		LastModified: rec.Modified,
	}, nil
}

// loadPassphrase reads THREADCRAWL_PASSPHRASE, then the passphrase file in
// the config directory, and creates that file on first use.
func loadPassphrase() (string, error) {
	if pass := os.Getenv(PassphraseEnv); pass != "" {
		return pass, nil
	}
	configDir, err := getConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(configDir, passphraseFile)
	if content, err := os.ReadFile(path); err == nil && len(content) > 0 {
		return string(content), nil
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	passphrase := base64.URLEncoding.EncodeToString(b)
	if err := os.WriteFile(path, []byte(passphrase), 0600); err != nil {
		return "", fmt.Errorf("failed to save passphrase: %w", err)
	}
	return passphrase, nil
}

package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testAccount(name string) *Account {
	return &Account{
		Name:         name,
		ClientID:     "client_id_12345",
		ClientSecret: "client_secret_67890",
		Username:     "crawler_bot",
		Password:     "hunter2hunter2",
		UserAgent:    "TestAgent/1.0",
	}
}

func TestCredentialManager(t *testing.T) {
	manager, mockStore := NewMockManager()

	account := testAccount("research")
	if err := manager.Store(account); err != nil {
		t.Errorf("Failed to store account: %v", err)
	}

	retrieved, err := manager.Retrieve("research")
	if err != nil {
		t.Fatalf("Failed to retrieve account: %v", err)
	}
	if retrieved.ClientID != account.ClientID {
		t.Errorf("ClientID mismatch: got %s, want %s", retrieved.ClientID, account.ClientID)
	}
	if retrieved.Password != account.Password {
		t.Errorf("Password mismatch: got %s, want %s", retrieved.Password, account.Password)
	}
	if retrieved.LastModified.IsZero() {
		t.Error("LastModified should be set on store")
	}

	accounts, err := manager.List()
	if err != nil {
		t.Errorf("Failed to list accounts: %v", err)
	}
	if len(accounts) != 1 {
		t.Errorf("Expected 1 account in list, got %d", len(accounts))
	}

	if err := manager.Delete("research"); err != nil {
		t.Errorf("Failed to delete account: %v", err)
	}
	if _, err := manager.Retrieve("research"); err == nil {
		t.Error("Expected error retrieving deleted account")
	}
	if mockStore.Count() != 0 {
		t.Errorf("Expected 0 accounts after deletion, got %d", mockStore.Count())
	}
}

func TestManagerStoreDefaultsNameToUsername(t *testing.T) {
	manager, mockStore := NewMockManager()

	account := testAccount("")
	if err := manager.Store(account); err != nil {
		t.Fatalf("Failed to store account: %v", err)
	}
	if !mockStore.Exists("crawler_bot") {
		t.Error("Account should be stored under its username")
	}
}

func TestManagerStoreValidation(t *testing.T) {
	manager, _ := NewMockManager()

	tests := []struct {
		name   string
		mutate func(*Account)
	}{
		{"missing client id", func(a *Account) { a.ClientID = "" }},
		{"missing secret", func(a *Account) { a.ClientSecret = "" }},
		{"missing username", func(a *Account) { a.Username = "" }},
		{"missing password", func(a *Account) { a.Password = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testAccount("x")
			tt.mutate(a)
			if err := manager.Store(a); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestManagerListNewestFirst(t *testing.T) {
	store := NewMockStore()
	older := testAccount("older")
	older.LastModified = time.Now().Add(-time.Hour)
	newer := testAccount("newer")
	newer.LastModified = time.Now()
	_ = store.Store(older)
	_ = store.Store(newer)

	manager := NewManagerWithStores(store)
	def, err := manager.RetrieveDefault()
	if err != nil {
		t.Fatalf("RetrieveDefault failed: %v", err)
	}
	if def.Name != "newer" {
		t.Errorf("Expected newest account, got %s", def.Name)
	}
}

func TestSanitizeAccount(t *testing.T) {
	account := testAccount("research")
	sanitized := SanitizeAccount(account)

	if sanitized.ClientSecret == account.ClientSecret {
		t.Error("ClientSecret should be masked")
	}
	if sanitized.Password == account.Password {
		t.Error("Password should be masked")
	}
	if sanitized.Username != account.Username {
		t.Error("Username should not be masked")
	}
	if got := maskString("short"); got != "********" {
		t.Errorf("maskString(short) = %s", got)
	}
	if got := maskString("client_secret_67890"); got != "clie...7890" {
		t.Errorf("maskString = %s", got)
	}
}

func TestEncryptedFileStore(t *testing.T) {
	tempFile := filepath.Join(t.TempDir(), "creds.enc")
	t.Setenv(PassphraseEnv, "test_passphrase_123")

	store, err := NewEncryptedFileStore(tempFile)
	if err != nil {
		t.Fatalf("Failed to create encrypted store: %v", err)
	}

	account := testAccount("encrypted")
	if err := store.Store(account); err != nil {
		t.Errorf("Failed to store in encrypted file: %v", err)
	}

	retrieved, err := store.Retrieve("encrypted")
	if err != nil {
		t.Fatalf("Failed to retrieve from encrypted file: %v", err)
	}
	if retrieved.ClientSecret != account.ClientSecret {
		t.Errorf("ClientSecret mismatch after encryption/decryption")
	}

	fileContent, err := os.ReadFile(tempFile)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(fileContent, []byte("client_secret_67890")) {
		t.Error("File contains plaintext client secret")
	}
	if bytes.Contains(fileContent, []byte("hunter2hunter2")) {
		t.Error("File contains plaintext password")
	}

	// a different passphrase cannot read the file
	t.Setenv(PassphraseEnv, "other")
	other, err := NewEncryptedFileStore(tempFile)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Retrieve("encrypted"); err == nil {
		t.Error("Expected decryption failure with wrong passphrase")
	}

	t.Setenv(PassphraseEnv, "test_passphrase_123")
	if err := store.Delete("encrypted"); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
	if _, err := os.Stat(tempFile); !os.IsNotExist(err) {
		t.Error("File should be removed once empty")
	}
}

func TestEncryptedFileStoreVault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.enc")
	t.Setenv(PassphraseEnv, "vault_passphrase")

	store, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"zeta", "alpha"} {
		if err := store.Store(testAccount(name)); err != nil {
			t.Fatalf("Store(%s): %v", name, err)
		}
	}

	accounts, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 2 || accounts[0].Name != "alpha" || accounts[1].Name != "zeta" {
		t.Fatalf("List() = %v, want alpha and zeta in order", accounts)
	}
	if accounts[0].ClientSecret != "client_secret_67890" || accounts[0].Password != "hunter2hunter2" {
		t.Error("List() did not open the sealed secrets")
	}

	// application and user names stay readable
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(content, []byte("client_id_12345")) || !bytes.Contains(content, []byte("crawler_bot")) {
		t.Error("vault should keep client id and username readable")
	}

	// another passphrase may not add records to this vault
	t.Setenv(PassphraseEnv, "intruder")
	other, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := other.Store(testAccount("mallory")); !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("Store with wrong passphrase: got %v, want ErrWrongPassphrase", err)
	}

	// a record moved to another client id no longer opens
	var v vault
	if err := json.Unmarshal(content, &v); err != nil {
		t.Fatal(err)
	}
	rec := v.Accounts["alpha"]
	rec.ClientID = "swapped"
	v.Accounts["alpha"] = rec
	tampered, _ := json.Marshal(v)
	if err := os.WriteFile(path, tampered, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Retrieve("alpha"); !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("Retrieve of tampered record: got %v, want ErrWrongPassphrase", err)
	}
	if _, err := store.Retrieve("zeta"); err != nil {
		t.Errorf("untouched record should still open: %v", err)
	}
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv("REDDIT_CLIENTID", "legacy_id")
	t.Setenv("THREADCRAWL_CLIENT_SECRET", "env_secret")
	t.Setenv("THREADCRAWL_USERNAME", "env_user")
	t.Setenv("THREADCRAWL_PASSWORD", "env_pass")

	store := NewEnvironmentStore()

	account, err := store.Retrieve("")
	if err != nil {
		t.Fatalf("Failed to retrieve from environment: %v", err)
	}
	if account.ClientID != "legacy_id" {
		t.Errorf("ClientID mismatch: got %s, want legacy_id", account.ClientID)
	}
	if account.Name != "env" {
		t.Errorf("Name = %s, want env", account.Name)
	}
	if !store.Exists("") {
		t.Error("Exists should report environment credentials")
	}

	if err := store.Store(&Account{}); err != ErrStoreUnavailable {
		t.Error("Expected ErrStoreUnavailable for environment store")
	}

	t.Setenv("THREADCRAWL_PASSWORD", "")
	t.Setenv("REDDIT_PASSWORD", "")
	if _, err := store.Retrieve(""); err != ErrCredentialsNotFound {
		t.Errorf("Expected ErrCredentialsNotFound with partial environment, got %v", err)
	}
}

func TestManagerWithEncryptedStore(t *testing.T) {
	t.Setenv(PassphraseEnv, "test_passphrase_real_manager")

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(t.TempDir(), "credentials.enc"))
	if err != nil {
		t.Fatalf("Failed to create encrypted store: %v", err)
	}
	manager := NewManagerWithStores(encryptedStore, NewEnvironmentStore())

	if err := manager.Store(testAccount("real")); err != nil {
		t.Fatalf("Failed to store account: %v", err)
	}

	retrieved, err := manager.Retrieve("real")
	if err != nil {
		t.Fatalf("Failed to retrieve account: %v", err)
	}
	if retrieved.Username != "crawler_bot" {
		t.Errorf("Username mismatch: got %s", retrieved.Username)
	}
}

func TestMockStore(t *testing.T) {
	store := NewMockStore()

	accounts, err := store.List()
	if err != nil {
		t.Errorf("Failed to list empty store: %v", err)
	}
	if len(accounts) != 0 {
		t.Errorf("Expected 0 accounts, got %d", len(accounts))
	}

	if err := store.Store(testAccount("mock")); err != nil {
		t.Errorf("Failed to store account: %v", err)
	}
	if store.Count() != 1 {
		t.Errorf("Expected 1 account, got %d", store.Count())
	}
	if !store.Exists("mock") {
		t.Error("Account should exist")
	}

	store.ListError = fmt.Errorf("injected error")
	if _, err := store.List(); err == nil || err.Error() != "injected error" {
		t.Error("Expected injected error")
	}
}

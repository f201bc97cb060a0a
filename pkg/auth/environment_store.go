package auth

import (
	"os"
	"time"
)

// Environment variables read by EnvironmentStore. The unprefixed REDDIT_*
// names are accepted as fallbacks.
var envKeys = struct {
	clientID, clientSecret, username, password, userAgent []string
}{
	clientID:     []string{"THREADCRAWL_CLIENT_ID", "REDDIT_CLIENTID"},
	clientSecret: []string{"THREADCRAWL_CLIENT_SECRET", "REDDIT_SECRET"},
	username:     []string{"THREADCRAWL_USERNAME", "REDDIT_USERNAME"},
	password:     []string{"THREADCRAWL_PASSWORD", "REDDIT_PASSWORD"},
	userAgent:    []string{"THREADCRAWL_USER_AGENT"},
}

func firstEnv(keys []string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// EnvironmentStore is a read-only CredentialStore backed by environment
// variables.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve builds an account from the environment. The name is only used
// as the label of the returned account.
func (e *EnvironmentStore) Retrieve(name string) (*Account, error) {
	account := &Account{
		ClientID:     firstEnv(envKeys.clientID),
		ClientSecret: firstEnv(envKeys.clientSecret),
		Username:     firstEnv(envKeys.username),
		Password:     firstEnv(envKeys.password),
		UserAgent:    firstEnv(envKeys.userAgent),
		LastModified: time.Now(),
	}
	if account.Validate() != nil {
		return nil, ErrCredentialsNotFound
	}

	account.Name = name
	if account.Name == "" {
		account.Name = "env"
	}
	return account, nil
}

// List returns a single account if environment variables are set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(name string) bool {
	_, err := e.Retrieve(name)
	return err == nil
}

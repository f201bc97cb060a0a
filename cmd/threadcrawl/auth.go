package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"threadcrawl/pkg/auth"
	"threadcrawl/pkg/logger"
	"threadcrawl/pkg/reddit"
	"threadcrawl/pkg/ui"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage API credentials",
	Long: `Manage stored API application credentials securely.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (THREADCRAWL_CLIENT_ID and friends, read-only)

Never share your credentials or config files!`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [name]",
	Short: "Store API credentials securely",
	Long: `Store the credentials of a 'script' application in the system keychain or
an encrypted file.

You will be prompted for:
  - Client ID and client secret of the application
  - Username and password of the account the application acts for
  - User Agent (optional, press Enter for the default)`,
	Example: `  # Interactive login
  threadcrawl auth login

  # Store under a name
  threadcrawl auth login research`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout [name]",
	Short: "Remove stored credentials",
	Long: `Remove stored credentials.

If no name is provided, you will be shown a list of stored accounts to
choose from.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogout,
}

// listCmd represents the auth list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored accounts",
	Long:  `List all stored accounts with sanitized credential information.`,
	Args:  cobra.NoArgs,
	RunE:  runList,
}

// statusCmd represents the auth status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check that the active credentials obtain a token",
	Long: `Resolve the credentials a crawl would use and request a bearer token with
them. The token is cached like during a crawl. Token calls do not count
against the request quota.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)
	authCmd.AddCommand(statusCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)

	auth.ShowAppRegistrationGuide()

	name := ""
	if len(args) > 0 {
		name = strings.TrimSpace(args[0])
	}

	account := &auth.Account{}
	if account.ClientID, err = prompt(reader, "🔑 Client ID: "); err != nil {
		return err
	}
	fmt.Print("🔒 Client secret (hidden): ")
	if account.ClientSecret, err = readPassword(reader); err != nil {
		return fmt.Errorf("failed to read client secret: %w", err)
	}
	if account.Username, err = prompt(reader, "👤 Username: "); err != nil {
		return err
	}
	fmt.Print("🔒 Password (hidden): ")
	if account.Password, err = readPassword(reader); err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if account.UserAgent, err = prompt(reader, "🌐 User Agent (press Enter to use default): "); err != nil {
		return err
	}

	if name == "" {
		name = account.Username
	}
	account.Name = name
	account.LastModified = time.Now()

	if err := account.Validate(); err != nil {
		return err
	}

	if existing, _ := manager.Retrieve(name); existing != nil {
		answer, _ := prompt(reader, fmt.Sprintf("\n⚠️  Account '%s' already exists. Update credentials? (y/N): ", name))
		if !strings.HasPrefix(strings.ToLower(answer), "y") {
			return nil
		}
	}

	fmt.Println("\n📋 Summary:")
	sanitized := auth.SanitizeAccount(account)
	fmt.Printf("   Name: %s\n", sanitized.Name)
	fmt.Printf("   Client ID: %s\n", sanitized.ClientID)
	fmt.Printf("   Username: %s\n", sanitized.Username)

	if err := manager.Store(account); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	ui.PrintSuccess(fmt.Sprintf("Account saved: %s", name))
	fmt.Println("\n📖 Next steps:")
	fmt.Println("   $ threadcrawl auth status")
	fmt.Printf("   $ threadcrawl crawl golang --mode count --count 100 --account %s\n", name)
	fmt.Println("\n⚠️  Never share your credentials or config files!")
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	name := ""
	if len(args) > 0 {
		name = args[0]
	} else {
		accounts, err := manager.List()
		if err != nil || len(accounts) == 0 {
			ui.PrintWarning("No stored accounts found")
			return nil
		}

		fmt.Println("Select account to remove:")
		for i, account := range accounts {
			fmt.Printf("  %d. %s (%s)\n", i+1, account.Name, account.Username)
		}
		fmt.Printf("  0. Cancel\n\n")

		reader := bufio.NewReader(os.Stdin)
		input, _ := prompt(reader, "Choice: ")
		var choice int
		fmt.Sscanf(input, "%d", &choice)

		if choice == 0 {
			return nil
		}
		if choice < 0 || choice > len(accounts) {
			return fmt.Errorf("invalid choice %q", input)
		}
		name = accounts[choice-1].Name
	}

	if err := manager.Delete(name); err != nil {
		return fmt.Errorf("failed to remove account: %w", err)
	}
	ui.PrintSuccess("Account removed: " + name)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	accounts, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	if len(accounts) == 0 {
		ui.PrintInfo("No stored accounts", "Use 'threadcrawl auth login' to add an account")
		return nil
	}

	ui.PrintHighlight("Stored Accounts")
	fmt.Println()

	for i, account := range accounts {
		sanitized := auth.SanitizeAccount(account)
		fmt.Printf("%d. %s\n", i+1, sanitized.Name)
		fmt.Printf("   Username: %s\n", sanitized.Username)
		fmt.Printf("   Client ID: %s\n", sanitized.ClientID)
		if sanitized.UserAgent != "" {
			fmt.Printf("   User Agent: %s\n", sanitized.UserAgent)
		}
		if !sanitized.LastModified.IsZero() {
			fmt.Printf("   Last Modified: %s\n", sanitized.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}

	account, err := resolveAccount(cfg)
	if err != nil {
		return err
	}
	if err := account.Validate(); err != nil {
		return err
	}

	httpClient, err := reddit.NewHTTPClient(cfg.Reddit.Timeout, cfg.Reddit.ProxyURL)
	if err != nil {
		return err
	}
	session := auth.NewSession(account,
		auth.WithTokenURL(cfg.Reddit.TokenURL),
		auth.WithTokenCache(cfg.Auth.TokenCache),
		auth.WithRefreshMargin(cfg.Auth.RefreshMargin),
		auth.WithHTTPClient(httpClient),
		auth.WithSessionLogger(logger.GetLogger()),
	)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Reddit.Timeout)
	defer cancel()
	if _, err := session.Headers(ctx); err != nil {
		return err
	}

	ui.PrintInfo("Account", account.Name)
	ui.PrintInfo("Username", account.Username)
	ui.PrintInfo("Token expires", session.ExpiresAt().Format(time.RFC3339))
	ui.PrintSuccess("Credentials are valid")
	return nil
}

func prompt(reader *bufio.Reader, label string) (string, error) {
	fmt.Print(label)
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(input), nil
}

// readPassword reads a secret from stdin without echoing when stdin is a
// terminal.
func readPassword(reader *bufio.Reader) (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(password)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

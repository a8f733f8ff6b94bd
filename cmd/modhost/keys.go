package main

import (
	"fmt"
	"time"

	"github.com/artpar/modhost/adapters/auth"
	"github.com/artpar/modhost/config"
	"github.com/artpar/modhost/core/module"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
	Long: `Manage modhost API keys.

Keys are stored in the configuration as bcrypt hashes. The key itself is
printed once and never stored.

Examples:
  modhost keys create ci --role=admin`,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysCreate,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token",
	Long: `Issue a bearer token signed with auth.jwt_secret.

Examples:
  modhost token --user=u1 --name=ana --role=editor --ttl=1h`,
	RunE: runToken,
}

var (
	keyRole   string
	keyCost   int
	tokenUser string
	tokenName string
	tokenRole string
	tokenTTL  time.Duration
)

func init() {
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(tokenCmd)

	keysCmd.AddCommand(keysCreateCmd)

	keysCreateCmd.Flags().StringVar(&keyRole, "role", "editor", "role granted to the key")
	keysCreateCmd.Flags().IntVar(&keyCost, "cost", bcrypt.DefaultCost, "bcrypt cost")

	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id (required)")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "editor", "role")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default: auth.token_ttl)")
	tokenCmd.MarkFlagRequired("user")
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	key, hash, err := auth.GenerateKey(args[0], keyCost)
	if err != nil {
		return err
	}

	fmt.Printf("%s Created API key %s\n\n", checkMark, args[0])
	fmt.Printf("Key (shown once): %s\n\n", key)
	fmt.Println("Add to your configuration:")
	fmt.Println("auth:")
	fmt.Println("  keys:")
	fmt.Printf("    - name: %s\n", args[0])
	fmt.Printf("      role: %s\n", keyRole)
	fmt.Printf("      hash: %q\n", hash)
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not set, a token would not validate on the server")
	}

	ttl := tokenTTL
	if ttl == 0 {
		ttl = cfg.Auth.TokenTTL
	}

	tokens := auth.NewTokens(cfg.Auth.JWTSecret, ttl)
	token, expires, err := tokens.Issue(module.User{ID: tokenUser, Name: tokenName, Role: tokenRole})
	if err != nil {
		return err
	}

	fmt.Println(token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
	return nil
}

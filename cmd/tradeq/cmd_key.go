package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tradeq/internal/secrets"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage credentials stored in the OS keychain",
	Long: `Credentials are looked up in the environment first and then in the OS
keychain under the same name, e.g. OPENAI_API_KEY or MONGODB_URI.`,
}

var keySetCmd = &cobra.Command{
	Use:     "set NAME",
	Short:   "Store a credential read from stdin",
	Example: `  printf '%s' "$OPENAI_API_KEY" | tradeq key set OPENAI_API_KEY`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := secrets.Open()
		if err != nil {
			return err
		}
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read secret from stdin: %w", err)
		}
		if err := keys.Set(args[0], strings.TrimSpace(line)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", args[0])
		return nil
	},
}

var keyDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Remove a credential from the keychain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := secrets.Open()
		if err != nil {
			return err
		}
		if err := keys.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

func init() {
	keyCmd.AddCommand(keySetCmd, keyDeleteCmd)
}

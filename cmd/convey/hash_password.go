package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/artpar/convey/adapters/hasher"
	"github.com/spf13/cobra"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Hash a password for admin.password_hash",
	Long: `Print the bcrypt hash of a password for use as admin.password_hash or
CONVEY_ADMIN_PASSWORD_HASH. The password is read from stdin when not given
as an argument.

Examples:
  convey hash-password s3cret
  echo s3cret | convey hash-password`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHashPassword,
}

var hashCost int

func init() {
	rootCmd.AddCommand(hashPasswordCmd)

	hashPasswordCmd.Flags().IntVar(&hashCost, "cost", 0, "bcrypt cost (default 10)")
}

func runHashPassword(cmd *cobra.Command, args []string) error {
	var password string
	if len(args) == 1 {
		password = args[0]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return errors.New("no password given")
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return errors.New("password must not be empty")
	}

	hash, err := hasher.NewBcrypt(hashCost).Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(hash))
	return nil
}

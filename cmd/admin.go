package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative helpers",
}

var adminHashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash a password for ADMIN_PASSWORD_HASH",
	Long: `Reads a password from the terminal (or one line from stdin when piped)
and prints its bcrypt hash for the ADMIN_PASSWORD_HASH variable.`,
	Args: cobra.NoArgs,
	RunE: runAdminHashPassword,
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminHashPasswordCmd)

	adminHashPasswordCmd.Flags().Int("cost", bcrypt.DefaultCost, "bcrypt cost")
}

// readPassword prompts twice on a terminal, or reads one line from a pipe.
func readPassword(in *os.File, prompt io.Writer) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(prompt, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	fmt.Fprint(prompt, "Repeat password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

func runAdminHashPassword(cmd *cobra.Command, args []string) error {
	cost := mustGetInt(cmd, "cost")

	password, err := readPassword(os.Stdin, os.Stderr)
	if err != nil {
		return err
	}
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	fmt.Println(string(hash))
	return nil
}

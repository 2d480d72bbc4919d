package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mahaj/venue-support/pkg/session"
)

func init() {
	loginCmd.Flags().StringP("password", "p", "", "password (prompted when omitted)")
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Sign in and remember the session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		defer e.close()

		reader := bufio.NewReader(cmd.InOrStdin())
		username := ""
		if len(args) == 1 {
			username = args[0]
		} else {
			fmt.Fprint(cmd.OutOrStdout(), "Username: ")
			if username, err = readLine(reader); err != nil {
				return fmt.Errorf("failed to read username: %w", err)
			}
		}

		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			fmt.Fprint(cmd.OutOrStdout(), "Password: ")
			if password, err = readPassword(reader); err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout())
		}

		s, err := e.sessions.Login(cmd.Context(), e.api, username, password)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s).\n", s.Username, s.Role)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		defer e.close()

		e.sessions.Clear()
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		defer e.close()

		s, err := e.sessions.Hydrate(cmd.Context(), e.api)
		if errors.Is(err, session.ErrNoToken) {
			fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (id %s, %s)\n", s.Username, s.UserID, s.Role)
		return nil
	},
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readPassword masks input on a terminal and reads a plain line otherwise.
func readPassword(r *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"rememberme/cmd/identity"
	"rememberme/cmd/internal/app"

	"github.com/spf13/cobra"
)

var (
	version  = "dev"
	revision = "none"
	date     = "unknown"
)

func main() {
	c := &cobra.Command{
		Use:          "rememberd",
		Short:        "Persistent login (remember-me) server",
		Version:      fmt.Sprintf("%s - build %.7s @ %s", version, revision, date),
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         serveCmd.RunE,
	}
	c.AddCommand(serveCmd)
	c.AddCommand(migrateCmd)
	c.AddCommand(sweepCmd)
	c.AddCommand(useraddCmd)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := c.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}

// withApp wires an App from the environment and closes it after fn.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Run(ctx)
			})
		},
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := a.Migrate(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", v)
				return nil
			})
		},
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired remember-me tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			model, _ := cmd.Flags().GetString("model")
			owner, _ := cmd.Flags().GetString("owner")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Sweep(ctx, model, owner)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d expired token(s) removed\n", n)
				return nil
			})
		},
	}

	useraddCmd = &cobra.Command{
		Use:   "useradd",
		Short: "Create a user (use --password - to read it from stdin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			in := identity.CreateUserInput{Now: time.Now().UTC()}
			in.Username, _ = flags.GetString("username")
			in.Email, _ = flags.GetString("email")
			in.DisplayName, _ = flags.GetString("display-name")

			pw, _ := flags.GetString("password")
			if pw == "-" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				pw = strings.TrimRight(line, "\r\n")
			}
			if pw == "" {
				return errors.New("useradd: --password is required")
			}
			in.Password = pw

			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rec, err := a.UserAdd(ctx, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s %s\n", rec.Model, rec.ID)
				return nil
			})
		},
	}
)

func init() {
	sweepCmd.Flags().String("model", "", "only sweep tokens of this owner model")
	sweepCmd.Flags().String("owner", "", "only sweep tokens of this owner id (needs --model)")

	useraddCmd.Flags().String("username", "", "login username")
	useraddCmd.Flags().String("email", "", "login email")
	useraddCmd.Flags().String("display-name", "", "display name")
	useraddCmd.Flags().String("password", "", "password, or - to read from stdin")
}

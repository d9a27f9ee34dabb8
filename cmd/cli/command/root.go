package command

// root.go defines the root command for pkthubctl and its global flags.

import (
	"context"
	"fmt"
	"os"
	"time"

	"pkthub/pkg/client"

	"github.com/spf13/cobra"
)

var (
	serverAddr string        // protocol server address
	timeout    time.Duration // per-command deadline
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pkthubctl",
	Short: "pkthubctl - pkthub command line tool",
	Long: `pkthubctl talks to a pkthub server over its packet protocol and manages
the accounts it authenticates against. Use it to:
- Create user accounts
- Log in and obtain a session token
- Show the authenticated user
- Watch for server notices

Use "pkthubctl command --help" to see all available commands.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8081", "protocol server address")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "deadline for each command")
}

func dial(ctx context.Context) (*client.Client, error) {
	c, err := client.Dial(ctx, serverAddr, client.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("could not reach %s: %w", serverAddr, err)
	}
	return c, nil
}

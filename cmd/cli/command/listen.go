package command

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// listenCmd keeps an authenticated connection open and prints server
// notices until the server goes away or Ctrl+C is pressed.
var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stay connected and print server notices",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")

		c, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		if _, err := c.Authenticate(cmd.Context(), username, password); err != nil {
			return describe(err)
		}
		color.Green("✓ Connected to %s as %s, press Ctrl+C to stop", serverAddr, username)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		for {
			select {
			case notice, ok := <-c.Notices():
				if !ok {
					color.HiBlack("connection closed by server")
					return nil
				}
				color.Yellow("🔔 [%s] %s", notice.SentAt.Format("15:04:05"), notice.Message)
			case <-sigChan:
				fmt.Println()
				return nil
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().StringP("username", "u", "", "account username")
	listenCmd.Flags().StringP("password", "p", "", "account password")
	listenCmd.MarkFlagRequired("username")
	listenCmd.MarkFlagRequired("password")
}

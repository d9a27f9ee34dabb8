package command

import (
	"context"
	"fmt"

	"pkthub/internal/microservices/tcp"
	"pkthub/pkg/client"
	"pkthub/pkg/models"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// auth.go holds the commands that authenticate a protocol connection.

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate and print a session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		token, err := c.Authenticate(ctx, username, password)
		if err != nil {
			return describe(err)
		}

		color.Green("✓ Authenticated as %s", username)
		if token != "" {
			fmt.Printf("Token: %s\n", token)
		} else {
			color.HiBlack("server does not issue session tokens")
		}
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the account behind a login or a session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		token, _ := cmd.Flags().GetString("token")
		if token == "" && (username == "" || password == "") {
			return fmt.Errorf("either --token or --username and --password are required")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		if token != "" {
			err = c.ResumeSession(ctx, token)
		} else {
			_, err = c.Authenticate(ctx, username, password)
		}
		if err != nil {
			return describe(err)
		}

		user, err := c.SelfInfo(ctx)
		if err != nil {
			return describe(err)
		}
		printUser(user)
		return nil
	},
}

func printUser(user *models.User) {
	color.Cyan("%s", user.Username)
	fmt.Printf("  ID:      %s\n", user.ID)
	fmt.Printf("  Email:   %s\n", user.Email)
	fmt.Printf("  Role:    %s\n", user.Role)
	fmt.Printf("  Created: %s\n", user.CreatedAt.Format("2006-01-02 15:04"))
	if user.LastLogin != nil {
		fmt.Printf("  Last login: %s\n", user.LastLogin.Format("2006-01-02 15:04"))
	}
}

// describe turns answer codes into messages a person can act on.
func describe(err error) error {
	switch {
	case client.IsCode(err, tcp.CodeUserNotFound):
		return fmt.Errorf("no such user")
	case client.IsCode(err, tcp.CodeInvalidPassword):
		return fmt.Errorf("wrong password")
	case client.IsCode(err, tcp.CodeNotAuthenticated):
		return fmt.Errorf("not authenticated, the token may have expired")
	default:
		return err
	}
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(whoamiCmd)

	loginCmd.Flags().StringP("username", "u", "", "account username")
	loginCmd.Flags().StringP("password", "p", "", "account password")
	loginCmd.MarkFlagRequired("username")
	loginCmd.MarkFlagRequired("password")

	whoamiCmd.Flags().StringP("username", "u", "", "account username")
	whoamiCmd.Flags().StringP("password", "p", "", "account password")
	whoamiCmd.Flags().StringP("token", "t", "", "session token from login")
}

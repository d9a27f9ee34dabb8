package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"pkthub/database"
	"pkthub/internal/auth"
	"pkthub/internal/config"
	"pkthub/internal/logger"
	"pkthub/internal/repository"
	"pkthub/pkg/models"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// user.go manages accounts directly in the database the server reads.

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Account management commands",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an account that can authenticate over the protocol",
	RunE: func(cmd *cobra.Command, args []string) error {
		var user models.User
		user.Username, _ = cmd.Flags().GetString("username")
		user.Email, _ = cmd.Flags().GetString("email")
		user.Role, _ = cmd.Flags().GetString("role")
		password, _ := cmd.Flags().GetString("password")
		if len(password) < 8 {
			return fmt.Errorf("password must be at least 8 characters")
		}

		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		log := logger.New(os.Stderr, "warn", cfg.LogFormat)

		users, err := openUsers(cfg, log)
		if err != nil {
			return err
		}

		user.Password, err = auth.HashPassword(password)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		if err := users.Create(ctx, &user); err != nil {
			if errors.Is(err, repository.ErrUserExists) {
				return fmt.Errorf("username or email already taken")
			}
			return fmt.Errorf("account creation failed: %w", err)
		}

		color.Green("✓ Created %s", user.Username)
		fmt.Printf("UserID: %s\n", user.ID)
		return nil
	},
}

func openUsers(cfg *config.Config, log *slog.Logger) (repository.UserRepository, error) {
	db, err := database.Connect(cfg, log)
	if err != nil {
		return nil, err
	}
	return repository.NewUserRepository(db), nil
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd)

	userCreateCmd.Flags().StringP("username", "u", "", "username for the new account")
	userCreateCmd.Flags().StringP("password", "p", "", "password for the new account")
	userCreateCmd.Flags().StringP("email", "e", "", "email address for the new account")
	userCreateCmd.Flags().String("role", "user", "account role")
	userCreateCmd.MarkFlagRequired("username")
	userCreateCmd.MarkFlagRequired("password")
	userCreateCmd.MarkFlagRequired("email")
}

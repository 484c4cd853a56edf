package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/alexbotov/betledger/internal/auth"
	"github.com/alexbotov/betledger/internal/database"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Database.Driver != "postgres" {
				return fmt.Errorf("migrate needs the postgres driver, got %q", cfg.Database.Driver)
			}

			db, err := database.New(cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer db.Close()

			reset, _ := cmd.Flags().GetBool("reset")
			if reset {
				if err := db.Reset(); err != nil {
					return err
				}
			}
			if err := db.Migrate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
	cmd.Flags().Bool("reset", false, "drop all tables first")
	return cmd
}

func hashSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash-secret [secret]",
		Short: "Print the bcrypt hash of an API secret for the credentials table",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var secret string
			if len(args) == 1 {
				secret = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no secret given")
				}
				secret = strings.TrimRight(line, "\r\n")
			}

			cost, _ := cmd.Flags().GetInt("cost")
			hash, err := auth.HashSecret(secret, cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"warehouse-service/backend/internal/driver/domain"
)

func newDriverCmd(env func() *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "driver",
		Short: "Manage driver accounts",
	}
	cmd.AddCommand(newDriverSetCmd(env))
	return cmd
}

func newDriverSetCmd(env func() *Env) *cobra.Command {
	var (
		powerUnit string
		inactive  bool
	)
	cmd := &cobra.Command{
		Use:   "set <username>",
		Short: "Create a driver or replace its password",
		Long:  "Reads the password from DRIVER_PASSWORD so it does not appear in shell history.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := os.Getenv("DRIVER_PASSWORD")
			if strings.TrimSpace(password) == "" {
				return errors.New("DRIVER_PASSWORD is not set")
			}
			e := env()
			hash, err := e.Hasher.Hash([]byte(password))
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			d := &domain.Driver{
				Username:     domain.NormalizeUsername(args[0]),
				PasswordHash: hash,
				PowerUnit:    strings.ToUpper(strings.TrimSpace(powerUnit)),
				Active:       !inactive,
			}
			if err := d.Validate(); err != nil {
				return err
			}
			if err := e.Drivers.Upsert(cmd.Context(), d); err != nil {
				return fmt.Errorf("upsert driver: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Driver %s saved (active=%t).\n", d.Username, d.Active)
			return nil
		},
	}
	cmd.Flags().StringVar(&powerUnit, "powerunit", "", "Default powerunit")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "Disable logins for this driver")
	return cmd
}

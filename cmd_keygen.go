package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tkrehbiel/activitycore/server"
	"github.com/tkrehbiel/activitycore/server/signing"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen <actor-id>",
		Short: "Create the signing key of an actor if it has none and print its public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := server.OpenStorage(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			key, err := signing.NewSigner(db, nil).InitKey(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("creating key for %s: %w", args[0], err)
			}
			pem, err := signing.PublicKeyPEM(key)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), pem)
			return nil
		},
	}
}

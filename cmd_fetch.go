package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/resolve"
)

func fetchCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "fetch <uri>",
		Short: "Dereference a remote entity and print it as decoded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := resolve.New(nil, resolve.Options{
				Client:  &http.Client{Timeout: timeout},
				Timeout: timeout,
			})
			defer resolver.Stop()

			obj, err := resolver.ResolveID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			b, err := activity.Encode(obj)
			if err != nil {
				return err
			}
			var out bytes.Buffer
			if err := json.Indent(&out, b, "", "  "); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n%s\n", obj.Type(), activity.ID(obj), out.String())
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}

// Command ippproxy is the Proxy Agent executable: it registers one local
// device with an Infrastructure Printer, long-polls for jobs assigned to
// it, and runs each through a configured local command, per spec.md
// §4.8 and §6's Proxy CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/infraprint/infraprintd/internal/logging"
	"github.com/infraprint/infraprintd/internal/proxyagent"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var command, deviceURI, password, username string

	cmd := &cobra.Command{
		Use:   "ippproxy <infrastructure-printer-uri>",
		Short: "register a device with an Infrastructure Printer and fetch its jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("IPPPROXY_PASSWORD")
			}

			hostname, err := os.Hostname()
			if err != nil {
				hostname = "localhost"
			}

			agent := proxyagent.New(proxyagent.Config{
				PrinterURI: args[0],
				DeviceURI:  deviceURI,
				Command:    command,
				Hostname:   hostname,
				Username:   username,
				Password:   password,
			})

			if err := agent.Run(context.Background()); err != nil {
				logging.Main.Error('!', "%s", err)
				return fmt.Errorf("ippproxy: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&command, "command", "c", "", "local job command run on each fetched document")
	cmd.Flags().StringVarP(&deviceURI, "device-uri", "d", "", "local device URI, hashed into this device's UUID")
	cmd.Flags().StringVarP(&password, "password", "p", "", "authentication password (also IPPPROXY_PASSWORD)")
	cmd.Flags().StringVarP(&username, "user", "u", "", "authentication username")

	return cmd
}

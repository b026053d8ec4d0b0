package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetbridge/config"
	"github.com/kilianp07/fleetbridge/infra/mqtt"
)

var commandTimeout time.Duration

var commandCmd = &cobra.Command{
	Use:     "command <vin> <command> <payload>",
	Short:   "Send a command to a running gateway and wait for its result",
	Example: "fleetbridge command WVW123 doors/locked true",
	Args:    cobra.ExactArgs(3),
	RunE:    runCommand,
}

func init() {
	commandCmd.Flags().DurationVarP(&commandTimeout, "timeout", "t", 30*time.Second, "time to wait for the result")
	rootCmd.AddCommand(commandCmd)
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	mqttCfg := cfg.MQTT
	mqttCfg.ClientID = commandClientID(mqttCfg.ClientID)
	mqttCfg.Passive = true
	cli, err := mqtt.NewPahoClient(mqttCfg)
	if err != nil {
		return fmt.Errorf("mqtt client: %w", err)
	}
	defer cli.Disconnect()

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()
	result, err := cli.Request(ctx, args[0], args[1], args[2])
	if err != nil {
		return fmt.Errorf("%s %s: %w", args[0], args[1], err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), result)
	return nil
}

// commandClientID keeps the configured id recognisable while avoiding a
// collision with the gateway's own session.
func commandClientID(base string) string {
	suffix := uuid.NewString()[:8]
	if base == "" {
		return "fleetbridge-cli-" + suffix
	}
	return base + "-cli-" + suffix
}

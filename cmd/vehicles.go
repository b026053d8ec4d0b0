package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetbridge/app"
	"github.com/kilianp07/fleetbridge/config"
	"github.com/kilianp07/fleetbridge/core/remote"
)

var vehiclesCmd = &cobra.Command{
	Use:   "vehicles",
	Short: "Vehicle related commands",
}

var vehiclesLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List vehicles known to the remote API",
	RunE:  runVehiclesLs,
}

func init() {
	vehiclesCmd.AddCommand(vehiclesLsCmd)
	rootCmd.AddCommand(vehiclesCmd)
}

func runVehiclesLs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	api, err := app.NewRemote(cfg.Remote)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	if err := api.Login(ctx); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	vehicles, err := api.ListVehicles(ctx)
	if err != nil {
		return fmt.Errorf("list vehicles: %w", err)
	}
	return printVehicles(cmd.OutOrStdout(), cfg, vehicles)
}

func printVehicles(out io.Writer, cfg *config.Config, vehicles []remote.Vehicle) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VIN\tNAME\tMODEL\tEV\tENABLED")
	for _, v := range vehicles {
		enabled := true
		if vc, ok := cfg.Vehicle(v.VIN); ok && vc.Disabled {
			enabled = false
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\n", v.VIN, v.Name, v.Model, v.EV, enabled)
	}
	return w.Flush()
}

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/reglet-dev/i2cgate/internal/infrastructure/bus"
	"github.com/spf13/cobra"
)

// busesCmd lists the I2C buses periph found on this host.
var busesCmd = &cobra.Command{
	Use:     "buses",
	Short:   "List I2C buses available on this host",
	Example: `  i2cgate buses`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		infos, err := bus.List()
		if err != nil {
			return err
		}
		return printBuses(cmd.OutOrStdout(), infos)
	},
}

func init() {
	rootCmd.AddCommand(busesCmd)
}

func printBuses(out io.Writer, infos []bus.Info) error {
	if len(infos) == 0 {
		_, err := fmt.Fprintln(out, "No I2C buses found. Use --simulate to run guests without hardware.")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	if _, err := fmt.Fprintln(w, "NAME\tNUMBER\tALIASES"); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, info := range infos {
		number := "-"
		if info.Number >= 0 {
			number = fmt.Sprint(info.Number)
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n", info.Name, number, strings.Join(info.Aliases, ", ")); err != nil {
			return fmt.Errorf("failed to write bus info: %w", err)
		}
	}
	return w.Flush()
}

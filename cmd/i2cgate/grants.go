package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/reglet-dev/i2cgate/internal/domain/permissions"
	"github.com/reglet-dev/i2cgate/internal/infrastructure/grants"
	"github.com/spf13/cobra"
)

// grantsCmd groups the grant management subcommands.
var grantsCmd = &cobra.Command{
	Use:   "grants",
	Short: "Manage per-guest I2C grants",
	Long: `Grants decide what a guest's handles may do: read, write, which device
addresses, and an optional rule expression over op, addr, length and guest.
They are stored in ~/.i2cgate/grants.yaml unless grants_file says otherwise.`,
}

// grantFlags holds the options of "grants set".
type grantFlags struct {
	read        bool
	write       bool
	addrs       string
	rule        string
	interactive bool
}

func init() {
	rootCmd.AddCommand(grantsCmd)
	grantsCmd.AddCommand(newGrantsListCmd(), newGrantsSetCmd(), newGrantsRevokeCmd())
}

// openGrantStore resolves the grants file from the system config.
func openGrantStore() (*grants.FileStore, error) {
	cfg, err := loadSystemConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load system config: %w", err)
	}
	path, err := grantsPath(cfg)
	if err != nil {
		return nil, err
	}
	return grants.NewFileStore(path), nil
}

func newGrantsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List stored grants",
		Example: `  i2cgate grants list`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openGrantStore()
			if err != nil {
				return err
			}
			return listGrants(store, cmd.OutOrStdout())
		},
	}
}

func listGrants(store *grants.FileStore, out io.Writer) error {
	set, err := store.Load()
	if err != nil {
		return err
	}

	if len(set) == 0 {
		_, err := fmt.Fprintf(out, "No grants in %s.\n", store.Path())
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	if _, err := fmt.Fprintln(w, "GUEST\tACCESS\tRISK"); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, guest := range set.Guests() {
		perms, _ := set.Get(guest)
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n", guest, perms.String(), perms.RiskLevel()); err != nil {
			return fmt.Errorf("failed to write grant: %w", err)
		}
	}
	return w.Flush()
}

func newGrantsSetCmd() *cobra.Command {
	var opts grantFlags

	cmd := &cobra.Command{
		Use:   "set <guest>",
		Short: "Create or replace a guest's grant",
		Example: `  i2cgate grants set thermostat --read
  i2cgate grants set display --read --write --addr 0x3c
  i2cgate grants set logger --read --rule 'length <= 32'
  i2cgate grants set sensor -i`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openGrantStore()
			if err != nil {
				return err
			}
			return setGrant(store, args[0], opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.read, "read", false, "Allow reads")
	cmd.Flags().BoolVar(&opts.write, "write", false, "Allow writes")
	cmd.Flags().StringVar(&opts.addrs, "addr", "", "Restrict to these device addresses (comma-separated)")
	cmd.Flags().StringVar(&opts.rule, "rule", "", "Rule expression that must hold for every transfer")
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "Build the grant with a form")

	return cmd
}

func setGrant(store *grants.FileStore, guest string, opts grantFlags, out io.Writer) error {
	set, err := store.Load()
	if err != nil {
		return err
	}

	var perms permissions.Permissions
	if opts.interactive {
		current, ok := set.Get(guest)
		if !ok {
			current = permissions.Default()
		}
		answer, err := grants.NewTerminalPrompter().PromptForGrant(guest, current)
		if err != nil {
			return err
		}
		perms = answer.Permissions
	} else {
		var ops []string
		if opts.read {
			ops = append(ops, "read")
		}
		if opts.write {
			ops = append(ops, "write")
		}
		perms, err = grants.BuildPermissions(ops, opts.addrs, opts.rule)
		if err != nil {
			return err
		}
	}

	set.Set(guest, perms)
	if err := store.Save(set); err != nil {
		return fmt.Errorf("failed to save grants: %w", err)
	}

	_, err = fmt.Fprintf(out, "Granted %s: %s\n  %s\n", guest, perms.String(), perms.RiskDescription())
	return err
}

func newGrantsRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "revoke <guest>",
		Short:   "Remove a guest's grant",
		Example: `  i2cgate grants revoke display`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openGrantStore()
			if err != nil {
				return err
			}
			return revokeGrant(store, args[0], cmd.OutOrStdout())
		},
	}
}

func revokeGrant(store *grants.FileStore, guest string, out io.Writer) error {
	set, err := store.Load()
	if err != nil {
		return err
	}
	if _, ok := set.Get(guest); !ok {
		return fmt.Errorf("no grant for guest %q", guest)
	}

	set.Remove(guest)
	if err := store.Save(set); err != nil {
		return fmt.Errorf("failed to save grants: %w", err)
	}

	_, err = fmt.Fprintf(out, "Revoked grant for %s; it now receives the default access.\n", guest)
	return err
}

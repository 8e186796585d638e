package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/reglet-dev/i2cgate/internal/domain/permissions"
	"github.com/reglet-dev/i2cgate/internal/infrastructure/bus"
	"github.com/reglet-dev/i2cgate/internal/infrastructure/grants"
	"github.com/reglet-dev/i2cgate/internal/infrastructure/system"
	"github.com/reglet-dev/i2cgate/internal/infrastructure/wasm"
	"github.com/reglet-dev/i2cgate/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

var (
	entry       string
	interactive bool
	parallel    int
	timeout     time.Duration
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <guest.wasm>...",
	Short: "Run guest modules against the I2C bus",
	Long: `Load one or more WebAssembly guests and run them concurrently. Every
guest imports the "i2c" host module (open, write, read) and receives the
permissions granted to its name, which is the file name without ".wasm".

Guests without a grant receive the default access from the system config
(read-write unless default_access says otherwise). With --interactive you
are asked for a grant for every guest that has none.`,
	Example: `  i2cgate run sensor.wasm --simulate
  i2cgate run sensor.wasm display.wasm --bus /dev/i2c-1 --speed 400000
  I2CGATE_DEFAULT_ACCESS=read-only i2cgate run logger.wasm -i`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRunAction(cmd.Context(), args, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&entry, "entry", wasm.DefaultEntry, "Exported function to call in each guest")
	runCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Prompt for grants for guests that have none")
	runCmd.Flags().IntVar(&parallel, "parallel", 0, "Maximum guests running at once (0 for no limit)")
	runCmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort guests after this duration (0 to disable)")

	runCmd.Flags().String("bus", "", "I2C bus name or number (default: first bus)")
	runCmd.Flags().Bool("simulate", false, "Use the simulated device instead of a real bus")
	runCmd.Flags().Int64("speed", 0, "Bus clock in Hz (0 keeps the driver default)")
	runCmd.Flags().Uint32("max-transfer", 0, "Maximum bytes per read or write")
	runCmd.Flags().String("default-access", "", "Access for guests without a grant: read-write, read-only, none")

	_ = viper.BindPFlag("bus", runCmd.Flags().Lookup("bus"))
	_ = viper.BindPFlag("simulate", runCmd.Flags().Lookup("simulate"))
	_ = viper.BindPFlag("speed_hz", runCmd.Flags().Lookup("speed"))
	_ = viper.BindPFlag("max_transfer_bytes", runCmd.Flags().Lookup("max-transfer"))
	_ = viper.BindPFlag("default_access", runCmd.Flags().Lookup("default-access"))
}

// guestSource is a guest module read from disk.
type guestSource struct {
	name string
	path string
	wasm []byte
}

// guestName derives the grant key from a module path: "dir/sensor.wasm" -> "sensor".
func guestName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func readGuests(paths []string) ([]guestSource, error) {
	seen := make(map[string]string)
	sources := make([]guestSource, 0, len(paths))
	for _, path := range paths {
		name := guestName(path)
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("guests %s and %s share the name %q", prev, path, name)
		}
		seen[name] = path

		//nolint:gosec // G304: guest paths are operator-provided
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read guest %s: %w", path, err)
		}
		sources = append(sources, guestSource{name: name, path: path, wasm: data})
	}
	return sources, nil
}

// runRunAction implements the core logic for the run command
func runRunAction(ctx context.Context, paths []string, out io.Writer) error {
	cfg, err := loadSystemConfig()
	if err != nil {
		return fmt.Errorf("failed to load system config: %w", err)
	}

	if err := cfg.CheckHostVersion(version.Get()); err != nil {
		return err
	}

	sources, err := readGuests(paths)
	if err != nil {
		return err
	}

	path, err := grantsPath(cfg)
	if err != nil {
		return err
	}
	store := grants.NewFileStore(path)
	set, err := store.Load()
	if err != nil {
		return err
	}

	if interactive {
		if err := promptMissingGrants(store, set, sources, cfg.DefaultPermissions()); err != nil {
			return err
		}
	}

	b, err := openBus(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			slog.Warn("failed to close I2C bus", "error", err)
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	results, runErr := runGuests(ctx, cfg, b, set, sources, entry, parallel)
	if err := printResults(out, results); err != nil {
		return err
	}
	return runErr
}

// promptMissingGrants asks for a grant for every guest that has none and
// persists the ones the operator chose to remember.
func promptMissingGrants(store *grants.FileStore, set permissions.GrantSet, sources []guestSource, fallback permissions.Permissions) error {
	var missing []string
	for _, src := range sources {
		if _, ok := set.Get(src.name); !ok {
			missing = append(missing, src.name)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	prompter := grants.NewTerminalPrompter()
	if !prompter.IsInteractive() {
		return prompter.FormatNonInteractiveError(missing, fallback, store.Path())
	}

	remembered := maps.Clone(set)
	persist := false
	for _, guest := range missing {
		answer, err := prompter.PromptForGrant(guest, fallback)
		if err != nil {
			return fmt.Errorf("grant prompt for %s: %w", guest, err)
		}
		set.Set(guest, answer.Permissions)
		if answer.Remember {
			remembered.Set(guest, answer.Permissions)
			persist = true
		}
	}

	if !persist {
		return nil
	}
	if err := store.Save(remembered); err != nil {
		return fmt.Errorf("failed to save grants: %w", err)
	}
	slog.Info("saved grants", "path", store.Path())
	return nil
}

// openBus opens the configured bus or the simulated device.
func openBus(cfg *system.Config) (i2c.BusCloser, error) {
	if cfg.Simulate {
		slog.Info("using simulated I2C device")
		return bus.NewSimulated(), nil
	}
	return bus.Open(cfg.Bus, physic.Frequency(cfg.SpeedHz)*physic.Hertz)
}

// runGuests loads every guest into one runtime and runs them concurrently.
// Results are returned in input order; a failed guest leaves a nil entry.
func runGuests(ctx context.Context, cfg *system.Config, b i2c.Bus, set permissions.GrantSet, sources []guestSource, entry string, parallel int) ([]*wasm.RunResult, error) {
	fallback := cfg.DefaultPermissions()
	runtime, err := wasm.NewRuntime(ctx, wasm.Options{
		Bus: b,
		Grants: func(guest string) permissions.Permissions {
			return set.Resolve(guest, fallback)
		},
		HostModule:       cfg.HostModule,
		MaxTransferBytes: cfg.MaxTransferBytes,
		MemoryLimitMB:    cfg.WasmMemoryLimitMB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runtime: %w", err)
	}
	defer func() {
		_ = runtime.Close(ctx)
	}()

	guests := make([]*wasm.Guest, len(sources))
	for i, src := range sources {
		g, err := runtime.LoadGuest(ctx, src.name, src.wasm)
		if err != nil {
			return nil, err
		}
		guests[i] = g
	}

	results := make([]*wasm.RunResult, len(guests))
	errs := make([]error, len(guests))

	// Guests are independent; one failing must not cancel the others.
	var g errgroup.Group
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, guest := range guests {
		g.Go(func() error {
			results[i], errs[i] = guest.Run(ctx, entry)
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

func printResults(out io.Writer, results []*wasm.RunResult) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	if _, err := fmt.Fprintln(w, "GUEST\tINSTANCE\tHANDLES\tDURATION"); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range results {
		if r == nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			r.Guest,
			r.Instance,
			r.HandlesIssued,
			r.Duration.Round(time.Microsecond),
		); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	}
	return w.Flush()
}

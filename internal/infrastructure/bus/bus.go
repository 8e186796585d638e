// Package bus opens the I2C bus guests are mediated onto: a real bus via
// periph.io, or a simulated device for development and tests.
package bus

import (
	"fmt"
	"log/slog"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// Info describes a bus registered with periph.
type Info struct {
	Name    string
	Aliases []string
	Number  int
}

var hostInit = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

// Open loads the host drivers and opens the named bus. An empty name
// opens the first registered bus. A non-zero speed is applied after open.
func Open(name string, speed physic.Frequency) (i2c.BusCloser, error) {
	if err := hostInit(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	b, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %q: %w", name, err)
	}

	if speed > 0 {
		if err := b.SetSpeed(speed); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("failed to set I2C bus %s speed to %s: %w", b, speed, err)
		}
	}

	slog.Info("opened I2C bus", "bus", b.String(), "speed", speed.String())
	return b, nil
}

// List returns the buses known to periph after host driver init.
func List() ([]Info, error) {
	if err := hostInit(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	refs := i2creg.All()
	infos := make([]Info, 0, len(refs))
	for _, ref := range refs {
		infos = append(infos, Info{
			Name:    ref.Name,
			Aliases: ref.Aliases,
			Number:  ref.Number,
		})
	}
	return infos, nil
}

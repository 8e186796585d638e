package grants

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/reglet-dev/i2cgate/internal/domain/permissions"
)

// ErrNotInteractive is returned when a prompt is needed but stdin is not a terminal.
var ErrNotInteractive = errors.New("not running in an interactive terminal")

const (
	opRead  = "read"
	opWrite = "write"
)

// Answer is the operator's response to a grant prompt.
type Answer struct {
	Permissions permissions.Permissions
	// Remember persists the grant to the grants file.
	Remember bool
}

// TerminalPrompter asks the operator which bus access a guest receives.
type TerminalPrompter struct{}

// NewTerminalPrompter creates a new TerminalPrompter.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{}
}

// IsInteractive checks if we're running in an interactive terminal.
func (p *TerminalPrompter) IsInteractive() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	// Character device (terminal), not a pipe/file
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// PromptForGrant asks which operations and devices guest may use.
// current pre-fills the form.
func (p *TerminalPrompter) PromptForGrant(guest string, current permissions.Permissions) (Answer, error) {
	if !p.IsInteractive() {
		return Answer{}, ErrNotInteractive
	}

	ops := selectedOps(current)
	addrs := permissions.FormatAddresses(current.Addresses)
	rule := current.Rule.Source()
	remember := true

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title(fmt.Sprintf("Guest %q requests I2C bus access", guest)).
				Description("Currently: "+current.String()+"\n"+current.RiskDescription()),
			huh.NewMultiSelect[string]().
				Title("Allowed operations").
				Options(
					huh.NewOption("Read from devices", opRead).Selected(slices.Contains(ops, opRead)),
					huh.NewOption("Write to devices", opWrite).Selected(slices.Contains(ops, opWrite)),
				).
				Value(&ops),
			huh.NewInput().
				Title("Device addresses").
				Description("Comma separated, e.g. 0x48, 0x50. Empty allows any device.").
				Value(&addrs).
				Validate(func(s string) error {
					_, err := permissions.ParseAddresses(s)
					return err
				}),
			huh.NewInput().
				Title("Rule (optional)").
				Description(`Expression over op, addr, length, guest, e.g. length <= 32`).
				Value(&rule).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return nil
					}
					_, err := permissions.CompileRule(s)
					return err
				}),
			huh.NewConfirm().
				Title("Remember this grant?").
				Affirmative("Always").
				Negative("This run only").
				Value(&remember),
		),
	)

	if err := form.Run(); err != nil {
		return Answer{}, err
	}

	perms, err := BuildPermissions(ops, addrs, rule)
	if err != nil {
		return Answer{}, err
	}
	return Answer{Permissions: perms, Remember: remember}, nil
}

// BuildPermissions assembles a descriptor from prompt answers. A non-empty
// address list turns on the allow-list.
func BuildPermissions(ops []string, addrs, rule string) (permissions.Permissions, error) {
	perms := permissions.Permissions{
		CanRead:  slices.Contains(ops, opRead),
		CanWrite: slices.Contains(ops, opWrite),
	}

	list, err := permissions.ParseAddresses(addrs)
	if err != nil {
		return permissions.Permissions{}, err
	}
	if len(list) > 0 {
		perms.IsWhitelisted = true
		perms.Addresses = list
	}

	if rule = strings.TrimSpace(rule); rule != "" {
		compiled, err := permissions.CompileRule(rule)
		if err != nil {
			return permissions.Permissions{}, err
		}
		perms.Rule = compiled
	}

	return perms, nil
}

func selectedOps(p permissions.Permissions) []string {
	var ops []string
	if p.CanRead {
		ops = append(ops, opRead)
	}
	if p.CanWrite {
		ops = append(ops, opWrite)
	}
	return ops
}

// FormatNonInteractiveError creates a helpful error message for guests that
// have no grant when no prompt can be shown.
func (p *TerminalPrompter) FormatNonInteractiveError(guests []string, fallback permissions.Permissions, grantsPath string) error {
	var msg strings.Builder
	msg.WriteString("Guests have no I2C grant (running in non-interactive mode)\n\n")
	msg.WriteString("Guests without a grant:\n")

	for _, guest := range guests {
		fmt.Fprintf(&msg, "  - %s (would receive: %s)\n", guest, fallback.String())
	}

	msg.WriteString("\nTo grant access:\n")
	msg.WriteString("  1. Run interactively with --interactive and approve when prompted\n")
	msg.WriteString("  2. Use: i2cgate grants set <guest> --read --write --addr 0x50\n")
	fmt.Fprintf(&msg, "  3. Manually edit: %s\n", grantsPath)

	return fmt.Errorf("%s", msg.String())
}

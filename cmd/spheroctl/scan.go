package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nerrad567/spherolink/internal/protocol/command"
	"github.com/nerrad567/spherolink/internal/toy"
)

// interactive reports whether both stdin and stdout are terminals.
var interactive = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func newScanCmd(a *app) *cobra.Command {
	var (
		kinds []string
		names []string
		pick  bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List toys visible to the adapter",
		Long: `Scan lists advertising toys and the kind each name matches. With
--select an interactive picker prints the chosen toy, ready for
"spheroctl exec".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := toy.Filter{Names: names}
			for _, k := range kinds {
				kind, err := command.ParseKind(k)
				if err != nil {
					return err
				}
				filter.Kinds = append(filter.Kinds, kind)
			}
			if pick && !interactive() {
				return errors.New("--select needs an interactive terminal")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
			defer cancel()
			found, err := toy.Discover(ctx, a.adapter, filter)
			if err != nil {
				return fmt.Errorf("scanning: %w", err)
			}

			if pick {
				if len(found) == 0 {
					return toy.ErrNotFound
				}
				choice, err := runPicker(found)
				if err != nil || choice == nil {
					return err
				}
				found = []toy.Found{*choice}
			}

			out := cmd.OutOrStdout()
			if a.output == "json" {
				return writeJSON(out, found)
			}
			rows := make([][]string, len(found))
			for i, f := range found {
				rows[i] = []string{f.Name, f.Address, f.Kind.String(), displayName(f.Kind)}
			}
			_, err = fmt.Fprint(out, renderTable([]string{"NAME", "ADDRESS", "KIND", "MODEL"}, rows))
			return err
		},
	}
	cmd.Flags().StringSliceVarP(&kinds, "kind", "k", nil, "only toys of these kinds")
	cmd.Flags().StringSliceVarP(&names, "name", "n", nil, "only toys with these advertised names")
	cmd.Flags().BoolVarP(&pick, "select", "s", false, "pick one toy interactively")
	return cmd
}

func displayName(k command.Kind) string {
	if m, ok := toy.ModelOf(k); ok {
		return m.DisplayName
	}
	return ""
}

// runPicker shows found in a list and returns the chosen toy, or nil if the
// user quit.
func runPicker(found []toy.Found) (*toy.Found, error) {
	final, err := tea.NewProgram(newPicker(found)).Run()
	if err != nil {
		return nil, fmt.Errorf("running picker: %w", err)
	}
	m, ok := final.(picker)
	if !ok || m.chosen < 0 {
		return nil, nil
	}
	return &m.items[m.chosen], nil
}

// picker is the bubbletea model behind scan --select.
type picker struct {
	items  []toy.Found
	cursor int
	chosen int
}

func newPicker(items []toy.Found) picker {
	return picker{items: items, chosen: -1}
}

func (m picker) Init() tea.Cmd { return nil }

func (m picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
	case "enter", " ":
		m.chosen = m.cursor
		return m, tea.Quit
	case "q", "esc", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m picker) View() string {
	s := titleStyle.Render("Select a toy") + "\n\n"
	for i, f := range m.items {
		line := fmt.Sprintf("%-16s %-20s %s", f.Name, f.Address, displayName(f.Kind))
		if i == m.cursor {
			s += eventStyle.Render("> "+line) + "\n"
		} else {
			s += argStyle.Render("  "+line) + "\n"
		}
	}
	return s + "\n" + dimStyle.Render("up/down move, enter select, q quit") + "\n"
}

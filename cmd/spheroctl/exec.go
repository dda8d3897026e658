package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// execResult is what exec prints.
type execResult struct {
	Toy        string `json:"toy"`
	Command    string `json:"command"`
	Result     any    `json:"result"`
	DurationMS int64  `json:"duration_ms"`
}

func newExecCmd(a *app) *cobra.Command {
	var (
		kind  string
		named map[string]string
	)
	cmd := &cobra.Command{
		Use:   "exec <toy> <command> [args...]",
		Short: "Run one command on a toy",
		Long: `Exec connects to a toy, runs a named command and prints its decoded
result. Arguments are positional in the order "spheroctl commands" lists
them, or given by name with --arg.

  spheroctl exec SB-1234 get_battery_percentage
  spheroctl exec SB-1234 drive_with_heading 80 90 0
  spheroctl exec --kind sphero 68:86:E7:01:02:03 set_main_led --arg r=255 --arg g=0 --arg b=0`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(named) > 0 && len(args) > 2 {
				return errors.New("positional arguments and --arg cannot be combined")
			}
			ctx := cmd.Context()
			found, err := a.resolve(ctx, args[0], kind)
			if err != nil {
				return err
			}
			t, err := a.connect(ctx, found)
			if err != nil {
				return err
			}
			defer t.Close() //nolint:errcheck // best-effort on exit

			name := args[1]
			started := time.Now()
			var result any
			if len(named) > 0 {
				m := make(map[string]any, len(named))
				for k, v := range named {
					m[k] = v
				}
				result, err = t.CallNamed(ctx, name, m)
			} else {
				positional := make([]any, 0, len(args)-2)
				for _, v := range args[2:] {
					positional = append(positional, v)
				}
				result, err = t.Call(ctx, name, positional...)
			}
			if err != nil {
				return err
			}

			res := execResult{
				Toy:        found.Name,
				Command:    name,
				Result:     result,
				DurationMS: time.Since(started).Milliseconds(),
			}
			out := cmd.OutOrStdout()
			if a.output == "json" {
				return writeJSON(out, res)
			}
			if result == nil {
				_, err = fmt.Fprintf(out, "%s ok (%dms)\n", name, res.DurationMS)
				return err
			}
			b, err := json.Marshal(result)
			if err != nil {
				return fmt.Errorf("encoding result: %w", err)
			}
			_, err = fmt.Fprintf(out, "%s = %s (%dms)\n", name, b, res.DurationMS)
			return err
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "toy kind; the toy argument is then an address")
	cmd.Flags().StringToStringVar(&named, "arg", nil, "named argument name=value (repeatable)")
	return cmd
}

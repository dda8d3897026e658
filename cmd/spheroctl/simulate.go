package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/spherolink/internal/protocol/command"
	"github.com/nerrad567/spherolink/internal/transport/sim"
)

func newSimulateCmd(a *app) *cobra.Command {
	var (
		listen string
		specs  []string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Serve simulated toys over the TCP adapter protocol",
		Long: `Simulate runs an adapter process whose toys are in-process simulators,
so spherod and spheroctl can be exercised without hardware. Each --toy is
kind:name or kind:name:address; the address defaults to the name.

  spheroctl simulate --toy bolt:SB-1234 --toy r2d2:D2-55E3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			srv := sim.NewServer(a.log.Component("sim"))
			for _, spec := range specs {
				s, err := parseSimSpec(spec)
				if err != nil {
					return err
				}
				t, err := sim.New(s.kind, s.name, s.address, sim.WithLogger(a.log.Component("sim")))
				if err != nil {
					return fmt.Errorf("simulating %s: %w", spec, err)
				}
				srv.Add(t)
			}
			if err := srv.Listen(listen); err != nil {
				return err
			}
			defer srv.Close() //nolint:errcheck // shutting down

			fmt.Fprintf(cmd.OutOrStdout(), "serving %d simulated toys on %s\n", len(specs), srv.Addr())
			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", defaultAdapterAddress, "address to listen on")
	cmd.Flags().StringArrayVar(&specs, "toy", []string{"bolt:SB-0001"}, "toy to simulate, kind:name[:address] (repeatable)")
	return cmd
}

type simSpec struct {
	kind    command.Kind
	name    string
	address string
}

func parseSimSpec(s string) (simSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[1] == "" {
		return simSpec{}, fmt.Errorf("toy %q: want kind:name[:address]", s)
	}
	kind, err := command.ParseKind(parts[0])
	if err != nil {
		return simSpec{}, fmt.Errorf("toy %q: %w", s, err)
	}
	spec := simSpec{kind: kind, name: parts[1], address: parts[1]}
	if len(parts) == 3 && parts[2] != "" {
		spec.address = parts[2]
	}
	return spec, nil
}

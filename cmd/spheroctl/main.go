// spheroctl talks to Sphero-class toys directly through a TCP adapter,
// without a running spherod. It can scan, execute commands, stream
// notifications and list command tables, and it can run a simulated
// adapter for development.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/spherolink/internal/infrastructure/config"
	"github.com/nerrad567/spherolink/internal/infrastructure/logging"
	"github.com/nerrad567/spherolink/internal/protocol/command"
	"github.com/nerrad567/spherolink/internal/toy"
	"github.com/nerrad567/spherolink/internal/transport"
)

// Version information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const defaultAdapterAddress = "127.0.0.1:50004"

// app holds global flags and state shared by subcommands.
type app struct {
	adapterAddr string
	timeout     time.Duration
	output      string
	logLevel    string

	log *logging.Logger

	// adapter is created from adapterAddr unless already set.
	adapter transport.Adapter
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(&app{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree around a.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "spheroctl",
		Short: "Scan, drive and inspect Sphero-class toys",
		Long: `spheroctl reaches toys through a BLE-to-TCP adapter process and speaks
their command protocol directly. Commands and notifications are addressed
by name; "spheroctl commands <kind>" lists what each toy understands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
	}

	addr := os.Getenv("SPHEROLINK_ADAPTER_ADDRESS")
	if addr == "" {
		addr = defaultAdapterAddress
	}
	root.PersistentFlags().StringVarP(&a.adapterAddr, "adapter", "a", addr, "TCP adapter address (env SPHEROLINK_ADAPTER_ADDRESS)")
	root.PersistentFlags().DurationVarP(&a.timeout, "timeout", "t", 10*time.Second, "scan and connect timeout")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "table", "output format: table or json")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(
		newScanCmd(a),
		newExecCmd(a),
		newListenCmd(a),
		newCommandsCmd(a),
		newSimulateCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup(stderr io.Writer) error {
	if a.output != "table" && a.output != "json" {
		return fmt.Errorf("unknown output format %q", a.output)
	}
	a.log = logging.NewWriter(config.LoggingConfig{Level: a.logLevel, Format: "text"}, version, stderr)
	if a.adapter == nil {
		a.adapter = transport.NewTCPAdapter(transport.TCPConfig{
			Address:     a.adapterAddr,
			DialTimeout: a.timeout,
			ScanTimeout: a.timeout,
		}, a.log.Component("transport"))
	}
	return nil
}

// resolve turns a toy argument into a kind and address. With an explicit
// kind the argument is used as the address; otherwise it is looked up by
// advertised name.
func (a *app) resolve(ctx context.Context, arg, kindFlag string) (toy.Found, error) {
	if kindFlag != "" {
		kind, err := command.ParseKind(kindFlag)
		if err != nil {
			return toy.Found{}, err
		}
		return toy.Found{
			Advertisement: transport.Advertisement{Name: arg, Address: arg},
			Kind:          kind,
		}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	found, err := toy.FindOne(ctx, a.adapter, toy.Filter{Names: []string{arg}})
	if errors.Is(err, toy.ErrNotFound) {
		return toy.Found{}, fmt.Errorf("no toy advertising as %q (pass --kind to connect by address)", arg)
	}
	return found, err
}

// connect opens a session to f and waits for the handshake.
func (a *app) connect(ctx context.Context, f toy.Found) (*toy.Toy, error) {
	t, err := toy.New(f.Kind, f.Name, f.Address, a.adapter, toy.WithLogger(a.log.Component("toy")))
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := t.Connect(cctx); err != nil {
		_ = t.Close() //nolint:errcheck // connect already failed
		return nil, fmt.Errorf("connecting to %s: %w", f.Name, err)
	}
	a.log.Info("connected", "toy", f.Name, "kind", f.Kind)
	return t, nil
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/spherolink/internal/protocol/notify"
)

// errLinkLost ends listen when the toy goes away underneath it.
var errLinkLost = errors.New("link to toy lost")

// listenEvent is one line of listen --output json.
type listenEvent struct {
	Name     string    `json:"name"`
	Args     []any     `json:"args"`
	SourceID byte      `json:"source_id"`
	Received time.Time `json:"received"`
}

func newListenCmd(a *app) *cobra.Command {
	var (
		kind     string
		only     []string
		duration time.Duration
		count    int
	)
	cmd := &cobra.Command{
		Use:   "listen <toy>",
		Short: "Stream notifications from a toy",
		Long: `Listen connects to a toy and prints every notification it sends until
interrupted. Most notifications only flow after the matching enable
command; run it with "spheroctl exec" from another terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			var (
				mu   sync.Mutex
				seen int
				full = make(chan struct{})
			)
			out := cmd.OutOrStdout()
			listener := func(ev notify.Event) {
				mu.Lock()
				defer mu.Unlock()
				if count > 0 && seen >= count {
					return
				}
				if err := a.printEvent(out, ev); err != nil {
					a.log.Warn("writing event", "error", err)
				}
				seen++
				if count > 0 && seen == count {
					close(full)
				}
			}

			if len(only) == 0 {
				stop, err := t.ListenAll(listener)
				if err != nil {
					return err
				}
				defer stop()
			} else {
				for _, name := range only {
					id, err := t.AddListener(name, listener)
					if err != nil {
						return err
					}
					defer t.RemoveListener(name, id)
				}
			}

			if a.output == "table" {
				fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("listening to %s (%s), ctrl+c to stop", found.Name, displayName(found.Kind))))
			}

			var timeout <-chan time.Time
			if duration > 0 {
				timer := time.NewTimer(duration)
				defer timer.Stop()
				timeout = timer.C
			}
			select {
			case <-ctx.Done():
			case <-timeout:
			case <-full:
			case <-t.Done():
				return errLinkLost
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "toy kind; the toy argument is then an address")
	cmd.Flags().StringSliceVar(&only, "only", nil, "only these notifications")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().IntVarP(&count, "count", "c", 0, "stop after this many notifications")
	return cmd
}

func (a *app) printEvent(w io.Writer, ev notify.Event) error {
	if a.output == "json" {
		b, err := json.Marshal(listenEvent{Name: ev.Name, Args: ev.Args, SourceID: ev.SourceID, Received: ev.Received})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	parts := make([]string, len(ev.Args))
	for i, v := range ev.Args {
		b, err := json.Marshal(v)
		if err != nil {
			parts[i] = fmt.Sprint(v)
			continue
		}
		parts[i] = string(b)
	}
	_, err := fmt.Fprintf(w, "%s %s %s\n",
		timeStyle.Render(ev.Received.Format("15:04:05.000")),
		eventStyle.Render(ev.Name),
		argStyle.Render(strings.Join(parts, " ")),
	)
	return err
}

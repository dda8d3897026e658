package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nerrad567/spherolink/internal/protocol/command"
)

type kindInfo struct {
	Kind          string `json:"kind"`
	Model         string `json:"model"`
	Framing       string `json:"framing"`
	Commands      int    `json:"commands"`
	Notifications int    `json:"notifications"`
}

type commandInfo struct {
	Name      string `json:"name"`
	Subsystem string `json:"subsystem"`
	DeviceID  byte   `json:"device_id"`
	CommandID byte   `json:"command_id"`
	Signature string `json:"signature"`
	Returns   bool   `json:"returns"`
}

type notificationInfo struct {
	Name      string `json:"name"`
	Subsystem string `json:"subsystem"`
	DeviceID  byte   `json:"device_id"`
	CommandID byte   `json:"command_id"`
	Arity     int    `json:"arity"`
}

func newCommandsCmd(a *app) *cobra.Command {
	var notifications bool
	cmd := &cobra.Command{
		Use:   "commands [kind]",
		Short: "List toy kinds, or the commands of one kind",
		Args:  cobra.MaximumNArgs(1),
		// Works offline; no adapter needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				return a.printKinds(cmd)
			}
			kind, err := command.ParseKind(args[0])
			if err != nil {
				return err
			}
			table := command.For(kind)

			if notifications {
				var infos []notificationInfo
				for _, n := range table.Notifications() {
					infos = append(infos, notificationInfo{
						Name:      n.Name,
						Subsystem: n.Subsystem.Name,
						DeviceID:  n.DeviceID(),
						CommandID: n.CommandID,
						Arity:     n.Arity,
					})
				}
				if a.output == "json" {
					return writeJSON(out, infos)
				}
				rows := make([][]string, len(infos))
				for i, n := range infos {
					rows[i] = []string{n.Name, n.Subsystem, hexByte(n.DeviceID), hexByte(n.CommandID), strconv.Itoa(n.Arity)}
				}
				_, err := fmt.Fprint(out, renderTable([]string{"NOTIFICATION", "SUBSYSTEM", "DID", "CID", "ARGS"}, rows))
				return err
			}

			var infos []commandInfo
			for _, d := range table.Commands() {
				infos = append(infos, commandInfo{
					Name:      d.Name,
					Subsystem: d.Subsystem.Name,
					DeviceID:  d.DeviceID(),
					CommandID: d.CommandID,
					Signature: d.Signature(),
					Returns:   d.Decode != nil,
				})
			}
			if a.output == "json" {
				return writeJSON(out, infos)
			}
			rows := make([][]string, len(infos))
			for i, c := range infos {
				ret := ""
				if c.Returns {
					ret = "yes"
				}
				rows[i] = []string{c.Name, c.Subsystem, hexByte(c.DeviceID), hexByte(c.CommandID), c.Signature, ret}
			}
			_, err = fmt.Fprint(out, renderTable([]string{"COMMAND", "SUBSYSTEM", "DID", "CID", "ARGUMENTS", "RESULT"}, rows))
			return err
		},
	}
	cmd.Flags().BoolVarP(&notifications, "notifications", "N", false, "list notifications instead of commands")
	return cmd
}

func (a *app) printKinds(cmd *cobra.Command) error {
	var infos []kindInfo
	for _, k := range command.Kinds() {
		t := command.For(k)
		infos = append(infos, kindInfo{
			Kind:          k.String(),
			Model:         displayName(k),
			Framing:       k.Framing().String(),
			Commands:      len(t.Commands()),
			Notifications: len(t.Notifications()),
		})
	}
	if a.output == "json" {
		return writeJSON(cmd.OutOrStdout(), infos)
	}
	rows := make([][]string, len(infos))
	for i, k := range infos {
		rows[i] = []string{k.Kind, k.Model, k.Framing, strconv.Itoa(k.Commands), strconv.Itoa(k.Notifications)}
	}
	_, err := fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"KIND", "MODEL", "FRAMING", "COMMANDS", "NOTIFICATIONS"}, rows))
	return err
}

func hexByte(b byte) string {
	return fmt.Sprintf("0x%02x", b)
}

package main

import (
	"fmt"
	"time"

	"github.com/matheus3301/huddle/internal/lock"
	"github.com/matheus3301/huddle/internal/session"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd, sessionsCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon, connection and unread status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		name, err := resolveSession()
		if err != nil {
			return err
		}
		holder, running := lock.Running(session.Dir(name))
		if !running {
			if jsonFlag {
				return outputJSON(map[string]any{"session": name, "running": false})
			}
			fmt.Printf("Session: %s\nDaemon:  not running\n", name)
			return nil
		}

		c, ctx, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()

		health, err := c.Health(ctx)
		if err != nil {
			return err
		}
		snap, err := c.State(ctx)
		if err != nil {
			return err
		}

		if jsonFlag {
			return outputJSON(map[string]any{
				"session":    name,
				"running":    true,
				"pid":        holder.PID,
				"since":      holder.Since,
				"daemon":     health.Daemon.String(),
				"delivery":   health.Delivery.String(),
				"connection": snap.Connection,
				"unread":     snap.UnreadTotal,
				"banner":     snap.Banner,
			})
		}
		fmt.Printf("Session:    %s\n", name)
		fmt.Printf("Daemon:     %s (pid %d, up %s)\n", health.Daemon, holder.PID, time.Since(holder.Since).Round(time.Second))
		fmt.Printf("Delivery:   %s\n", health.Delivery)
		fmt.Printf("Connection: %s\n", snap.Connection)
		fmt.Printf("Unread:     %d\n", snap.UnreadTotal)
		if snap.Banner != "" {
			fmt.Printf("Warning:    %s\n", snap.Banner)
		}
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions and whether their daemon is running",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		names, err := session.List()
		if err != nil {
			return err
		}
		type row struct {
			Session string `json:"session"`
			Running bool   `json:"running"`
			PID     int    `json:"pid,omitempty"`
		}
		rows := make([]row, 0, len(names))
		for _, name := range names {
			holder, running := lock.Running(session.Dir(name))
			r := row{Session: name, Running: running}
			if running {
				r.PID = holder.PID
			}
			rows = append(rows, r)
		}
		if jsonFlag {
			return outputJSON(rows)
		}
		if len(rows) == 0 {
			fmt.Println("No sessions.")
			return nil
		}
		for _, r := range rows {
			state := "stopped"
			if r.Running {
				state = fmt.Sprintf("running (pid %d)", r.PID)
			}
			fmt.Printf("%-20s %s\n", r.Session, state)
		}
		return nil
	},
}

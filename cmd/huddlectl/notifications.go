package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/matheus3301/huddle/internal/client"
	"github.com/matheus3301/huddle/internal/notify"
	"github.com/spf13/cobra"
)

var eventsKind string

func init() {
	notificationsCmd.AddCommand(notificationsDismissCmd, notificationsOpenCmd, notificationsPermissionCmd)
	rootCmd.AddCommand(notificationsCmd, eventsCmd)
	eventsCmd.Flags().StringVar(&eventsKind, "kind", "", "only events whose kind starts with this prefix")
}

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"notifs"},
	Short:   "List pending notifications on every surface",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, ctx, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()

		n, err := c.Notifications(ctx)
		if err != nil {
			return err
		}
		if jsonFlag {
			return outputJSON(n)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SURFACE\tID\tTITLE\tSNIPPET\tHIDDEN")
		for _, s := range []struct {
			name    string
			entries []notify.Entry
		}{
			{notify.SurfaceToast, n.Toasts},
			{notify.SurfaceNative, n.Native},
			{notify.SurfacePanel, n.Panel},
		} {
			for _, e := range s.entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n", s.name, e.Record.ID, e.Record.Title(), truncate(e.Record.Snippet, 40), e.Hidden)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if n.Permission != "" {
			fmt.Printf("\nNative permission: %s\n", n.Permission)
		}
		return nil
	},
}

var notificationsDismissCmd = &cobra.Command{
	Use:   "dismiss [<surface> <id>]",
	Short: "Dismiss one notification, or clear the panel when no id is given",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("accepts 0 or 2 args, received %d", len(args))
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()

		if len(args) == 0 {
			n, err := c.DismissAll(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Dismissed %d\n", n)
			return nil
		}
		return c.Dismiss(ctx, args[0], args[1])
	},
}

var notificationsOpenCmd = &cobra.Command{
	Use:   "open <surface> <id>",
	Short: "Open a notification's conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()

		rec, err := c.Open(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		if jsonFlag {
			return outputJSON(rec)
		}
		fmt.Printf("Opened %s\n", rec.ConversationID)
		return nil
	},
}

var notificationsPermissionCmd = &cobra.Command{
	Use:       "permission <granted|denied|default>",
	Short:     "Set the native notification permission",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(notify.PermissionGranted), string(notify.PermissionDenied), string(notify.PermissionDefault)},
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()
		return c.SetPermission(ctx, notify.Permission(args[0]))
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream daemon events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		name, err := resolveSession()
		if err != nil {
			return err
		}
		c, err := dial(name)
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return c.Events(ctx, eventsKind, func(e client.Event) error {
			if jsonFlag {
				return outputJSON(e)
			}
			fmt.Printf("%s  %-24s %s\n", e.At.Local().Format("15:04:05"), e.Kind, e.Payload)
			return nil
		})
	},
}

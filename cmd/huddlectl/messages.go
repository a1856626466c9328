package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/matheus3301/huddle/internal/store"
	"github.com/spf13/cobra"
)

var (
	conversationsKind string
	messagesLimit     int
	messagesBefore    string
	searchConv        string
	searchLimit       int
)

func init() {
	rootCmd.AddCommand(conversationsCmd, messagesCmd, sendCmd, retryCmd, readCmd, searchCmd)
	conversationsCmd.Flags().StringVar(&conversationsKind, "kind", "", "filter by kind (group|direct|system)")
	messagesCmd.Flags().IntVar(&messagesLimit, "limit", 20, "number of messages")
	messagesCmd.Flags().StringVar(&messagesBefore, "before", "", "only archived messages older than this RFC 3339 time")
	searchCmd.Flags().StringVar(&searchConv, "conversation", "", "restrict to one conversation")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "number of results")
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"convs"},
	Short:   "List conversations, most recently active first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, ctx, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()

		convs, err := c.Conversations(ctx, store.ConversationKind(conversationsKind))
		if err != nil {
			return err
		}
		if jsonFlag {
			return outputJSON(convs)
		}
		if len(convs) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tNAME\tUNREAD\tLAST")
		for _, conv := range convs {
			last := ""
			if conv.Last != nil {
				last = truncate(conv.Last.Sender+": "+conv.Last.Content, 40)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", conv.ID, conv.Kind, conv.Name, conv.Unread, last)
		}
		return w.Flush()
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation>",
	Short: "Show the messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var before time.Time
		if messagesBefore != "" {
			t, err := time.Parse(time.RFC3339, messagesBefore)
			if err != nil {
				return fmt.Errorf("--before: %w", err)
			}
			before = t
		}
		c, ctx, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()

		msgs, err := c.Messages(ctx, args[0], before, messagesLimit)
		if err != nil {
			return err
		}
		if jsonFlag {
			return outputJSON(msgs)
		}
		for _, m := range msgs {
			printMessage(m)
		}
		return nil
	},
}

func printMessage(m store.Message) {
	sender := m.Sender.Name
	if m.Mine {
		sender = "me"
	}
	mark := ""
	if m.Mine {
		mark = " [" + string(m.Status) + "]"
	}
	fmt.Printf("%s  %-12s %s%s\n", m.CreatedAt.Local().Format("01-02 15:04"), sender, m.Content, mark)
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation> <text>...",
	Short: "Send a text message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()

		m, err := c.Send(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		if jsonFlag {
			return outputJSON(m)
		}
		fmt.Printf("Queued %s\n", m.ID)
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <message>",
	Short: "Resend a failed message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()

		m, err := c.Retry(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonFlag {
			return outputJSON(m)
		}
		fmt.Printf("Queued %s\n", m.ID)
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read <conversation>",
	Short: "Mark a conversation read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()
		return c.MarkRead(ctx, args[0])
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search of archived messages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()

		results, err := c.Search(ctx, strings.Join(args, " "), searchConv, searchLimit)
		if err != nil {
			return err
		}
		if jsonFlag {
			return outputJSON(results)
		}
		for _, r := range results {
			fmt.Printf("%s  %s  %s\n", r.Message.ConversationID, r.Message.ID, r.Snippet)
		}
		return nil
	},
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

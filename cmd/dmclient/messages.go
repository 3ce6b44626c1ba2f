package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dm-service/internal/models"
)

func init() {
	rootCmd.AddCommand(sendCmd, threadCmd, inboxCmd, outboxCmd, deleteCmd, unreadCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send [recipient-id] [text...]",
	Short: "Send a direct message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		recipient, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		c, err := apiClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		msg, err := c.Send(ctx, recipient, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", msg.ID)
		return nil
	},
}

var threadCmd = &cobra.Command{
	Use:   "thread [user-id]",
	Short: "Show the conversation with a member and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		other, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		c, err := apiClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		thread, err := c.OpenThread(ctx, other)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, m := range thread.Messages {
			printMessage(out, m)
		}
		if thread.UnreadDelta != 0 {
			fmt.Fprintf(out, "marked %s read\n", pluralize(-thread.UnreadDelta, "message"))
		}
		return nil
	},
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List received messages, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return listContainer(cmd, models.ContainerInbox)
	},
}

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "List sent messages, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return listContainer(cmd, models.ContainerOutbox)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [message-id]",
	Short: "Delete a message from your side of the conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		if err := c.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

var unreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Print the unread message count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		n, err := c.UnreadCount(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), humanize.Comma(int64(n)))
		return nil
	},
}

func listContainer(cmd *cobra.Command, container models.Container) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	list, err := c.List(ctx, container)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintf(out, "%s is empty\n", container)
		return nil
	}
	for _, m := range list {
		printMessage(out, m)
	}
	fmt.Fprintln(out, pluralize(len(list), "message"))
	return nil
}

func printMessage(w io.Writer, m models.MessageSummary) {
	status := "unread"
	if m.DateRead != nil {
		status = "read " + humanize.Time(*m.DateRead)
	}
	fmt.Fprintf(w, "%s  %s -> %s  %s  [%s]\n  %s\n",
		m.ID, displayName(m.SenderID, m.SenderFirstName, m.SenderLastName),
		displayName(m.RecipientID, m.RecipientFirstName, m.RecipientLastName),
		humanize.Time(m.Created), status, m.Text)
}

func displayName(id int, first, last string) string {
	name := strings.TrimSpace(first + " " + last)
	if name == "" {
		return "#" + strconv.Itoa(id)
	}
	return fmt.Sprintf("%s (#%d)", name, id)
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return humanize.Comma(int64(n)) + " " + noun + "s"
}

func parseUserID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return id, nil
}

package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dm-service/internal/client"
	"dm-service/internal/models"
	"dm-service/internal/reconcile"
)

var watchThread int

func init() {
	watchCmd.Flags().IntVar(&watchThread, "thread", 0, "also follow the thread with this member")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow live events: unread badge, presence and optionally one thread",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		stream, err := client.Dial(ctx, serverURL, token)
		if err != nil {
			return err
		}
		defer stream.Close()

		viewer, err := tokenSubject(token)
		if err != nil {
			return err
		}
		session := reconcile.NewSession(viewer, stream)

		// Bind the thread before fetching it; the merge below de-duplicates
		// whatever arrives twice.
		if watchThread > 0 {
			if err := session.Thread.Open(ctx, watchThread, nil); err != nil {
				return err
			}
		}

		seed, err := c.UnreadCount(ctx)
		if err != nil {
			return err
		}
		session.Unread.Seed(seed)
		session.Settle(stream.Events(), nil)

		out := cmd.OutOrStdout()
		if watchThread > 0 {
			thread, err := c.OpenThread(ctx, watchThread)
			if err != nil {
				return err
			}
			session.Thread.Merge(thread.Messages)
			for _, m := range session.Thread.Messages() {
				printMessage(out, m)
			}
		}
		fmt.Fprintf(out, "unread: %d\n", session.Unread.Count())
		fmt.Fprintf(out, "online: %v\n", session.Presence.Members())

		err = session.Run(ctx, stream.Events(), func(env models.Envelope) {
			printEvent(out, session, env)
		})
		if err == nil {
			err = stream.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func printEvent(w io.Writer, s *reconcile.Session, env models.Envelope) {
	when := humanize.Time(env.SentAt)
	switch env.Event {
	case models.EventMessageNew:
		var p models.MessageNewPayload
		if env.Decode(&p) == nil {
			fmt.Fprintf(w, "[%s] new message\n", when)
			printMessage(w, p.Message)
		}
	case models.EventMessagesRead:
		var p models.MessagesReadPayload
		if env.Decode(&p) == nil {
			fmt.Fprintf(w, "[%s] #%d read %s\n", when, p.ReaderID, pluralize(len(p.MessageIDs), "message"))
		}
	case models.EventUnreadDelta:
		fmt.Fprintf(w, "[%s] unread: %d\n", when, s.Unread.Count())
	case models.EventPresenceSnapshot, models.EventMemberAdded, models.EventMemberRemoved:
		fmt.Fprintf(w, "[%s] online: %v\n", when, s.Presence.Members())
	}
}

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"openwork/internal/engine"
	"openwork/internal/transport"
	"openwork/internal/types"
)

var (
	chatThread    string
	chatWorkspace string
	chatModel     string
	chatResume    string
	chatFeedback  string
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send one message and print the reply",
	Long: `Send one message to a thread and stream the assistant reply to stdout.

Without --thread a new thread is created and its id printed to stderr.
Use --resume approve|reject|edit to answer a pending tool approval instead
of sending a message.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		e, err := openEngine(engine.Options{})
		if err != nil {
			return err
		}
		defer e.Close()

		p := transport.Payload{ThreadID: chatThread, ModelID: chatModel}
		switch {
		case chatResume != "":
			if chatThread == "" {
				return errors.New("--resume needs --thread")
			}
			p.Command = &transport.Command{Resume: types.Decision{Type: chatResume, Feedback: chatFeedback}}
		case len(args) == 1:
			p.Message = args[0]
		default:
			return errors.New("a message is required")
		}

		if p.ThreadID == "" {
			t, err := e.CreateThread(ctx, types.ThreadMetadata{WorkspacePath: chatWorkspace, Model: chatModel})
			if err != nil {
				return err
			}
			p.ThreadID = t.ID
			fmt.Fprintf(cmd.ErrOrStderr(), "thread %s\n", t.ID)
		} else if chatWorkspace != "" {
			if _, err := e.BindWorkspace(ctx, p.ThreadID, chatWorkspace); err != nil {
				return err
			}
		}

		return printStream(cmd.OutOrStdout(), e.Stream(ctx, p))
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatThread, "thread", "t", "", "thread id (default: new thread)")
	chatCmd.Flags().StringVarP(&chatWorkspace, "workspace", "w", "", "folder to bind to the thread")
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "model id")
	chatCmd.Flags().StringVar(&chatResume, "resume", "", "answer a pending approval: approve, reject or edit")
	chatCmd.Flags().StringVar(&chatFeedback, "feedback", "", "feedback sent with --resume reject")
}

// printStream writes assistant text as it arrives and a line per tool call
// and approval request. A stream error is returned.
func printStream(w io.Writer, events <-chan transport.UIEvent) error {
	var streamErr error
	for ev := range events {
		switch ev.Event {
		case transport.EventMessages:
			parts, _ := ev.Data.([]any)
			if len(parts) > 0 {
				if m, ok := parts[0].(transport.MessageData); ok {
					fmt.Fprint(w, m.Content)
				}
			}
		case transport.EventCustom:
			switch d := ev.Data.(type) {
			case transport.ToolCallData:
				for _, tc := range d.ToolCalls {
					if tc.Name != "" {
						fmt.Fprintf(w, "\n[tool] %s\n", tc.Name)
					}
				}
			case transport.InterruptData:
				fmt.Fprintf(w, "\n[approval needed] %s %s (allowed: %s)\n",
					d.Request.ToolCall.Name, d.Request.ToolCall.ID, strings.Join(d.Request.AllowedDecisions, ", "))
			}
		case transport.EventError:
			if d, ok := ev.Data.(transport.ErrorData); ok {
				streamErr = fmt.Errorf("%s: %s", d.Error, d.Message)
			}
		}
	}
	fmt.Fprintln(w)
	return streamErr
}

// -- cmd/chat.go --
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vantor-labs/concierge/api/schemas"
	"github.com/vantor-labs/concierge/internal/agent"
	"github.com/vantor-labs/concierge/internal/observability"
	"github.com/vantor-labs/concierge/internal/service"
)

// turnHandler is the slice of service.Service the chat command needs.
type turnHandler interface {
	HandleMessage(ctx context.Context, customerID, text string) (*agent.TurnResult, error)
}

// newChatCmd creates the `chat` command: one-shot when a message argument is
// given, interactive otherwise.
func newChatCmd() *cobra.Command {
	var customerID string

	chatCmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the concierge, either one message at a time or interactively",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			svc, err := service.New(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize service: %w", err)
			}
			defer svc.Close()

			if len(args) == 1 {
				return runOnce(ctx, svc, customerID, args[0], cmd.OutOrStdout())
			}
			return runREPL(ctx, svc, customerID, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
		},
	}

	chatCmd.Flags().StringVar(&customerID, "customer", "local", "Customer ID to converse as")
	return chatCmd
}

func runOnce(ctx context.Context, h turnHandler, customerID, text string, out io.Writer) error {
	result, err := h.HandleMessage(ctx, customerID, text)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, result.Reply)
	printInvocations(out, result.Invocations)
	return nil
}

func runREPL(ctx context.Context, h turnHandler, customerID string, in io.Reader, out io.Writer, logger *zap.Logger) error {
	fmt.Fprintln(out, "Connected. Type a message, or /quit to exit.")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		result, err := h.HandleMessage(ctx, customerID, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			logger.Warn("Turn failed", zap.Error(err))
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, result.Reply)
		printInvocations(out, result.Invocations)
	}
	return scanner.Err()
}

// printInvocations summarizes what the assistant actually did this turn so
// the human can check its claims against reality.
func printInvocations(out io.Writer, invocations []schemas.ToolInvocation) {
	if len(invocations) == 0 {
		return
	}
	fmt.Fprintf(out, "  [%d action(s) this turn]\n", len(invocations))
	for _, inv := range invocations {
		status := "ok"
		if !inv.Succeeded {
			status = "failed"
		}
		if inv.Target != "" {
			fmt.Fprintf(out, "  - %s %s (%s)\n", inv.Name, inv.Target, status)
		} else {
			fmt.Fprintf(out, "  - %s (%s)\n", inv.Name, status)
		}
	}
}

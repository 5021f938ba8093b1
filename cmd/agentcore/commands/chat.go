package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newChatCmd runs one synchronous turn and prints the reply — the
// scriptable entry point, no channel loop.
func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <message>",
		Short: "Run a single agent turn and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := context.Background()

			// Resume the most recent conversation, or open the first.
			convID, err := app.Store.LatestConversation(ctx)
			if err != nil {
				convID, err = app.Store.CreateConversation(ctx)
				if err != nil {
					return fmt.Errorf("creating conversation: %w", err)
				}
			}

			result, err := app.Agent.RunTurn(ctx, convID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(result.FinalText)
			return nil
		},
	}
}

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentcore/runtime/pkg/channels"
	"github.com/agentcore/runtime/pkg/channels/cli"
	"github.com/agentcore/runtime/pkg/channels/discord"
	"github.com/agentcore/runtime/pkg/channels/whatsapp"
	"github.com/agentcore/runtime/pkg/scheduler"
)

// newServeCmd runs the long-lived agent loop on an operator channel.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent loop on an operator channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			channelName, _ := cmd.Flags().GetString("channel")
			return serve(cmd, channelName)
		},
	}
	cmd.Flags().String("channel", "cli", "operator channel: cli, discord, or whatsapp")
	return cmd
}

func serve(cmd *cobra.Command, channelName string) error {
	// The channel is built before the app so its Confirm and
	// SendChunk wire into the executor and the stream path during
	// bootstrap. Construction itself never touches the transport;
	// Start does, after bootstrap resolved its secrets.
	var ch channels.Channel
	switch channelName {
	case "cli":
		ch = cli.New(cli.Config{}, nil)
	case "discord":
		ch = &lazyDiscord{}
	case "whatsapp":
		ch = &lazyWhatsApp{}
	default:
		return fmt.Errorf("unknown channel %q", channelName)
	}

	app, err := newApp(cmd, ch)
	if err != nil {
		return err
	}
	defer app.Close()

	switch lazy := ch.(type) {
	case *cli.Channel:
		// Bind the console to the store's most recent conversation so
		// history and recall carry across restarts.
		convID, err := app.Store.LatestConversation(context.Background())
		if err != nil {
			if convID, err = app.Store.CreateConversation(context.Background()); err != nil {
				return fmt.Errorf("creating conversation: %w", err)
			}
		}
		lazy.SetConversationID(convID)
	case *lazyDiscord:
		token, err := app.Secrets.Get(app.Cfg.Channels.Discord.TokenName)
		if err != nil {
			return fmt.Errorf("resolving discord token: %w", err)
		}
		lazy.Channel = discord.New(discord.Config{
			Token:           token,
			AllowedChannels: app.Cfg.Channels.Discord.AllowedChannels,
			AllowedUsers:    app.Cfg.Channels.Discord.AllowedUsers,
		}, app.Logger)
	case *lazyWhatsApp:
		lazy.Channel = whatsapp.New(whatsapp.Config{
			SessionDir:   app.Cfg.Channels.WhatsApp.SessionPath,
			AllowedUsers: app.Cfg.Channels.WhatsApp.AllowedUsers,
		}, app.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ch.Start(ctx); err != nil {
		return fmt.Errorf("starting %s channel: %w", ch.Name(), err)
	}
	defer ch.Stop()

	sched := scheduler.New(func(conversationID, prompt string) {
		app.Agent.HandleInput(context.Background(), conversationID, prompt)
	}, app.Logger)
	for _, job := range app.Cfg.Jobs {
		if _, err := sched.Add(job.Name, job.Cron, job.Prompt, job.ConversationID); err != nil {
			app.Logger.Warn("scheduling job", "name", job.Name, "error", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		app.Logger.Info("shutting down")
		app.Agent.Shutdown()
		cancel()
	}()

	app.Logger.Info("agent serving", "channel", ch.Name(), "model", app.Cfg.LLM.Model)

	for {
		select {
		case <-app.Agent.Done():
			ch.Send("Shutting down.")
			return nil
		default:
		}

		msg, ok := ch.Recv(ctx)
		if !ok {
			app.Agent.Shutdown()
			return nil
		}

		app.Agent.SetOrigin(msg.ConversationID, msg.User, msg.Group)
		result, isCommand := app.Agent.HandleInput(ctx, msg.ConversationID, msg.Text)
		if isCommand {
			if result.Err != nil {
				ch.Send("Error: " + result.Err.Error())
				continue
			}
			ch.Send(result.Text)
			continue
		}
		ch.SendTyping()
	}
}

// lazyDiscord and lazyWhatsApp give bootstrap a stable Channel value
// to wire Confirm/SendChunk against before the transport exists; the
// real channel is assigned once the app's secret chain is up. Every
// method call happens after that assignment.
type lazyDiscord struct{ *discord.Channel }

type lazyWhatsApp struct{ *whatsapp.Channel }

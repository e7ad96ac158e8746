package main

import (
	"fmt"

	"github.com/quailyquaily/guildmind/composer"
	"github.com/quailyquaily/guildmind/emoji"
	"github.com/quailyquaily/guildmind/internal/clifmt"
	"github.com/spf13/cobra"
)

func newContextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Assemble the prompt context for a message",
	}
	cmd.AddCommand(newContextComposeCmd())
	return cmd
}

func newContextComposeCmd() *cobra.Command {
	var (
		guildID  string
		message  string
		maxChars int
	)
	cmd := &cobra.Command{
		Use:   "compose <user-id>",
		Short: "Print the context bundle the bot would send",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				if maxChars > 0 {
					a.composer.Config.MaxChars = maxChars
				}
				var inv []emoji.Emoji
				if inventoryPath(cmd) != "" {
					src, err := inventoryFromFlags(cmd, a)
					if err != nil {
						return err
					}
					if inv, err = src.Inventory(ctx); err != nil {
						a.log.Warn("inventory_unavailable", "error", err.Error())
					}
				}

				b, err := a.composer.Compose(ctx, composer.Request{
					UserID:    args[0],
					GuildID:   guildID,
					Message:   message,
					Inventory: inv,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if jsonOutput() {
					return printJSON(out, b)
				}
				fmt.Fprintln(out, b.Text())
				fmt.Fprintln(out)
				fmt.Fprintln(out, clifmt.Dim(fmt.Sprintf("bundle %s: %d chars, personality %s, dropped history=%d emoji=%d server_facts=%d user_facts=%d truncated=%v",
					b.ID, b.Len(), b.PersonalityName,
					b.Dropped.History, b.Dropped.Emoji, b.Dropped.ServerFacts, b.Dropped.UserFacts, b.Dropped.Truncated)))
				for _, w := range b.Warnings {
					fmt.Fprintln(out, clifmt.Warn("warning: "+w))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&guildID, "guild", "", "guild id the message was sent in")
	cmd.Flags().StringVar(&message, "message", "", "the incoming message, used to rank referenced emoji")
	cmd.Flags().IntVar(&maxChars, "max-chars", 0, "override composer.max_chars")
	cmd.Flags().String("inventory", "", "YAML emoji inventory file (default emoji.inventory_file)")
	return cmd
}

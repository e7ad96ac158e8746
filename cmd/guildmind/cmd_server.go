package main

import (
	"fmt"

	"github.com/quailyquaily/guildmind/internal/clifmt"
	"github.com/quailyquaily/guildmind/memory"
	"github.com/spf13/cobra"
)

func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Inspect and edit per-guild memory",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show <guild-id>",
			Short: "Print a guild's known facts",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				return withApp(ctx, func(a *app) error {
					sm, err := retryDo(ctx, a, func() (memory.ServerMemory, error) {
						return a.memory.GetServerMemory(ctx, args[0])
					})
					if err != nil {
						return err
					}
					out := cmd.OutOrStdout()
					if jsonOutput() {
						return printJSON(out, sm)
					}
					fmt.Fprintln(out, clifmt.Headerf("Guild %s", sm.GuildID))
					if len(sm.KnownFacts) == 0 {
						fmt.Fprintln(out, clifmt.Dim("No known facts recorded."))
						return nil
					}
					fmt.Fprintln(out, memory.FormatFacts("Known facts", sm.KnownFacts))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "facts <guild-id> <key=value>...",
			Short: "Merge facts into a guild's memory",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				delta, err := parseFacts(args[1:])
				if err != nil {
					return err
				}
				return withApp(ctx, func(a *app) error {
					if err := retryErr(ctx, a, func() error {
						return a.memory.UpdateServerFacts(ctx, args[0], delta)
					}); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), clifmt.Success(fmt.Sprintf("merged %d fact(s)", len(delta))))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear <guild-id>",
			Short: "Reset a guild's memory",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				return withApp(ctx, func(a *app) error {
					if err := retryErr(ctx, a, func() error {
						return a.memory.ClearServerMemory(ctx, args[0])
					}); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), clifmt.Success("server memory cleared"))
					return nil
				})
			},
		},
	)
	return cmd
}

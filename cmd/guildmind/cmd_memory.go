package main

import (
	"fmt"
	"strings"

	"github.com/quailyquaily/guildmind/internal/clifmt"
	"github.com/quailyquaily/guildmind/memory"
	"github.com/spf13/cobra"
)

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and edit per-user memory",
	}
	cmd.AddCommand(
		newMemoryShowCmd(),
		newMemoryRecordCmd(),
		newMemoryFactsCmd(),
		newMemoryLearnCmd(),
		newMemoryClearCmd(),
	)
	return cmd
}

func newMemoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Print a user's known facts and recent history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				um, err := retryDo(ctx, a, func() (memory.UserMemory, error) {
					return a.memory.GetUserMemory(ctx, args[0])
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if jsonOutput() {
					return printJSON(out, um)
				}
				fmt.Fprintln(out, clifmt.Headerf("User %s", um.UserID))
				if len(um.KnownFacts) == 0 {
					fmt.Fprintln(out, clifmt.Dim("No known facts recorded."))
				} else {
					fmt.Fprintln(out, memory.FormatFacts("Known facts", um.KnownFacts))
				}
				if len(um.History) == 0 {
					fmt.Fprintln(out, clifmt.Dim("No interaction history recorded."))
					return nil
				}
				fmt.Fprintln(out, clifmt.KV("interactions", len(um.History)))
				fmt.Fprintln(out, memory.FormatHistory(um.History))
				return nil
			})
		},
	}
}

func newMemoryRecordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "record <user-id> <role> <content...>",
		Short: "Append one interaction to a user's history",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			content := strings.Join(args[2:], " ")
			return withApp(ctx, func(a *app) error {
				if err := retryErr(ctx, a, func() error {
					return a.memory.RecordInteraction(ctx, args[0], args[1], content)
				}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), clifmt.Success("recorded"))
				return nil
			})
		},
	}
}

func newMemoryFactsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "facts <user-id> <key=value>...",
		Short: "Merge facts into a user's memory",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			delta, err := parseFacts(args[1:])
			if err != nil {
				return err
			}
			return withApp(ctx, func(a *app) error {
				if err := retryErr(ctx, a, func() error {
					return a.memory.UpdateFacts(ctx, args[0], delta)
				}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), clifmt.Success(fmt.Sprintf("merged %d fact(s)", len(delta))))
				return nil
			})
		},
	}
}

func newMemoryLearnCmd() *cobra.Command {
	var message, reply string
	cmd := &cobra.Command{
		Use:   "learn <user-id>",
		Short: "Record an exchange and extract facts from it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(message) == "" {
				return fmt.Errorf("--message is required")
			}
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				if a.memory.Extractor == nil {
					a.log.Warn("fact_extraction_disabled", "hint", "set llm.api_key and memory.extract_facts")
				}
				if err := retryErr(ctx, a, func() error {
					return a.memory.LearnFromExchange(ctx, args[0], message, reply)
				}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), clifmt.Success("learned"))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "the user's message")
	cmd.Flags().StringVar(&reply, "reply", "", "the bot's reply")
	return cmd
}

func newMemoryClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <user-id>",
		Short: "Reset a user's memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				if err := retryErr(ctx, a, func() error {
					return a.memory.ClearUserMemory(ctx, args[0])
				}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), clifmt.Success("memory cleared"))
				return nil
			})
		},
	}
}

package main

import (
	"fmt"
	"strings"

	"github.com/quailyquaily/guildmind/internal/clifmt"
	"github.com/quailyquaily/guildmind/personality"
	"github.com/spf13/cobra"
)

func newPersonalityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "personality",
		Short: "List, inspect and assign guild personalities",
	}
	cmd.AddCommand(
		newPersonalityListCmd(),
		newPersonalityShowCmd(),
		newPersonalitySetCmd(),
		newPersonalityResetCmd(),
	)
	return cmd
}

func newPersonalityListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered personalities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				reg := a.personality.Registry
				out := cmd.OutOrStdout()
				if jsonOutput() {
					defs := make([]personality.Definition, 0, len(reg.Names()))
					for _, name := range reg.Names() {
						def, _ := reg.Lookup(name)
						defs = append(defs, def)
					}
					return printJSON(out, defs)
				}
				for _, name := range reg.Names() {
					def, _ := reg.Lookup(name)
					fmt.Fprintf(out, "%s  %s\n", clifmt.Key(name), clifmt.Dim(def.DisplayName))
				}
				return nil
			})
		},
	}
}

func newPersonalityShowCmd() *cobra.Command {
	var showPrompt bool
	cmd := &cobra.Command{
		Use:   "show [guild-id]",
		Short: "Show the personality in effect for a guild",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			guildID := ""
			if len(args) == 1 {
				guildID = args[0]
			}
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				eff, err := retryDo(ctx, a, func() (personality.Effective, error) {
					return a.personality.Effective(ctx, guildID)
				})
				if err != nil {
					a.log.Warn("personality_degraded", "guild_id", guildID, "error", err.Error())
					eff = a.personality.Default()
				}
				out := cmd.OutOrStdout()
				if jsonOutput() {
					return printJSON(out, eff)
				}
				fmt.Fprintln(out, clifmt.KV("personality", eff.Name))
				fmt.Fprintln(out, clifmt.KV("display_name", eff.Definition.DisplayName))
				fmt.Fprintln(out, clifmt.KV("configured", eff.Configured))
				if showPrompt {
					fmt.Fprintln(out)
					fmt.Fprintln(out, strings.TrimSpace(eff.Prompt))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&showPrompt, "prompt", false, "also print the rendered system prompt")
	return cmd
}

func newPersonalitySetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <guild-id> <name>",
		Short: "Assign a registered personality to a guild",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				err := retryErr(ctx, a, func() error {
					return a.personality.SetServerPersonality(ctx, args[0], args[1])
				})
				if err != nil {
					return fmt.Errorf("%w (available: %s)", err, strings.Join(a.personality.Registry.Names(), ", "))
				}
				fmt.Fprintln(cmd.OutOrStdout(), clifmt.Success("personality set to "+args[1]))
				return nil
			})
		},
	}
}

func newPersonalityResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <guild-id>",
		Short: "Return a guild to the default personality",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				if err := retryErr(ctx, a, func() error {
					return a.personality.ResetServerPersonality(ctx, args[0])
				}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), clifmt.Success("personality reset to "+personality.DefaultName))
				return nil
			})
		},
	}
}

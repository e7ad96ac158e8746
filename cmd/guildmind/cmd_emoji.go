package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/quailyquaily/guildmind/emoji"
	"github.com/quailyquaily/guildmind/internal/clifmt"
	"github.com/quailyquaily/guildmind/inventory"
	"github.com/quailyquaily/guildmind/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newEmojiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emoji",
		Short: "Describe, list and refresh custom emoji",
	}
	cmd.PersistentFlags().String("inventory", "", "YAML emoji inventory file (default emoji.inventory_file)")

	cmd.AddCommand(
		newEmojiDescribeCmd(),
		newEmojiListCmd(),
		newEmojiForgetCmd(),
		newEmojiRefreshCmd(),
		newEmojiWatchCmd(),
		newEmojiRenderCmd(),
	)
	return cmd
}

// inventoryPath prefers the command's --inventory flag over config.
func inventoryPath(cmd *cobra.Command) string {
	if f := cmd.Flags().Lookup("inventory"); f != nil && f.Changed {
		return strings.TrimSpace(f.Value.String())
	}
	return strings.TrimSpace(viper.GetString("emoji.inventory_file"))
}

func inventoryFromFlags(cmd *cobra.Command, a *app) (*inventory.File, error) {
	path := inventoryPath(cmd)
	if path == "" {
		return nil, fmt.Errorf("no inventory file (use --inventory or emoji.inventory_file)")
	}
	return inventory.NewFile(path, a.log.With("component", "inventory")), nil
}

func newEmojiDescribeCmd() *cobra.Command {
	var (
		e     emoji.Emoji
		force bool
	)
	cmd := &cobra.Command{
		Use:   "describe <guild-id> <name>",
		Short: "Get an emoji description, analyzing it on a miss",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e.GuildID, e.Name = args[0], args[1]
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				var (
					desc string
					err  error
				)
				if force {
					desc, err = a.emoji.Refresh(ctx, e)
				} else {
					desc, err = a.emoji.GetOrAnalyze(ctx, e)
				}
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if jsonOutput() {
					return printJSON(out, map[string]string{"guild_id": e.GuildID, "name": e.Name, "description": desc})
				}
				fmt.Fprintf(out, "%s %s\n", clifmt.Key("{"+e.Name+"}"), desc)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&e.ID, "id", "", "emoji id, used to build the image URL")
	cmd.Flags().StringVar(&e.URL, "url", "", "explicit image URL")
	cmd.Flags().BoolVar(&e.Animated, "animated", false, "the emoji is animated")
	cmd.Flags().BoolVar(&force, "refresh", false, "re-analyze even if a description is cached")
	return cmd
}

func newEmojiListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <guild-id>",
		Short: "List cached descriptions for a guild",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				rows, err := retryDo(ctx, a, func() ([]store.EmojiDescription, error) {
					return a.store.ListEmojiDescriptions(ctx, args[0])
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if jsonOutput() {
					return printJSON(out, rows)
				}
				if len(rows) == 0 {
					fmt.Fprintln(out, clifmt.Dim("No cached emoji descriptions."))
					return nil
				}
				for _, r := range rows {
					src := string(r.Source)
					if r.Source == store.SourceFallback {
						src = clifmt.Warn(src)
					}
					fmt.Fprintf(out, "%s [%s] %s\n", clifmt.Key(r.EmojiName), src, r.Description)
				}
				return nil
			})
		},
	}
}

func newEmojiForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <guild-id> <name>",
		Short: "Drop a cached description",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				if err := retryErr(ctx, a, func() error {
					return a.emoji.Forget(ctx, args[0], args[1])
				}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), clifmt.Success("forgot "+args[1]))
				return nil
			})
		},
	}
}

func newEmojiRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Run one refresh cycle over the inventory file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				src, err := inventoryFromFlags(cmd, a)
				if err != nil {
					return err
				}
				r := &emoji.Refresher{Manager: a.emoji, Source: src, Logger: a.log}
				stats, err := r.RunOnce(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if jsonOutput() {
					return printJSON(out, stats)
				}
				fmt.Fprintln(out, clifmt.Headerf("Refresh"))
				fmt.Fprintln(out, clifmt.KV("seen", stats.Seen))
				fmt.Fprintln(out, clifmt.KV("cached", stats.Cached))
				fmt.Fprintln(out, clifmt.KV("analyzed", stats.Analyzed))
				fmt.Fprintln(out, clifmt.KV("fallbacks", stats.Fallbacks))
				fmt.Fprintln(out, clifmt.KV("upgraded", stats.Upgraded))
				fmt.Fprintln(out, clifmt.KV("pruned", stats.Pruned))
				fmt.Fprintln(out, clifmt.KV("failed", stats.Failed))
				return nil
			})
		},
	}
}

func newEmojiWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh descriptions periodically until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				src, err := inventoryFromFlags(cmd, a)
				if err != nil {
					return err
				}
				srv := metricsServer(a, strings.TrimSpace(viper.GetString("metrics.addr")))
				if srv != nil {
					go func() {
						if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
							a.log.Error("metrics_server_failed", "addr", srv.Addr, "error", err.Error())
						}
					}()
					a.log.Info("metrics_server_started", "addr", srv.Addr)
				}

				r := &emoji.Refresher{
					Manager:  a.emoji,
					Source:   src,
					Interval: emojiConfigFromViper().RefreshInterval,
					Logger:   a.log.With("component", "refresher"),
				}
				if err := r.Start(ctx); err != nil {
					return err
				}
				<-ctx.Done()
				r.Stop()

				if srv != nil {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}
				return nil
			})
		},
	}
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	_ = viper.BindPFlag("metrics.addr", cmd.Flags().Lookup("metrics-addr"))
	return cmd
}

func metricsServer(a *app, addr string) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func newEmojiRenderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "render <guild-id> <text...>",
		Short: "Rewrite {name} tags into platform emoji using the inventory",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				src, err := inventoryFromFlags(cmd, a)
				if err != nil {
					return err
				}
				inv, err := src.Inventory(ctx)
				if err != nil {
					return err
				}
				var guild []emoji.Emoji
				for _, e := range inv {
					if e.GuildID == args[0] {
						guild = append(guild, e)
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), emoji.ReplaceTags(strings.Join(args[1:], " "), guild))
				return nil
			})
		},
	}
}

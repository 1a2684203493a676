package main

import (
	"fmt"

	"github.com/spf13/cobra"

	plugins "github.com/chabad360/plugins/v2"
)

func newDiscoverCommand(a *app) *cobra.Command {
	var (
		views []string
		reset bool
		quiet bool
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Load the modules in the module folder",
		Long: `Discover reads every module archive in the module folder, activates the
enabled ones in dependency order and prints the resulting views.`,
		Example: `  # Load ./plugins and show what loaded and what failed
  pluginhost discover --dir ./plugins --view loaded --view failed

  # Keep the exclusion set in SQLite
  pluginhost discover --db ./pluginhost.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			selected := make([]plugins.View, 0, len(views))
			for _, name := range views {
				v, err := plugins.ParseView(name)
				if err != nil {
					return err
				}
				selected = append(selected, v)
			}

			ctx := cmd.Context()
			store, closeStore, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			var opts []plugins.Option
			if reset {
				opts = append(opts, plugins.WithResetSettings())
			}
			host, err := a.newHost(ctx, store, opts...)
			if err != nil {
				return err
			}
			defer func() {
				if err := host.Shutdown(); err != nil {
					a.logger.Warn("shutdown", "error", err)
				}
			}()

			if !quiet {
				unsubscribe := host.Subscribe(func(e plugins.Event) {
					if e.Type == plugins.EventProgress {
						renderProgress(cmd.ErrOrStderr(), e)
					}
				})
				defer unsubscribe()
			}

			n, err := host.Discover(ctx, a.cfg.Dir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, v := range selected {
				renderView(out, v, host.Query(v))
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%d module(s) loaded from %s", n, a.cfg.Dir)))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&views, "view", []string{"loaded", "failed", "disabled"}, "views to print: all, loaded, failed, enabled, disabled")
	cmd.Flags().BoolVar(&reset, "reset-settings", false, "clear the persisted exclusion set first")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")

	return cmd
}

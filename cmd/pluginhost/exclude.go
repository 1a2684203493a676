package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newExcludeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exclude",
		Short: "Manage the set of disabled modules",
		Long: `Modules whose file is in the exclusion set are not activated by discover
and are listed in the disabled view instead.`,
		Example: `  pluginhost exclude list --db ./pluginhost.db
  pluginhost exclude add ./plugins/net.zip --db ./pluginhost.db
  pluginhost exclude remove ./plugins/net.zip --db ./pluginhost.db`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List excluded module files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.editExclusion(cmd, nil)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add <file>...",
		Short: "Exclude module files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.editExclusion(cmd, func(set map[string]bool) {
				for _, p := range args {
					set[absolute(p)] = true
				}
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <file>...",
		Short: "Re-enable module files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.editExclusion(cmd, func(set map[string]bool) {
				for _, p := range args {
					delete(set, absolute(p))
				}
			})
		},
	})

	return cmd
}

// editExclusion applies edit to the persisted exclusion set and prints the result.
// A nil edit only prints.
func (a *app) editExclusion(cmd *cobra.Command, edit func(map[string]bool)) error {
	ctx := cmd.Context()
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	host, err := a.newHost(ctx, store)
	if err != nil {
		return err
	}

	if edit != nil {
		set := make(map[string]bool)
		for _, p := range host.Exclusion() {
			set[p] = true
		}
		edit(set)

		paths := make([]string, 0, len(set))
		for p := range set {
			paths = append(paths, p)
		}
		host.SetExclusion(paths)
		if err := host.PersistExclusion(ctx); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	excluded := host.Exclusion()
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("EXCLUDED (%d)", len(excluded))))
	for _, p := range excluded {
		fmt.Fprintln(out, disabledStyle.Render("  "+p))
	}
	return nil
}

func absolute(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return abs
}

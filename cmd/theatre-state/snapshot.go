package main

import (
	"fmt"

	"github.com/jo-chemla/theatre"
	"github.com/spf13/cobra"
)

func newSnapshotCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Store, list and show snapshots",
	}

	var ahistoricPath string
	save := &cobra.Command{
		Use:   "save KEY STATE",
		Short: "Store STATE as the historic branch of snapshot KEY",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			studio, _, log, err := g.openStudio(cmd)
			if err != nil {
				return err
			}
			defer studio.Close()

			historic, err := readTree(args[1])
			if err != nil {
				return err
			}
			ahistoric := any(map[string]any{})
			if ahistoricPath != "" {
				if ahistoric, err = readTree(ahistoricPath); err != nil {
					return err
				}
			}

			if err := studio.Transaction(func(tx *theatre.Transaction) error {
				tx.Set(theatre.Historic, nil, historic)
				tx.Set(theatre.Ahistoric, nil, ahistoric)
				return nil
			}); err != nil {
				return err
			}
			if err := studio.Snapshot(cmd.Context(), args[0]); err != nil {
				return err
			}
			log.Info("Stored snapshot", "key", args[0])
			return nil
		},
	}
	save.Flags().StringVar(&ahistoricPath, "ahistoric", "", "State file for the ahistoric branch")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			studio, _, _, err := g.openStudio(cmd)
			if err != nil {
				return err
			}
			defer studio.Close()

			for _, key := range studio.Snapshots(cmd.Context()) {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show KEY",
		Short: "Print a stored snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			studio, _, _, err := g.openStudio(cmd)
			if err != nil {
				return err
			}
			defer studio.Close()

			if err := studio.Restore(cmd.Context(), args[0]); err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), map[string]any{
				"historic":  studio.Historic().Get(),
				"ahistoric": studio.Ahistoric().Get(),
			})
		},
	}

	cmd.AddCommand(save, list, show)
	return cmd
}

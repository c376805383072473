package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jo-chemla/theatre/kstate"
	"github.com/spf13/cobra"
)

var errInvalidState = errors.New("state does not match schema")

func newValidateCmd(g *globalFlags) *cobra.Command {
	var schemaPath string
	cmd := &cobra.Command{
		Use:   "validate STATE...",
		Short: "Check state files against a JSON schema",
		Long: `validate checks every STATE file against --schema, or against the schema
of the config file. Every violation is printed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if schemaPath == "" {
				cfg, err := g.config()
				if err != nil {
					return err
				}
				schemaPath = cfg.Schema
			}
			if schemaPath == "" {
				return errors.New("no schema: pass --schema or set schema in the config")
			}
			src, err := os.ReadFile(schemaPath)
			if err != nil {
				return err
			}
			schema, err := kstate.CompileSchema(src)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			invalid := 0
			for _, path := range args {
				tree, err := readTree(path)
				if err != nil {
					return err
				}
				err = schema.Validate(tree)
				if err == nil {
					fmt.Fprintf(out, "%s: ok\n", path)
					continue
				}
				violations := kstate.Violations(err)
				if violations == nil {
					return err
				}
				invalid++
				for _, v := range violations {
					fmt.Fprintf(out, "%s: %v\n", path, v)
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d files: %w", invalid, len(args), errInvalidState)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&schemaPath, "schema", "s", "", "JSON schema file")
	return cmd
}

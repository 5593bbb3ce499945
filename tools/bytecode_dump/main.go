// contentrex/tools/bytecode_dump/main.go

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"rgehrsitz/contentrex/pkg/bytecode"
	"rgehrsitz/contentrex/pkg/bytecode/bytecodetest"
	"rgehrsitz/contentrex/pkg/compiler"
	"rgehrsitz/contentrex/pkg/store"
	"rgehrsitz/contentrex/pkg/validator"
)

type redisOptions struct {
	address  string
	password string
	database int
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var redisOpts redisOptions

	rootCmd := &cobra.Command{
		Use:          "bytecode_dump",
		Short:        "Inspect compiled content extensions",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&redisOpts.address, "redis-addr", "localhost:6379", "Redis address")
	rootCmd.PersistentFlags().StringVar(&redisOpts.password, "redis-password", "", "Redis password")
	rootCmd.PersistentFlags().IntVar(&redisOpts.database, "redis-db", 0, "Redis database")

	rootCmd.AddCommand(newFileCmd())
	rootCmd.AddCommand(newRedisCmd(&redisOpts))
	rootCmd.AddCommand(newMatchCmd())
	rootCmd.AddCommand(newVerifyCmd())
	return rootCmd
}

func newFileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "file <path>",
		Short: "Disassemble an extension file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ext, err := compiler.ReadExtensionFile(args[0])
			if err != nil {
				return err
			}
			return dumpExtension(cmd.OutOrStdout(), ext)
		},
	}
}

func newRedisCmd(opts *redisOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "redis [id]",
		Short: "List stored extensions, or disassemble one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.NewRedisStore(cmd.Context(), opts.address, opts.password, opts.database, "")
			if err != nil {
				return err
			}
			defer st.Close()

			if len(args) == 0 {
				ids, err := st.ListExtensions(cmd.Context())
				if err != nil {
					return err
				}
				slices.Sort(ids)
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			}

			ext, err := st.LoadExtension(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return dumpExtension(cmd.OutOrStdout(), ext)
		},
	}
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <path>...",
		Short: "Check that extension files decode and reference only known actions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				ext, err := compiler.ReadExtensionFile(path)
				if err != nil {
					return err
				}
				if err := validator.ValidateExtension(ext); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				chunks := len(ext.FiltersWithoutConditions) + len(ext.FiltersWithConditions) + len(ext.ConditionedFilters)
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d chunks, %d bytes of bytecode\n", path, chunks, ext.BytecodeSize())
			}
			return nil
		},
	}
}

func newMatchCmd() *cobra.Command {
	var typeNames []string

	cmd := &cobra.Command{
		Use:   "match <path> <url> [domain]",
		Short: "Show the actions an extension file applies to a URL",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var flags compiler.ResourceFlags
			for _, name := range typeNames {
				flag, ok := compiler.ResourceFlagsByName(name)
				if !ok {
					return fmt.Errorf("unknown resource or load type %q", name)
				}
				flags |= flag
			}

			ext, err := compiler.ReadExtensionFile(args[0])
			if err != nil {
				return err
			}
			streams := []struct {
				name   string
				chunks [][]byte
				input  string
			}{
				{"filters without conditions", ext.FiltersWithoutConditions, args[1]},
				{"filters with conditions", ext.FiltersWithConditions, args[1]},
			}
			if len(args) == 3 {
				streams = append(streams, struct {
					name   string
					chunks [][]byte
					input  string
				}{"domain conditions", ext.ConditionedFilters, args[2]})
			}

			for _, stream := range streams {
				actions, err := bytecodetest.InterpretAll(stream.chunks, stream.input, uint16(flags))
				if err != nil {
					return fmt.Errorf("%s: %w", stream.name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s:\n", stream.name)
				for _, action := range actions {
					fmt.Fprintln(cmd.OutOrStdout(), describeAction(ext.Actions, action))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&typeNames, "type", nil, "Resource and load types of the request, e.g. image,third-party")
	return cmd
}

func describeAction(actions []byte, word uint64) string {
	location := uint32(word)
	action, _, err := compiler.DeserializeAction(actions, location)
	if err != nil {
		return fmt.Sprintf("%6d  <%v>", location, err)
	}
	text := fmt.Sprintf("%6d  %s", location, action.Type)
	if action.StringArgument != "" {
		text += " " + action.StringArgument
	}
	if word&bytecode.IfConditionFlag != 0 {
		text += " (if-domain)"
	}
	return text
}

func dumpExtension(w io.Writer, ext *compiler.CompiledExtension) error {
	actions, err := compiler.DeserializeActions(ext.Actions)
	if err != nil {
		return err
	}
	locations := make([]uint32, 0, len(actions))
	for location := range actions {
		locations = append(locations, location)
	}
	slices.Sort(locations)

	fmt.Fprintf(w, "actions: %d bytes\n", len(ext.Actions))
	for _, location := range locations {
		fmt.Fprintln(w, describeAction(ext.Actions, uint64(location)))
	}

	for _, stream := range []struct {
		name   string
		chunks [][]byte
	}{
		{"filters without conditions", ext.FiltersWithoutConditions},
		{"filters with conditions", ext.FiltersWithConditions},
		{"domain conditions", ext.ConditionedFilters},
	} {
		for i, chunk := range stream.chunks {
			fmt.Fprintf(w, "\n%s %d/%d\n", stream.name, i+1, len(stream.chunks))
			if err := bytecode.Dump(w, chunk); err != nil {
				return err
			}
		}
	}
	fmt.Fprintln(w, strings.Repeat("-", 40))
	fmt.Fprintf(w, "bytecode: %d bytes\n", ext.BytecodeSize())
	return nil
}

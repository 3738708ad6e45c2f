package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// memoryCmd manages the facts injected into every conversation
var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage remembered facts",
	RunE:  runMemoryList,
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remembered facts",
	RunE:  runMemoryList,
}

var memoryAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Remember a fact",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMemoryAdd,
}

var memoryRmCmd = &cobra.Command{
	Use:   "rm <index>",
	Short: "Forget a fact by its list index",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryRm,
}

func init() {
	memoryCmd.AddCommand(memoryListCmd, memoryAddCmd, memoryRmCmd)
}

func runMemoryList(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer app.Close()

	out := cmd.OutOrStdout()
	items := app.Profile.Memory()
	if len(items) == 0 {
		fmt.Fprintln(out, "Nothing remembered yet.")
		return nil
	}
	for i, item := range items {
		fmt.Fprintf(out, "%3d. %s\n", i, item)
	}
	return nil
}

func runMemoryAdd(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer app.Close()

	added, err := app.Profile.AddMemory(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("adding memory: %w", err)
	}
	if !added {
		fmt.Fprintln(cmd.OutOrStdout(), "Already remembered.")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Remembered.")
	return nil
}

func runMemoryRm(cmd *cobra.Command, args []string) error {
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("index must be a number: %w", err)
	}

	app, err := openApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Profile.DeleteMemory(cmd.Context(), index); err != nil {
		return fmt.Errorf("removing memory %d: %w", index, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Forgotten.")
	return nil
}

package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zjrosen/sortpool/internal/algorithm"
	"github.com/zjrosen/sortpool/internal/ui/markdown"
	"github.com/zjrosen/sortpool/internal/ui/styles"
)

const defaultDescribeWidth = 80

var algorithmsCmd = &cobra.Command{
	Use:     "algorithms",
	Aliases: []string{"algos"},
	Short:   "List the registered sorting algorithms",
	Args:    cobra.NoArgs,
	RunE:    runAlgorithms,
}

var describeCmd = &cobra.Command{
	Use:   "describe <name>",
	Short: "Explain how an algorithm works and which options it takes",
	Args:  cobra.ExactArgs(1),
	RunE:  runDescribe,
}

func init() {
	rootCmd.AddCommand(algorithmsCmd)
	algorithmsCmd.AddCommand(describeCmd)
}

func runAlgorithms(cmd *cobra.Command, _ []string) error {
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("NAME", "STABLE", "SUMMARY")
	for _, a := range algorithm.Default().List() {
		stable := "no"
		if a.Stable {
			stable = "yes"
		}
		t.Row(a.Name, stable, styles.DescriptionStyle.Render(a.Summary))
	}
	fmt.Fprintln(cmd.OutOrStdout(), t.Render())
	return nil
}

func runDescribe(cmd *cobra.Command, args []string) error {
	a, err := algorithm.Default().Lookup(args[0])
	if err != nil {
		return err
	}
	rendered, err := markdown.New(cfg.UI.MarkdownStyle).Render(cmd.Context(), a.Description, describeWidth())
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), rendered)
	return nil
}

func describeWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return min(w, 100)
	}
	return defaultDescribeWidth
}

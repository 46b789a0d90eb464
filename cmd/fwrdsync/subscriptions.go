package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/pders01/fwrdsync/internal/subscriptions"
	"github.com/pders01/fwrdsync/internal/tui"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Subscribe to every feed in a subscriptions file",
	Long: `Create the folders and feeds listed in a TOML subscriptions file, as
written by export. Feeds the account already has are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := subscriptions.ReadFile(args[0])
		if err != nil {
			return err
		}
		return withSession(cmd, func(s *session) error {
			report, err := subscriptions.Import(cmd.Context(), s.account, doc)
			if report != nil {
				urls := make([]string, 0, len(report.Failed))
				for u := range report.Failed {
					urls = append(urls, u)
				}
				sort.Strings(urls)
				for _, u := range urls {
					printStatus(cmd, tui.StatusWarn, fmt.Sprintf("%s: %v", u, report.Failed[u]))
				}
				kind := tui.StatusSuccess
				if len(report.Failed) > 0 {
					kind = tui.StatusWarn
				}
				printStatus(cmd, kind, tui.MsgImportSummary(report.FoldersCreated, report.FeedsCreated, len(report.Skipped), len(report.Failed)))
			}
			return err
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write the subscriptions as a TOML file",
	Long:  `Write folders and feeds to a file, or to stdout when the file is "-" or omitted.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *session) error {
			doc, err := subscriptions.Export(s.Mirror())
			if err != nil {
				return err
			}
			if len(args) == 0 || args[0] == "-" {
				return subscriptions.Write(cmd.OutOrStdout(), doc)
			}
			if err := subscriptions.WriteFile(args[0], doc); err != nil {
				return err
			}
			printStatus(cmd, tui.StatusSuccess, fmt.Sprintf("Exported %d feeds to %s", doc.Len(), args[0]))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(importCmd, exportCmd)
}

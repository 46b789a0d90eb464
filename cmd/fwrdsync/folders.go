package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/pders01/fwrdsync/internal/tui"
)

var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Manage folders",
}

var folderAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a folder",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *session) error {
			folder, err := s.account.CreateFolder(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			printStatus(cmd, tui.StatusSuccess, tui.MsgAddedFolder(folder.Name))
			return nil
		})
	},
}

var folderRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove a folder and unsubscribe from its feeds",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *session) error {
			folder, err := resolveFolder(s.Mirror(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if err := s.account.RemoveFolder(cmd.Context(), folder); err != nil {
				return err
			}
			printStatus(cmd, tui.StatusSuccess, tui.MsgFolderRemoved)
			return nil
		})
	},
}

var folderRenameCmd = &cobra.Command{
	Use:   "rename <name> <new-name>",
	Short: "Rename a folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *session) error {
			folder, err := resolveFolder(s.Mirror(), args[0])
			if err != nil {
				return err
			}
			if err := s.account.RenameFolder(cmd.Context(), folder, args[1]); err != nil {
				return err
			}
			printStatus(cmd, tui.StatusSuccess, tui.MsgFolderRenamed)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(folderCmd)
	folderCmd.AddCommand(folderAddCmd, folderRmCmd, folderRenameCmd)
}

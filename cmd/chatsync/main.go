package main

import (
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/spf13/cobra"

	chatsync_cmds "github.com/go-go-golems/chatsync/cmd/chatsync/cmds"
)

var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "chatsync talks to a remote agent over WebSocket with a REST fallback",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.InitLoggerFromCobra(cmd)
	},
}

func main() {
	cobra.CheckErr(clay.InitGlazed("chatsync", rootCmd))

	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, rootCmd)

	commands, err := chatsync_cmds.All()
	cobra.CheckErr(err)
	for _, c := range commands {
		cobraCmd, err := cli.BuildCobraCommand(c)
		cobra.CheckErr(err)
		rootCmd.AddCommand(cobraCmd)
	}

	cobra.CheckErr(rootCmd.Execute())
}

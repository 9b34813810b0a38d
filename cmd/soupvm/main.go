// Command soupvm runs and interrupts bytecode-VM snapshot images
// (spec §6.4).
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	log := logrus.New()
	root := newRootCmd(log)
	if err := root.Execute(); err != nil {
		log.WithError(err).Error("soupvm: command failed")
		os.Exit(1)
	}
}

func newRootCmd(log *logrus.Logger) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "soupvm",
		Short: "A bytecode VM for pure object-oriented snapshot images",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newRunCmd(log))
	root.AddCommand(newInterruptCmd(log))
	return root
}

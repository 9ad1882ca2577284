package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
	"github.com/jkaninda/kalimcp/internal/config"
	"github.com/jkaninda/kalimcp/internal/registry"
)

var toolsConfigPath string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tool allow-list with availability",
	RunE:  runTools,
}

func init() {
	toolsCmd.Flags().StringVar(&toolsConfigPath, "config", config.DefaultConfigPath(), "path to config file")
}

func runTools(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := config.Load(goutils.Env("KALIMCP_CONFIG", toolsConfigPath))
	if err != nil {
		return err
	}

	reg := registry.New(cfg.Tools.Extra, logger)
	reg.RefreshAll(context.Background())

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCATEGORY\tAVAILABLE\tVERSION\tPATH")
	for _, d := range reg.List() {
		available := "no"
		if d.Available {
			available = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.Name, d.Category, available, d.Version, d.Path)
	}
	return w.Flush()
}

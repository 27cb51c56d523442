package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	bannercolor "github.com/fatih/color"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/notification"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/properties"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

func printBanner() {
	figure1 := figure.NewFigure("Regrid", "isometric1", true)
	bannercolor.Cyan("%s", figure1.String())
	bannercolor.Cyan("virtual pixels for OCO-3 footprints")
	fmt.Println()
}

type app struct {
	v          *viper.Viper
	configFile string
	quiet      bool
	cfg        properties.Config
	log        *logrus.Logger
}

func (a *app) load(cmd *cobra.Command, _ []string) error {
	properties.LoadEnv(".env", "../.env")
	cfg, err := properties.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	a.cfg = cfg
	a.log = cfg.Logger()
	if !a.quiet {
		printBanner()
	}
	return nil
}

// loadWith binds the running command's flags to their keys, then loads.
// Viper keeps one binding per key and subcommands share flag names.
func (a *app) loadWith(flags map[string]string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		for _, name := range utils.SortedKeys(flags) {
			bind(a.v, cmd.Flags().Lookup(name), flags[name])
		}
		return a.load(cmd, args)
	}
}

func newRootCmd() *cobra.Command {
	return newApp().rootCmd()
}

func newApp() *app {
	return &app{v: viper.New()}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "regrid",
		Short:         "Aggregate fine ECOSTRESS rasters over forest into coarse OCO-3 sized cells",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.configFile, "config", "c", "", "YAML configuration file")
	pf.BoolVarP(&a.quiet, "quiet", "q", false, "hide banner, progress and status lines")
	pf.String("base-path", ".", "root folder of the data tree")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.Int("workers", 0, "worker count, 0 sizes the pool from the CPU count")
	pf.Float64("coverage-threshold", 0.5, "minimum fraction of forest samples for a cell to be kept")
	bind(a.v, pf.Lookup("base-path"), "base_path")
	bind(a.v, pf.Lookup("log-level"), "log_level")
	bind(a.v, pf.Lookup("workers"), "workers")
	bind(a.v, pf.Lookup("coverage-threshold"), "coverage_threshold")

	root.AddCommand(newRunCmd(a), newExtractCmd(a), newPrepareMasksCmd(a), newVersionCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := 0
	func() {
		defer func() {
			if r := recover(); r != nil {
				bannercolor.Red("PANIC: %v", r)
				msg := fmt.Sprintf("regrid panic:\n\n%v\n\nStack trace:\n%s", r, debug.Stack())
				if err := notification.NewNotifier(os.Getenv(properties.EnvPrefix + "_DISCORD_WEBHOOK_URL")).SendError(context.Background(), msg); err != nil {
					bannercolor.Red("Failed to send notification: %s", err)
				}
				code = 2
			}
		}()
		if err := newRootCmd().ExecuteContext(ctx); err != nil {
			bannercolor.Red("Error: %s", err)
			code = 1
			if errors.Is(err, context.Canceled) {
				code = 130
			}
		}
	}()
	os.Exit(code)
}

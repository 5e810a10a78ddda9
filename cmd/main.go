package main

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cloudsum/cloudsum/internal/config"
	internalerrors "github.com/cloudsum/cloudsum/internal/errors"
	"github.com/cloudsum/cloudsum/internal/logging"
	"github.com/cloudsum/cloudsum/internal/repository/objectstore"
	"github.com/cloudsum/cloudsum/internal/service"
)

var (
	cfg             *config.Config
	generateService *service.GenerateService
	checkService    *service.CheckService
	copyService     *service.CopyService
)

var (
	cfgFile    string
	quiet      bool
	showStats  bool
	prettyJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "cloudsum",
	Short: "Generate, check and copy object checksums across storage backends",
	Long: "cloudsum computes checksums for local files and cloud objects, " +
		"records them in .sums files, compares objects across backends, and " +
		"copies objects with end-to-end verification.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress bars")
	rootCmd.PersistentFlags().Bool("stats", false, "Print operation statistics to stderr")
	rootCmd.PersistentFlags().Bool("pretty-json", false, "Indent JSON output")
	rootCmd.PersistentFlags().Int("concurrency", 0, "Bound on parallel transfers and checksum workers")
}

func initConfig() {
	var err error
	cfg, err = config.LoadConfig(cfgFile, rootCmd)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	logging.InitLogger(cfg)

	showStats, _ = rootCmd.PersistentFlags().GetBool("stats")
	prettyJSON, _ = rootCmd.PersistentFlags().GetBool("pretty-json")
	if concurrency, _ := rootCmd.PersistentFlags().GetInt("concurrency"); concurrency > 0 {
		cfg.Concurrency = concurrency
	}

	// Initialize services
	factory := objectstore.NewObjectRepositoryFactory(cfg.AwsConfig)
	generateService = service.NewGenerateService(factory, cfg)
	checkService = service.NewCheckService(factory, cfg)
	copyService = service.NewCopyService(factory, cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, internalerrors.ErrChecksumMismatch) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

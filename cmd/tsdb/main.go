// Command tsdb bootstraps a time-series similarity-search database: it
// binds the on-disk layout and engine tunables to flags, opens a
// StorageManager, and blocks until asked to shut down. The network server,
// wire protocol, and REST front end that would normally sit in front of
// this process are external collaborators and are not implemented here.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iamNilotpal/tsisax/internal/engine"
	"github.com/iamNilotpal/tsisax/pkg/logger"
	"github.com/iamNilotpal/tsisax/pkg/options"
)

var (
	flagTSLength    int
	flagDataDir     string
	flagDBName      string
	flagFlushEvery  int
	flagSAXWord     int
	flagSAXCard     int
	flagSAXThresh   int
	flagVPCutoff    float64
)

var rootCmd = &cobra.Command{
	Use:   "tsdb",
	Short: "Run the time-series similarity-search storage engine",
	RunE:  run,
}

func init() {
	def := options.NewDefaultOptions()

	rootCmd.PersistentFlags().IntVar(&flagTSLength, "ts_length", def.TSLength, "fixed series length (L)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data_dir", def.DataDir, "root directory for databases")
	rootCmd.PersistentFlags().StringVar(&flagDBName, "db_name", def.DBName, "subdirectory under data_dir")
	rootCmd.PersistentFlags().IntVar(&flagFlushEvery, "flush_every", def.FlushEvery, "WAL snapshot cadence, in operations")
	rootCmd.PersistentFlags().IntVar(&flagSAXWord, "sax_word_length", def.SAX.WordLength, "iSAX word length (w); must divide ts_length")
	rootCmd.PersistentFlags().IntVar(&flagSAXCard, "sax_cardinality", def.SAX.Cardinality, "SAX alphabet cardinality (c); must be a power of two")
	rootCmd.PersistentFlags().IntVar(&flagSAXThresh, "sax_threshold", def.SAX.TerminalThreshold, "iSAX terminal node split threshold")
	rootCmd.PersistentFlags().Float64Var(&flagVPCutoff, "vp_cutoff", def.VP.InitialCutoff, "initial vantage-point triangle-inequality cutoff")

	_ = viper.BindPFlags(rootCmd.PersistentFlags())
	viper.SetEnvPrefix("tsisax")
	viper.AutomaticEnv()
}

func run(cmd *cobra.Command, args []string) error {
	log := logger.New("tsdb")

	opt := options.New(
		options.WithTSLength(viper.GetInt("ts_length")),
		options.WithDataDir(viper.GetString("data_dir")),
		options.WithDBName(viper.GetString("db_name")),
		options.WithFlushEvery(viper.GetInt("flush_every")),
		options.WithSAX(options.SAXOptions{
			WordLength:        viper.GetInt("sax_word_length"),
			Cardinality:       viper.GetInt("sax_cardinality"),
			TerminalThreshold: viper.GetInt("sax_threshold"),
		}),
		options.WithVPCutoff(viper.GetFloat64("vp_cutoff")),
	)

	sm, err := engine.Open(opt)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	log.Infow("database opened", "data_dir", opt.DataDir, "db_name", opt.DBName, "ts_length", opt.TSLength)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	log.Info("shutting down, flushing state")
	if err := sm.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

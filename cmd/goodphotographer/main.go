package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/GoodPhotographer/goodphotographer/internal/log"
	"github.com/GoodPhotographer/goodphotographer/internal/model"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

const (
	configEnv  = "GOODPHOTOGRAPHER_CONFIG"
	configName = "goodphotographer.yaml"
)

var (
	userConfigPath string // /default/config/path/goodphotographer on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config
	closeLog       = func() error { return nil }

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

// errRunFailed is returned when the processor ran but reported failure.
var errRunFailed = errors.New("processing failed")

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "goodphotographer")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is "+configName+" in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initGoodPhotographer

	runCmd.Flags().StringVar(&flagExportDir, "export-dir", "", "export directory, default is a new timestamped directory under export.root")
	runCmd.Flags().StringSliceVar(&flagFormats, "format", nil, "output formats replacing the ones from the batch: website_bio, spin_bio, nucleus_round")
	runCmd.Flags().StringVar(&flagTimeout, "timeout", "", "processor timeout, e.g. 15m, replacing worker.timeout")
	runCmd.Flags().BoolVar(&flagQuiet, "quiet", false, "do not print progress")
	historyCmd.Flags().IntVar(&flagLimit, "limit", 20, "number of runs to list, 0 lists all")
	intakeCmd.Flags().StringVarP(&flagOutput, "output", "o", "-", "batch file to write, - is stdout")
	intakeCmd.Flags().IntVar(&flagJobs, "jobs", runtime.NumCPU(), "number of files inspected at once")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(locateCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(intakeCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

// exitCode logs err and closes the log, in this order: service.log may be a
// file which must still be open for the final record.
func exitCode(err error) int {
	code := 0
	switch {
	case errors.Is(err, errRunFailed):
		code = 2
	case err != nil:
		slog.Error("goodphotographer failed", "err", err)
		code = 1
	}
	if cerr := closeLog(); cerr != nil {
		_, _ = fmt.Fprintf(os.Stderr, "closing log: %v\n", cerr)
	}
	return code
}

var rootCmd = &cobra.Command{
	Use:          "goodphotographer",
	Short:        "Tool turning portrait photos into website, spin and nucleus assets",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a goodphotographer",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("goodphotographer: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("goodphotographer: %s\n", info.Main.Version)
		fmt.Printf("go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initGoodPhotographer(cmd *cobra.Command, _ []string) error {
	// .env may carry GOODPHOTOGRAPHER_CONFIG, it never overrides the real environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	if envConfig, ok := os.LookupEnv(configEnv); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, configName)
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig(cmd.Context())
		configPath = filepath.Join(userConfigPath, configName)
		err := os.MkdirAll(filepath.Dir(configPath), 0755)
		if err != nil {
			return fmt.Errorf("creating directory %s: %w", filepath.Dir(configPath), err)
		}

		f, err := os.Create(configPath)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", configPath, err)
		}
		defer func() {
			_ = f.Close()
		}()
		enc := yaml.NewEncoder(f)
		err = enc.Encode(config)
		if err != nil {
			return fmt.Errorf("storing configuration: %w", err)
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		cfg, err := model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error("invalid configuration", d.Attr("detail"))
			}
			return fmt.Errorf("parsing config: %w", err)
		}
		config = *cfg
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		if config.Service == nil {
			config.Service = &model.Service{}
		}
		verbose := true
		config.Service.Verbose = &verbose
	}

	// initialize logging
	w, closer, err := log.Open(config.Log())
	if err != nil {
		return err
	}
	closeLog = closer
	slog.SetDefault(log.New(w, config.Verbose()))

	slog.Debug("goodphotographer run", "configPath", configPath)
	slog.Debug("goodphotographer run", "config", config)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

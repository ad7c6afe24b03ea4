package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	nested "github.com/antonfisher/nested-logrus-formatter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/inthespace/tunneller/internal/admin"
	"github.com/inthespace/tunneller/internal/config"
	"github.com/inthespace/tunneller/internal/connmgr"
	"github.com/inthespace/tunneller/internal/event"
	"github.com/inthespace/tunneller/internal/monitor"
	"github.com/inthespace/tunneller/internal/tunnel"
)

var (
	configPath string
	logLevel   string
	watch      bool
)

var rootCmd = &cobra.Command{
	Use:   "tunneller",
	Short: "Reverse-tunnel agent with path-based HTTP routing",
	RunE:  runAgent,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.tunneler/tunneler-config.json)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&watch, "watch", false, "reload routes when the config file changes")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAgent(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		configPath = p
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	initLogging(cfg)

	store := config.NewStore(*cfg)
	tracker := connmgr.NewManager()
	stats := monitor.NewStats()
	bus := event.NewBus()

	agent := tunnel.NewAgent(store, tracker, stats, bus)

	adminSrv := admin.New(store, agent, stats, bus)
	if err := adminSrv.Start(); err != nil {
		return err
	}

	var stopWatch func()
	if watch {
		stopWatch, err = config.WatchFile(configPath, store)
		if err != nil {
			log.Warnf("config watch unavailable: %v", err)
		}
	}

	agent.Connect()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	agent.Disconnect()
	if stopWatch != nil {
		stopWatch()
	}
	_ = adminSrv.Stop()

	if final := store.Snapshot(); final.AutoSave {
		if err := config.Save(configPath, final); err != nil {
			log.Errorf("config save failed: %v", err)
		} else {
			log.Infof("configuration saved to %s", configPath)
		}
	}
	return nil
}

func initLogging(cfg *config.Config) {
	log.SetFormatter(&nested.Formatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FieldsOrder:     []string{"session", "request", "pattern", "target"},
	})

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if level != "" {
		if parsed, err := log.ParseLevel(level); err == nil {
			log.SetLevel(parsed)
		} else {
			log.Warnf("invalid log level %q, using info", level)
		}
	}

	if cfg.LoggingEnabled && cfg.LogFile != "" {
		log.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
		}))
	}
}

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/gmsas95/pillpal/internal/app"
	"github.com/gmsas95/pillpal/internal/cli"
	"github.com/gmsas95/pillpal/internal/config"
	"github.com/gmsas95/pillpal/internal/store"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	dataDir    = flag.String("data", "", "Path to data directory")
	version    = "dev"
)

func main() {
	flag.Usage = cli.PrintHelp
	flag.Parse()
	cli.Version = version

	args := flag.Args()
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve", "server":
		runServer()
	case "user":
		application := initApp(nil)
		defer application.Store.Close()
		cli.HandleUserCommand(args, application)
	case "summary":
		application := initApp(nil)
		defer application.Store.Close()
		cli.HandleSummaryCommand(args, application)
	case "config":
		cli.HandleConfigCommand(args, *configPath, *dataDir)
	case "help", "--help", "-h":
		cli.PrintHelp()
	case "version", "--version", "-v":
		fmt.Printf("pillpal version %s\n", version)
	default:
		fmt.Printf("Unknown command: %s\n\n", cmd)
		cli.PrintHelp()
		os.Exit(1)
	}
}

func runServer() {
	var current atomic.Pointer[app.App]
	application := initApp(func(next *config.Config) {
		if a := current.Load(); a != nil {
			a.ApplyConfig(next)
		}
	})
	current.Store(application)
	defer application.Logger.Sync()

	err := application.RunServer()
	if cerr := application.Store.Close(); cerr != nil {
		application.Logger.Error("Failed to close store", zap.Error(cerr))
	}
	if err != nil {
		application.Logger.Fatal("Server stopped", zap.Error(err))
	}
}

// initApp loads config, the logger and the store. A non-nil onChange
// also watches the config file.
func initApp(onChange func(*config.Config)) *app.App {
	var (
		cfg *config.Config
		err error
	)
	if onChange != nil {
		cfg, err = config.LoadWatched(*configPath, *dataDir, onChange)
	} else {
		cfg, err = config.Load(*configPath, *dataDir)
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := app.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Info("Starting pillpal",
		zap.String("version", version),
		zap.String("driver", cfg.Storage.Driver),
		zap.String("data_dir", cfg.Storage.DataDir),
	)

	st, err := store.New(cfg, logger.Named("store"))
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}

	return app.New(cfg, st, logger, version)
}

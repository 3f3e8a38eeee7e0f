// Package main provides a CLI for training and managing detection models.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloudsentinel/internal/config"
	"cloudsentinel/internal/model"
	"cloudsentinel/internal/schema"
	"cloudsentinel/internal/storage"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "train":
		runTrainCmd(os.Args[2:])
	case "list":
		runListCmd(os.Args[2:])
	case "activate":
		runActivateCmd(os.Args[2:])
	case "-version", "--version", "-v":
		fmt.Printf("sentinel-train %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: sentinel-train <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  train     Train a model on stored or file-provided events\n")
	fmt.Fprintf(os.Stderr, "  list      List trained models\n")
	fmt.Fprintf(os.Stderr, "  activate  Activate a trained model by name\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	fmt.Fprintf(os.Stderr, "  -version  Show version and exit\n")
}

func runTrainCmd(args []string) {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	name := fs.String("name", "", "Model name (defaults to a timestamped name)")
	contamination := fs.Float64("contamination", 0, "Expected anomaly fraction (defaults to config value)")
	limit := fs.Int("limit", 50000, "Maximum number of stored events to train on")
	file := fs.String("file", "", "Train on a JSON array of events instead of the store")
	activate := fs.Bool("activate", false, "Activate the model after training")
	fs.Parse(args)

	cfg, registry, store, cleanup := setup()
	defer cleanup()

	ctx := context.Background()

	if *name == "" {
		*name = fmt.Sprintf("isoforest-%s", time.Now().UTC().Format("20060102-150405"))
	}
	if *contamination == 0 {
		*contamination = cfg.Model.Contamination
	}

	events, err := loadEvents(ctx, store, *file, *limit)
	if err != nil {
		fatal("failed to load training events: %v", err)
	}
	if len(events) == 0 {
		fatal("no training events available")
	}

	fmt.Printf("Training %q on %d events (contamination %.3f)\n", *name, len(events), *contamination)

	var info model.TrainingInfo
	if *activate {
		info, err = registry.TrainAndActivate(ctx, *name, events, *contamination)
	} else {
		info, err = registry.Train(ctx, *name, events, *contamination)
	}
	if err != nil {
		fatal("training failed: %v", err)
	}

	fmt.Printf("Trained %q: %s, %d samples, %d features\n",
		*name, info.ModelType, info.SampleCount, info.FeatureCount)
	if *activate {
		fmt.Printf("Model %q is now active\n", *name)
	}
}

func runListCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.Parse(args)

	_, _, store, cleanup := setup()
	defer cleanup()

	metas, err := store.ListModels(context.Background())
	if err != nil {
		fatal("failed to list models: %v", err)
	}
	if len(metas) == 0 {
		fmt.Println("No trained models")
		return
	}

	for _, m := range metas {
		active := " "
		if m.IsActive {
			active = "*"
		}
		fmt.Printf("%s %-40s samples=%-7d features=%-3d trained=%s\n",
			active, m.Name, m.SampleCount, m.FeatureCount,
			m.TrainedAt.UTC().Format(time.RFC3339))
	}
}

func runActivateCmd(args []string) {
	fs := flag.NewFlagSet("activate", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: sentinel-train activate <model-name>\n")
		os.Exit(1)
	}
	name := fs.Arg(0)

	_, registry, _, cleanup := setup()
	defer cleanup()

	if err := registry.Activate(context.Background(), name); err != nil {
		fatal("failed to activate %q: %v", name, err)
	}
	fmt.Printf("Model %q is now active\n", name)
}

// setup loads config and builds the registry against the configured
// store. The returned cleanup closes everything in order.
func setup() (*config.Config, *model.Registry, storage.Store, func()) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fatal("failed to load config: %v", err)
	}

	ctx := context.Background()

	var store storage.Store
	var chClient *storage.ClickHouseClient

	if cfg.Storage.Enabled {
		chClient, err = storage.NewClickHouseClient(cfg.Storage.ClickHouse)
		if err != nil {
			fatal("failed to connect to ClickHouse: %v", err)
		}
		chStore := storage.NewClickHouseStore(chClient, cfg.Storage.BatchWriter)
		if err := chStore.Migrate(ctx); err != nil {
			fatal("failed to run migrations: %v", err)
		}
		store = chStore
	} else {
		// Without ClickHouse there is no durable event history to train
		// on; the in-memory store only supports file-based training.
		store = storage.NewMemoryStore()
	}

	var artifacts model.ArtifactStore
	if cfg.Model.S3.Enabled {
		artifacts, err = model.NewS3Store(ctx, cfg.Model.S3.S3Config, logger)
		if err != nil {
			fatal("failed to create S3 artifact store: %v", err)
		}
	} else {
		artifacts = model.NewDirStore(cfg.Model.ArtifactDir)
	}

	registry := model.NewRegistry(model.NewSlot(nil), artifacts, store, logger)

	cleanup := func() {
		store.Close()
		if chClient != nil {
			chClient.Close()
		}
	}

	return cfg, registry, store, cleanup
}

// loadEvents reads training events from a JSON file or the store.
func loadEvents(ctx context.Context, store storage.Store, file string, limit int) ([]*schema.Event, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		var events []*schema.Event
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		return events, nil
	}

	processed, err := store.ListEvents(ctx, storage.EventFilter{Limit: limit})
	if err != nil {
		return nil, err
	}

	events := make([]*schema.Event, 0, len(processed))
	for _, p := range processed {
		events = append(events, p.Event)
	}
	return events, nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

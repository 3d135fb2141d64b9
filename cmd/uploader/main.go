package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/maneesh/cloudchest/internal/client"
	"github.com/maneesh/cloudchest/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("Usage: %s <file> [file ...]", os.Args[0])
	}
	paths := os.Args[1:]

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	stateStore, err := client.NewFileStateStore(cfg.StateDir)
	if err != nil {
		log.Fatalf("Failed to open state directory: %v", err)
	}

	uploader := client.NewUploader(cfg.ServerURL,
		client.WithToken(cfg.AuthToken),
		client.WithPartSize(cfg.GetPartSizeBytes()),
		client.WithStateStore(stateStore),
		client.WithProgress(func(name string, done, total int) {
			log.Printf("%s: part %d/%d uploaded", name, done, total)
		}),
	)

	// Ctrl-C cancels in-flight uploads; the uploader aborts their
	// server-side sessions on the way out.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Uploading %d file(s) to %s", len(paths), cfg.ServerURL)
	results := uploader.UploadAll(ctx, paths)

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			log.Printf("FAILED %s: %v", res.Path, res.Err)
			continue
		}
		log.Printf("OK %s -> %s (%d bytes)", res.Path, res.Record.FileID, res.Record.Size)
	}

	if failed > 0 {
		log.Fatalf("%d of %d uploads failed", failed, len(results))
	}
}

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"retsync/config"
	"retsync/geocode"
	"retsync/httputil"
	"retsync/importer"
	"retsync/logging"
	"retsync/models"
	"retsync/rets"
	"retsync/scheduler"
	"retsync/storage"
	"retsync/workers"
)

var (
	syncNow   = flag.Bool("sync", false, "Run a sync cycle once and exit")
	syncFrom  = flag.String("from", "", "With -sync: sync from this instant (2006-01-02T15:04:05) without moving the watermark")
	syncProp  = flag.String("property", "", "Sync a single property by MLS number and exit")
	propClass = flag.String("class", "RES", "Property class for -property (RES, COM, LND)")
	syncAgent = flag.String("agent", "", "Sync a single agent by LA code and exit")
	status    = flag.Bool("status", false, "Print recent sync runs and exit")
	queueCmd  = flag.String("queue", "", "Queue a command for a running daemon (sync_now, sync_property, sync_agent, run_geocode) and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogPath)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting retsync...")

	clients := httputil.NewClients()
	retsClient := rets.NewHTTPClient(cfg.RETS.URL, cfg.RETS.Username, cfg.RETS.Password, clients.RETS)

	ctx := context.Background()

	pgStore, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pgStore.Close()
	log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.DatabaseURL))

	opsStore, err := storage.NewOpsStore(cfg.OpsDBPath)
	if err != nil {
		log.Fatalf("Failed to open ops database: %v", err)
	}
	defer opsStore.Close()
	log.Printf("Ops database: %s", cfg.OpsDBPath)

	var imageStore importer.ImageStore
	if cfg.S3.Bucket != "" {
		s3Store, err := storage.NewS3Store(ctx, cfg.S3)
		if err != nil {
			log.Fatalf("Failed to set up image storage: %v", err)
		}
		imageStore = s3Store
		log.Printf("Image storage: bucket %s", cfg.S3.Bucket)
	} else {
		imageStore = importer.NoOpImageStore{}
		log.Println("No S3_BUCKET configured, images will be discarded")
	}

	var enricher *importer.Enricher
	if cfg.Geocode.APIKey != "" {
		provider := geocode.NewGoogleProvider(cfg.Geocode.URL, cfg.Geocode.APIKey, clients.Geocode)
		enricher = importer.NewEnricher(provider, pgStore)
	} else {
		log.Println("No GEOCODE_API_KEY configured, skipping coordinate enrichment")
	}

	fetcher := importer.NewFetcher(retsClient, cfg.Sync.Limit)
	upserter := importer.NewUpserter(pgStore, pgStore, cfg.PropertyMappings, cfg.AgentMappings)
	images := importer.NewImageSync(retsClient, imageStore, pgStore, cfg.TempPath)
	orchestrator := importer.NewOrchestrator(cfg, fetcher, upserter, images, enricher, pgStore, pgStore, pgStore, opsStore)

	// One-shot modes
	switch {
	case *status:
		printStatus(opsStore)
		return
	case *queueCmd != "":
		params := &models.CommandParams{MLSAcct: *syncProp, Class: *propClass, LaCode: *syncAgent}
		if err := opsStore.EnqueueCommand(models.CommandType(*queueCmd), params); err != nil {
			log.Fatalf("Failed to queue command: %v", err)
		}
		log.Printf("Queued %s", *queueCmd)
		return
	case *syncProp != "":
		class := models.PropertyClass(*propClass)
		if !class.Valid() {
			log.Fatalf("Unknown property class: %s", *propClass)
		}
		if err := orchestrator.SyncProperty(ctx, *syncProp, class); err != nil {
			log.Fatalf("Sync failed: %v", err)
		}
		return
	case *syncAgent != "":
		if err := orchestrator.SyncAgent(ctx, *syncAgent); err != nil {
			log.Fatalf("Sync failed: %v", err)
		}
		return
	case *syncNow:
		log.Println("Running sync cycle...")
		if *syncFrom != "" {
			since, err := time.Parse(rets.TimeFormat, *syncFrom)
			if err != nil {
				log.Fatalf("Invalid -from value: %v", err)
			}
			err = orchestrator.RunCycleFrom(ctx, since)
			if err != nil {
				log.Fatalf("Sync failed: %v", err)
			}
		} else if err := orchestrator.RunCycle(ctx); err != nil {
			log.Fatalf("Sync failed: %v", err)
		}
		log.Println("Sync complete!")
		return
	}

	// Daemon mode
	sched := scheduler.New(cfg, orchestrator, opsStore)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	if enricher != nil {
		geocodeWorker := workers.NewGeocodeWorker(enricher)
		sched.SetWorkers(geocodeWorker)
		go geocodeWorker.Run(ctx, 1*time.Hour)
		log.Println("Geocode worker started")
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	sched.Stop()
	log.Println("Goodbye!")
}

func printStatus(store *storage.OpsStore) {
	runs, err := store.GetRecentRuns(10)
	if err != nil {
		log.Fatalf("Failed to read runs: %v", err)
	}
	if len(runs) == 0 {
		log.Println("No sync runs recorded yet")
		return
	}
	for _, run := range runs {
		finished := "running"
		if run.FinishedAt != nil {
			finished = run.FinishedAt.Format(time.RFC3339)
		}
		log.Printf("%s  %-9s  found=%d upserted=%d images=%d/%d geocoded=%d errors=%d  finished=%s",
			run.StartedAt.Format(time.RFC3339), run.Status,
			run.RecordsFound, run.RecordsUpserted,
			run.ImagesReplaced, run.ImagesReplaced+run.ImageFailures,
			run.GeocodeUpdated, run.ErrorsCount, finished)
	}
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}

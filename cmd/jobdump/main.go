package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"wattwatch/config"
	"wattwatch/models"
	"wattwatch/services"
	"wattwatch/store"

	"go.uber.org/zap"
)

var (
	deviceID = flag.String("device", "", "Only dump this device id (default all registered devices)")
	limit    = flag.Int("last", 0, "Only print the last N jobs per device")
)

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	// Reads the same .env as the service to find the store
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	kv, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer kv.Close()

	repo := store.NewRepository(kv)
	history := services.NewJobHistory(repo, 0, logger)
	ledger := services.NewUsageLedger(repo, cfg.PricePerKWh, logger)

	ids := []string{*deviceID}
	if *deviceID == "" {
		ids, err = repo.DeviceIDs(ctx)
		if err != nil {
			logger.Fatal("Failed to read device list", zap.Error(err))
		}
	}

	if len(ids) == 0 {
		fmt.Println("No devices registered")
		return
	}

	for _, id := range ids {
		jobs, err := history.List(ctx, id)
		if err != nil {
			logger.Error("Failed to read jobs", zap.String("device_id", id), zap.Error(err))
			continue
		}
		if *limit > 0 && len(jobs) > *limit {
			jobs = jobs[len(jobs)-*limit:]
		}

		name := id
		if info, err := repo.Info(ctx, id); err == nil && info.Name != "" {
			name = info.Name
		}

		fmt.Printf("%s (%s): %d job(s)\n", name, id, len(jobs))
		for _, job := range jobs {
			printJob(job, ledger.Cost(job.Total))
		}

		if tally, err := ledger.Tally(ctx, id, time.Now()); err == nil {
			for _, scope := range models.Scopes {
				bucket := tally.Buckets[scope]
				fmt.Printf("  %-9s %-12s %10.3f Wh  %8.2f\n", scope, bucket.Scope, bucket.Energy, bucket.Cost)
			}
		}
		fmt.Println("---")
	}
}

func printJob(job models.Job, cost float64) {
	fmt.Printf("  %s  %s -> %s  %6ds  %10.3f Wh  %8.2f\n",
		job.ID,
		job.StartedDateTime,
		job.FinishedDateTime,
		job.Runtime,
		job.Total,
		cost)
}

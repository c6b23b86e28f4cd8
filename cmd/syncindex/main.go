// Command syncindex mirrors the products and users tables into Meilisearch.
// Run it after seeding the database and whenever the tables change.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/askdb-ai/askdb/internal/config"
	"github.com/askdb-ai/askdb/internal/logger"
	"github.com/askdb-ai/askdb/internal/meili"
	"github.com/askdb-ai/askdb/internal/syncjob"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall sync deadline")
	flag.Parse()

	if err := run(*configPath, *timeout); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return err
	}

	client := meili.NewClient(meili.Config{
		Host:    cfg.Meilisearch.Host,
		APIKey:  cfg.Meilisearch.APIKey,
		Timeout: cfg.Meilisearch.Timeout,
	})
	if err := client.Health(ctx); err != nil {
		return err
	}

	return syncjob.NewSyncer(db, client, logger.New("syncindex")).Run(ctx)
}

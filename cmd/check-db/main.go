// Package main compares the metadata registry with the collection store and
// prints every organization whose collection is missing and every collection no
// organization references. It exits 1 when anything is found so it can gate
// deploys or run as a cron health check. With archives enabled, each organization
// whose collection is gone is listed with its newest archive. It never repairs anything.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tenant-service/tenant-service/internal/collections"
	"github.com/tenant-service/tenant-service/internal/config"
	"github.com/tenant-service/tenant-service/internal/db"
	"github.com/tenant-service/tenant-service/internal/db/repositories"
	"github.com/tenant-service/tenant-service/internal/services"
	"github.com/tenant-service/tenant-service/internal/storage"
	_ "github.com/tenant-service/tenant-service/internal/storage/local"
	_ "github.com/tenant-service/tenant-service/internal/storage/s3"
	"github.com/tenant-service/tenant-service/internal/telemetry"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	telemetry.SetupLogger("text", "warn", "check-db")

	database, err := db.Connect(cfg.Database.GetDSN(), 2, 1)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()
	sqlxDB := sqlx.NewDb(database, "postgres")

	store, err := collections.NewFromConfig(cfg.Collections, sqlxDB)
	if err != nil {
		log.Fatalf("Failed to open collection store: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	report, err := services.CheckConsistency(ctx, repositories.NewRegistryRepository(sqlxDB), store)
	if err != nil {
		log.Fatalf("Check failed: %v", err)
	}

	if cfg.Archive.Enabled && len(report.Dangling) > 0 {
		backend, err := storage.NewStorage(&cfg.Archive)
		if err != nil {
			log.Fatalf("Failed to open archive backend: %v", err)
		}
		report.AttachArchives(ctx, storage.NewCollectionArchiver(backend))
	}

	fmt.Printf("Organizations: %d\n", report.Organizations)
	fmt.Printf("Collections:   %d (backend: %s)\n", report.Collections, cfg.Collections.Backend)

	if report.Clean() {
		fmt.Println("\nRegistry and collection store agree.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if len(report.Dangling) > 0 {
		fmt.Fprintln(w, "\n=== ORGANIZATIONS WITHOUT A COLLECTION ===")
		fmt.Fprintln(w, "ID\tNAME\tCOLLECTION\tUPDATED\tLATEST ARCHIVE\tRECORDS")
		for _, org := range report.Dangling {
			archive, records := "-", "-"
			if a, ok := report.Archives[org.CollectionID]; ok {
				archive, records = a.Key, fmt.Sprint(a.RecordCount)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				org.ID, org.Name, org.CollectionID, org.UpdatedAt.Format(time.RFC3339), archive, records)
		}
	}
	if len(report.Orphans) > 0 {
		fmt.Fprintln(w, "\n=== COLLECTIONS WITHOUT AN ORGANIZATION ===")
		for _, id := range report.Orphans {
			fmt.Fprintln(w, id)
		}
	}
	w.Flush()

	// deferred closes do not run past os.Exit
	store.Close()
	database.Close()
	os.Exit(1)
}

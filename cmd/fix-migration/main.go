// Package main is a repair tool for dirty migration state in the registry
// database. golang-migrate marks a version dirty while it runs and clears the flag
// when it finishes; a crash in between leaves the flag set and blocks every later
// startup with "Dirty database version". This tool forces the recorded version,
// which clears the flag so the next start retries cleanly. Check that the
// interrupted migration left no partial changes before running it.
package main

import (
	"log"
	"os"

	"github.com/tenant-service/tenant-service/internal/config"
	"github.com/tenant-service/tenant-service/internal/db"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), 1, 1)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	log.Println("Connected to database successfully")

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		log.Fatalf("Failed to check migration state: %v", err)
	}
	log.Printf("Current migration state: version=%d, dirty=%v", version, dirty)

	if !dirty {
		log.Println("Migration state is already clean")
		return
	}

	log.Println("Fixing dirty migration state...")
	if err := db.ForceMigrationVersion(database, int(version)); err != nil { // #nosec G115 -- migration versions are small
		log.Fatalf("Failed to fix dirty state: %v", err)
	}

	version, dirty, err = db.GetMigrationVersion(database)
	if err != nil {
		log.Fatalf("Failed to check final migration state: %v", err)
	}
	log.Printf("Final migration state: version=%d, dirty=%v", version, dirty)
}

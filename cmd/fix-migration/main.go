// Package main is a repair tool for dirty migration state. Dirty state occurs
// when golang-migrate marks a version as in progress and the process is
// interrupted before it completes; the server then refuses to start. This tool
// forces the recorded version (the current one by default) and clears the flag
// so the next startup can retry cleanly.
//
// Usage: fix-migration [version]
package main

import (
	"log"
	"os"
	"strconv"

	"github.com/orbit-workspaces/orbit/internal/config"
	"github.com/orbit-workspaces/orbit/internal/db"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), 2, 1)
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

	target := int(version)
	if len(os.Args) > 1 {
		target, err = strconv.Atoi(os.Args[1])
		if err != nil {
			log.Fatalf("Invalid version %q: %v", os.Args[1], err)
		}
	}

	if !dirty && target == int(version) {
		log.Println("Migration state is already clean")
		return
	}

	log.Printf("Forcing migration version %d...", target)
	if err := db.ForceMigrationVersion(database, target); err != nil {
		log.Fatalf("Failed to fix dirty state: %v", err)
	}

	version, dirty, err = db.GetMigrationVersion(database)
	if err != nil {
		log.Fatalf("Failed to check final migration state: %v", err)
	}
	log.Printf("Final migration state: version=%d, dirty=%v", version, dirty)
}

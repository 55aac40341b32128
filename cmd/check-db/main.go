// Package main is a diagnostic tool for testing database connectivity and
// inspecting synced workspaces. It loads the server configuration, reports the
// migration state and prints each workspace with its role count and last sync.
// It exits non-zero on any failure so it can gate deployments in CI.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/orbit-workspaces/orbit/internal/config"
	"github.com/orbit-workspaces/orbit/internal/db"
	"github.com/orbit-workspaces/orbit/internal/db/repositories"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), 2, 1)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		log.Fatalf("Failed to read migration state: %v", err)
	}
	fmt.Printf("=== SCHEMA ===\nversion=%d dirty=%v\n", version, dirty)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sqlxDB := sqlx.NewDb(database, "postgres")
	workspaces := repositories.NewWorkspaceRepository(sqlxDB)
	roles := repositories.NewRoleRepository(sqlxDB)

	list, err := workspaces.ListWorkspaces(ctx)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	fmt.Println("\n=== WORKSPACES ===")
	for _, ws := range list {
		wsRoles, err := roles.ListWorkspaceRoles(ctx, ws.GroupID)
		if err != nil {
			log.Printf("Warning: failed to list roles for %d: %v", ws.GroupID, err)
			continue
		}
		name := "(unnamed)"
		if ws.GroupName != nil {
			name = *ws.GroupName
		}
		synced := "never"
		if ws.LastSynced != nil {
			synced = ws.LastSynced.Format(time.RFC3339)
		}
		fmt.Printf("Workspace: %s (group %d) - roles: %d - last synced: %s\n", name, ws.GroupID, len(wsRoles), synced)
	}

	if len(list) == 0 {
		fmt.Println("No workspaces found!")
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"authtoken/internal/config"
	"authtoken/internal/storage/mongodb"
	"authtoken/internal/storage/sqlite"
)

func main() {
	var configPath, migrationsPath string
	flag.StringVar(&configPath, "config", "", "path to config file (or use CONFIG_PATH env)")
	flag.StringVar(&migrationsPath, "migrations-path", "", "path to sqlite migrations (overrides config)")
	flag.Parse()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	var cfg *config.Config
	if configPath != "" {
		cfg = config.LoadConfig(configPath)
	} else {
		cfg = config.MustLoad()
	}

	if migrationsPath == "" {
		migrationsPath = cfg.Storage.MigrationsPath
	}

	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		log.Printf("Applying migrations from %s to %s...", migrationsPath, cfg.Storage.Path)

		applied, err := sqlite.Migrate(cfg.Storage.Path, migrationsPath)
		if err != nil {
			log.Fatalf("failed to apply migrations: %v", err)
		}
		if !applied {
			fmt.Println("no migrations to apply")
			return
		}
	case config.DriverMongo:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Mongo.Timeout)
		defer cancel()

		log.Println("Connecting to MongoDB...")

		storage, err := mongodb.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			log.Fatalf("failed to connect to mongodb: %v", err)
		}
		defer storage.Close(ctx)

		log.Println("MongoDB connected, indexes created successfully")
	default:
		log.Fatalf("unknown storage driver %q", cfg.Storage.Driver)
	}

	fmt.Println("Database initialization completed successfully")
}

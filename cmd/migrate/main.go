package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kdimtricp/smilegame/internal/database"
	"github.com/kdimtricp/smilegame/internal/logging"
)

func main() {
	var (
		dbType         = flag.String("db", "postgres", "Database type (postgres or sqlite)")
		host           = flag.String("host", "localhost", "Database host")
		port           = flag.Int("port", 5432, "Database port")
		user           = flag.String("user", "smilegame", "Database user")
		password       = flag.String("password", "smilegame_dev", "Database password")
		dbName         = flag.String("name", "smilegame", "Database name")
		sqlitePath     = flag.String("sqlite", "./smilegame.db", "SQLite database path")
		migrationsPath = flag.String("migrations", "./migrations", "Path to migrations directory")
		status         = flag.Bool("status", false, "Show migration status only")
		logLevel       = flag.String("log-level", "info", "Log level")
	)
	flag.Parse()

	logger, err := logging.New(logging.Config{Level: *logLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	config := database.Config{
		Type:       *dbType,
		Host:       *host,
		Port:       *port,
		User:       *user,
		Password:   *password,
		Name:       *dbName,
		SQLitePath: *sqlitePath,
	}

	// Override with environment variables if set
	if env := os.Getenv("DB_TYPE"); env != "" {
		config.Type = env
	}
	if env := os.Getenv("DB_HOST"); env != "" {
		config.Host = env
	}
	if env := os.Getenv("DB_USER"); env != "" {
		config.User = env
	}
	if env := os.Getenv("DB_PASSWORD"); env != "" {
		config.Password = env
	}
	if env := os.Getenv("DB_NAME"); env != "" {
		config.Name = env
	}
	if env := os.Getenv("DB_PATH"); env != "" {
		config.SQLitePath = env
	}

	db, err := database.NewDB(config, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	migrator := database.NewMigrator(db.Conn(), config.Type, logger)

	if !*status {
		logger.Infof("Running migrations from %s", *migrationsPath)
		if err := db.RunMigrations(*migrationsPath); err != nil {
			logger.Fatalf("Failed to run migrations: %v", err)
		}
		fmt.Println("Migrations completed successfully!")
		return
	}

	if err := migrator.Initialize(); err != nil {
		logger.Fatalf("Failed to initialize migrator: %v", err)
	}

	applied, err := migrator.GetAppliedMigrations()
	if err != nil {
		logger.Fatalf("Failed to get applied migrations: %v", err)
	}

	migrations, err := migrator.LoadMigrations(*migrationsPath)
	if err != nil {
		logger.Fatalf("Failed to load migrations: %v", err)
	}

	fmt.Println("Migration Status:")
	fmt.Println("=================")
	for _, m := range migrations {
		state := "pending"
		if config.Type == database.TypeSQLite {
			state = "not used (sqlite schema is built in)"
		} else if applied[m.Version] {
			state = "applied"
		}
		fmt.Printf("%s - %s [%s]\n", m.Version, m.Name, state)
	}
}

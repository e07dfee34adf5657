package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kdimtricp/smilegame/internal/config"
	"github.com/kdimtricp/smilegame/internal/database"
	"github.com/kdimtricp/smilegame/internal/highscore"
	"github.com/kdimtricp/smilegame/internal/logging"
)

func main() {
	var (
		mode   = flag.String("mode", "", "Only list rounds of this mode")
		recent = flag.Int("recent", 5, "Number of recent rounds to show")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{Level: "warn"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	db, err := database.NewDB(cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("Smile Game Statistics")
	fmt.Println("=====================")
	fmt.Printf("Database: %s\n\n", db.Type())

	scores, err := database.NewHighScoreRepo(db).All(ctx)
	if err != nil {
		logger.Fatalf("Failed to read high scores: %v", err)
	}
	if cfg.HighScores.Backend != config.BackendSQL {
		fmt.Printf("Note: the server keeps high scores in %s; showing the SQL table only.\n", cfg.HighScores.Backend)
	}
	fmt.Println("High scores:")
	for _, m := range highscore.Modes() {
		fmt.Printf("  %-6s %d\n", m, scores[m])
	}
	fmt.Println()

	rounds := database.NewRoundRepository(db)

	counts, err := rounds.CountByReason(ctx)
	if err != nil {
		logger.Fatalf("Failed to count rounds: %v", err)
	}
	if len(counts) == 0 {
		fmt.Println("No rounds played yet")
		return
	}

	fmt.Println("Rounds by end reason:")
	total := 0
	for _, c := range counts {
		fmt.Printf("  %-6s %-10s %d\n", c.Mode, c.Reason, c.Count)
		total += c.Count
	}
	fmt.Printf("  total %d\n\n", total)

	list, err := rounds.List(ctx, *mode, *recent)
	if err != nil {
		logger.Fatalf("Failed to list rounds: %v", err)
	}

	fmt.Println("Recent rounds:")
	for _, r := range list {
		marker := ""
		if r.NewHighScore {
			marker = " (new high score)"
		}
		fmt.Printf("  %s  %-6s %-10s score=%-3d %-10s %.1fs%s\n",
			r.EndedAt.Format("Jan 2 15:04"), r.Mode, r.Policy, r.Score, r.Reason,
			float64(r.ElapsedMS)/1000, marker)
	}
}

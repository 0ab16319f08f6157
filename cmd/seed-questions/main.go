package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/intervu-backend/internal/config"
	"github.com/stemsi/intervu-backend/internal/database"
	"github.com/stemsi/intervu-backend/internal/logger"
	"github.com/stemsi/intervu-backend/internal/model"
	"github.com/stemsi/intervu-backend/internal/repository"
	"github.com/stemsi/intervu-backend/internal/service"
	"github.com/stemsi/intervu-backend/internal/validator"
)

// seed-questions loads a JSON array of questions into the bank.
// Every row is validated before anything is written.
func main() {
	var (
		path   string
		dryRun bool
	)
	flag.StringVar(&path, "file", "questions.json", "Path to a JSON array of questions")
	flag.BoolVar(&dryRun, "dry-run", false, "Validate the file without writing")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	validator.Setup()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("Failed to read question file")
	}

	var rows []model.CreateQuestionRequest
	if err := json.Unmarshal(data, &rows); err != nil {
		log.Fatal().Err(err).Msg("Question file is not a JSON array of questions")
	}

	questions := make([]model.Question, 0, len(rows))
	failed := 0
	for i := range rows {
		if fields := validator.Struct(&rows[i]); fields != nil {
			fmt.Printf("row %d: %v\n", i+1, fields)
			failed++
			continue
		}
		q, err := service.BuildQuestion(rows[i])
		if err != nil {
			fmt.Printf("row %d: %v\n", i+1, err)
			failed++
			continue
		}
		questions = append(questions, *q)
	}
	if failed > 0 {
		log.Fatal().Int("invalid", failed).Int("total", len(rows)).Msg("Question file rejected")
	}

	if dryRun {
		fmt.Printf("%d questions are valid\n", len(questions))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	if err := repository.NewQuestionRepository(pool).BulkCreate(ctx, questions); err != nil {
		log.Fatal().Err(err).Msg("Failed to insert questions")
	}

	fmt.Printf("Seeded %d questions\n", len(questions))
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/xtrntr/marketplace/internal/auth"
	"github.com/xtrntr/marketplace/internal/book"
	"github.com/xtrntr/marketplace/internal/config"
	"github.com/xtrntr/marketplace/internal/db"
	"github.com/xtrntr/marketplace/internal/exchange"
	"github.com/xtrntr/marketplace/internal/models"
	"github.com/xtrntr/marketplace/internal/period"
)

// Seed the database with demo participants and one cleared interval
func main() {
	cfgFile := flag.String("config", "configs/marketplace.yaml", "Path to the YAML config file")
	flag.Parse()
	ctx := context.Background()

	cfg, err := config.LoadAndValidate(*cfgFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	if err := database.Migrate(ctx); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}

	// Create test participants if they don't exist
	authService := auth.NewAuthService(database, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	for _, name := range []string{"trader1", "trader2"} {
		_, err := authService.Register(ctx, name, "password123")
		switch {
		case errors.Is(err, models.ErrNameTaken):
			fmt.Printf("Participant %s already exists\n", name)
		case err != nil:
			log.Fatalf("Failed to create %s: %v", name, err)
		}
	}

	// Record a cleared history for the interval before the current one
	schedule, err := cfg.Market.Schedule()
	if err != nil {
		log.Fatalf("Invalid schedule: %v", err)
	}
	interval := schedule.IntervalAt(time.Now()) - 1

	status, err := database.Status(ctx, interval)
	if err != nil {
		log.Fatalf("Failed to read interval %d: %v", interval, err)
	}
	if status == models.StatusCleared {
		fmt.Printf("Interval %d already cleared. No need to seed.\n", interval)
		return
	}

	bidding, _ := schedule.PhaseStart(interval, period.Bidding)
	orders := []struct {
		kind   models.Kind
		sender string
		amount uint64
		price  uint64
	}{
		{models.Bid, "trader1", 10, 32000},
		{models.Bid, "trader1", 5, 30500},
		{models.Ask, "trader2", 8, 30000},
		{models.Ask, "trader2", 6, 31000},
	}

	b, err := database.Book(ctx, interval)
	if err != nil {
		log.Fatalf("Failed to load interval %d: %v", interval, err)
	}
	for i, o := range orders {
		order := models.Order{
			ID:          uuid.New(),
			IntervalID:  interval,
			Seq:         b.NextSeq(),
			Kind:        o.kind,
			Sender:      o.sender,
			Amount:      o.amount,
			Price:       o.price,
			SubmittedAt: bidding.Add(time.Duration(i) * time.Second),
		}
		if err := database.Commit(ctx, book.Mutation{IntervalID: interval, Order: &order}); err != nil {
			log.Fatalf("Failed to create order %d: %v", i+1, err)
		}
		b.Append(order)
	}

	clearing, _ := schedule.PhaseStart(interval, period.Clearing)
	result := exchange.Clear(interval, b.Bids(), b.Asks())
	result.ClearedBy = "trader1"
	result.ClearedAt = clearing
	if err := database.Commit(ctx, book.Mutation{IntervalID: interval, Result: &result}); err != nil {
		log.Fatalf("Failed to record clearing: %v", err)
	}

	fmt.Printf("Successfully seeded interval %d: %d units at %d!\n", interval, result.ClearedQuantity, result.ClearingPrice)
}

package seeder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"

	"github.com/agentcost/agentcost/internal/auth"
	"github.com/agentcost/agentcost/internal/pricing"
)

const (
	TestAPIKey    = "test-api-key-12345"
	TestProjectID = "00000000-0000-0000-0000-000000000001"
)

func SeedTestAPIKey(ctx context.Context, store auth.Store) {
	h := sha256.New()
	h.Write([]byte(TestAPIKey))
	keyHash := hex.EncodeToString(h.Sum(nil))

	apiKey := &auth.APIKey{
		ProjectID: TestProjectID,
		KeyHash:   keyHash,
		Active:    true,
	}

	err := store.Create(ctx, apiKey)
	if err != nil {
		log.Printf("[Seeder] API key may already exist, skipping: %v", err)
		return
	}
	log.Printf("[Seeder] Test API key created successfully")
	log.Printf("[Seeder] Key: %s", TestAPIKey)
	log.Printf("[Seeder] ProjectID: %s", TestProjectID)
}

// SeedPricingCatalog loads a starter set of per-1k-token prices so alternative
// discovery has something to rank before the first pricing sync runs.
func SeedPricingCatalog(ctx context.Context, store *pricing.PostgresStore) {
	models := []pricing.ModelPricing{
		{ModelName: "gpt-4", Provider: "openai", InputPricePer1K: 0.03, OutputPricePer1K: 0.06, Active: true},
		{ModelName: "gpt-4-turbo", Provider: "openai", InputPricePer1K: 0.01, OutputPricePer1K: 0.03, Active: true},
		{ModelName: "gpt-4o", Provider: "openai", InputPricePer1K: 0.005, OutputPricePer1K: 0.015, Active: true},
		{ModelName: "gpt-4o-mini", Provider: "openai", InputPricePer1K: 0.00015, OutputPricePer1K: 0.0006, Active: true},
		{ModelName: "gpt-3.5-turbo", Provider: "openai", InputPricePer1K: 0.0005, OutputPricePer1K: 0.0015, Active: true},
		{ModelName: "claude-3-opus", Provider: "anthropic", InputPricePer1K: 0.015, OutputPricePer1K: 0.075, Active: true},
		{ModelName: "claude-3-5-sonnet", Provider: "anthropic", InputPricePer1K: 0.003, OutputPricePer1K: 0.015, Active: true},
		{ModelName: "claude-3-haiku", Provider: "anthropic", InputPricePer1K: 0.00025, OutputPricePer1K: 0.00125, Active: true},
		{ModelName: "gemini-1.5-pro", Provider: "google", InputPricePer1K: 0.00125, OutputPricePer1K: 0.005, Active: true},
		{ModelName: "gemini-1.5-flash", Provider: "google", InputPricePer1K: 0.000075, OutputPricePer1K: 0.0003, Active: true},
	}

	seeded := 0
	for i := range models {
		if err := store.UpsertModel(ctx, &models[i]); err != nil {
			log.Printf("[Seeder] Failed to seed pricing for %s: %v", models[i].ModelName, err)
			continue
		}
		seeded++
	}
	log.Printf("[Seeder] Pricing catalog seeded: %d models", seeded)
}

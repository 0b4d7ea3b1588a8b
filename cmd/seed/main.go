// seed inserts a development organization and API key for local testing.
// Idempotent: skips inserts if the dev org already exists. Prints the bearer
// token once; it cannot be recovered afterwards.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"time"

	"telemetry-ingest-plane/internal/config"
	"telemetry-ingest-plane/internal/credential"
	creddomain "telemetry-ingest-plane/internal/credential/domain"
	credrepo "telemetry-ingest-plane/internal/credential/repository"
	"telemetry-ingest-plane/internal/db"
	orgdomain "telemetry-ingest-plane/internal/organization/domain"
	orgrepo "telemetry-ingest-plane/internal/organization/repository"
)

const (
	devOrgID   = "dev-org-001"
	devOrgName = "Acme Dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	orgs := orgrepo.NewPostgresRepository(conn)
	keys := credrepo.NewPostgresRepository(conn)

	existing, err := orgs.GetOrganizationByID(ctx, devOrgID)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Println("Seed already applied (dev org exists). Skipping.")
		os.Exit(0)
	}

	signingSecret := make([]byte, 32)
	if _, err := rand.Read(signingSecret); err != nil {
		log.Fatalf("signing secret: %v", err)
	}

	now := time.Now().UTC()
	if err := orgs.CreateOrganization(ctx, &orgdomain.Org{
		ID:            devOrgID,
		Name:          devOrgName,
		Status:        orgdomain.OrgStatusActive,
		PlanTier:      orgdomain.TierStandard,
		SigningSecret: hex.EncodeToString(signingSecret),
		CreatedAt:     now,
	}); err != nil {
		log.Fatalf("create org: %v", err)
	}

	keyID, bearer, secretHash, err := credential.GenerateKey()
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}
	if err := keys.CreateAPIKey(ctx, &creddomain.APIKey{
		KeyID:        keyID,
		OrgID:        devOrgID,
		SecretSHA256: secretHash,
		Scopes:       []string{credential.ScopeIngest, credential.ScopeQuery},
		CreatedAt:    now,
	}); err != nil {
		log.Fatalf("create api key: %v", err)
	}

	log.Println("Seed completed successfully.")
	fmt.Printf("Org: %s (%s)\n", devOrgName, devOrgID)
	fmt.Printf("API key (save it, shown once): %s\n", bearer)
	fmt.Printf("Example: curl -H 'Authorization: Bearer %s' -d '{\"level\":\"info\",\"message\":\"hello\"}' http://localhost:8080/v1/logs\n", bearer)
}

// Command importer loads medicines from an .xlsx sheet into a staff
// member's inventory.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"pharmacy/backend/internal/config"
	"pharmacy/backend/internal/domain"
	"pharmacy/backend/internal/excel"
	"pharmacy/backend/internal/service"
	"pharmacy/backend/internal/store"
	"pharmacy/backend/internal/store/memory"
	pgstore "pharmacy/backend/internal/store/postgres"
	"pharmacy/backend/internal/xid"
)

func main() {
	filePath := flag.String("file", "", "path to the .xlsx file")
	email := flag.String("email", "", "email of the staff account that will own the medicines")
	sheet := flag.String("sheet", "", "sheet name (defaults to the first sheet)")
	dryRun := flag.Bool("dry-run", false, "import into a throwaway in-memory store")
	flag.Parse()

	if *filePath == "" || *email == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := run(ctx, cfg, *filePath, *email, *sheet, *dryRun)
	if err != nil {
		log.Fatalf("[importer] %v", err)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	if len(result.Failed) > 0 {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, filePath string, email string, sheet string, dryRun bool) (domain.ImportResult, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return domain.ImportResult{}, fmt.Errorf("open %s: %w", filePath, err)
	}
	defer file.Close()

	rows, err := excel.ParseMedicineRows(file, sheet)
	if err != nil {
		return domain.ImportResult{}, err
	}
	log.Printf("[importer] parsed %d rows from %s", len(rows), filePath)

	if cfg.DatabaseURL == "" {
		dryRun = true
	}

	repo, closeRepo, err := openRepository(ctx, cfg, dryRun)
	if err != nil {
		return domain.ImportResult{}, err
	}
	defer closeRepo()

	staff, err := resolveStaff(ctx, repo, email, dryRun)
	if err != nil {
		return domain.ImportResult{}, err
	}

	svc := service.New(repo, nil, service.Options{DefaultReorderLevel: cfg.LowStockDefault})
	actorCtx := service.WithActor(ctx, domain.Actor{ID: staff.ID, Username: staff.Username, Role: staff.Role})
	return svc.ImportMedicines(actorCtx, rows)
}

func openRepository(ctx context.Context, cfg config.Config, dryRun bool) (store.Repository, func(), error) {
	if dryRun {
		log.Println("[importer] repository: in-memory (dry run)")
		return memory.New(), func() {}, nil
	}
	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	return pg, func() { _ = pg.Close() }, nil
}

// resolveStaff looks the owner up by email. A dry run against the empty
// memory store stands in a placeholder account.
func resolveStaff(ctx context.Context, repo store.Repository, email string, dryRun bool) (*domain.Staff, error) {
	staff, err := repo.GetStaffByEmail(ctx, email)
	if err == nil {
		return staff, nil
	}
	if !errors.Is(err, store.ErrNotFound) || !dryRun {
		return nil, fmt.Errorf("staff %s: %w", email, err)
	}
	return repo.CreateStaff(ctx, domain.Staff{
		ID:        domain.OwnerID(xid.NewID()),
		Username:  "import-dry-run",
		Email:     email,
		Role:      domain.RoleStaff,
		CreatedAt: time.Now().UTC(),
	})
}

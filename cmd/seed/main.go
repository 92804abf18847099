package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/dental-queue-scheduling/internal/config"
	"github.com/hackgods/dental-queue-scheduling/internal/db"
	"github.com/hackgods/dental-queue-scheduling/internal/directory"
	"github.com/hackgods/dental-queue-scheduling/pkg/logging"
)

const batchSize = 500

func main() {
	dentists := flag.Int("dentists", 12, "number of dentists to seed")
	patients := flag.Int("patients", 2000, "number of patients to seed")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel).With("service", "seed")
	if cfg.PostgresDSN == "" {
		logger.Error("POSTGRES_DSN is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))
	s := seeder{pool: pool, faker: faker, logger: logger}

	if err := s.seed(context.Background(), directory.KindDentist, *dentists); err != nil {
		logger.Error("seed dentists", "error", err)
		os.Exit(1)
	}
	if err := s.seed(context.Background(), directory.KindPatient, *patients); err != nil {
		logger.Error("seed patients", "error", err)
		os.Exit(1)
	}
	logger.Info("seed complete", "dentists", *dentists, "patients", *patients)
}

type seeder struct {
	pool   *pgxpool.Pool
	faker  *gofakeit.Faker
	logger *logging.Logger
}

func (s seeder) seed(ctx context.Context, kind directory.Kind, count int) error {
	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)
		err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
			repo := directory.NewPgRepository(tx)
			for i := offset; i < end; i++ {
				if err := repo.Upsert(ctx, s.contact(kind, i+1)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.logger.Info("contacts seeded", "kind", kind, "done", end, "total", count)
	}
	return nil
}

// contact builds a fake contact. Codes are stable so re-running the seeder
// refreshes the same rows.
func (s seeder) contact(kind directory.Kind, n int) directory.Contact {
	first, last := s.faker.FirstName(), s.faker.LastName()
	c := directory.Contact{
		Kind:  kind,
		Name:  first + " " + last,
		Email: strings.ToLower(fmt.Sprintf("%s.%s%d@%s", first, last, n, s.faker.DomainName())),
		Phone: "08" + s.faker.Numerify("##########"),
	}
	switch kind {
	case directory.KindDentist:
		c.Code = fmt.Sprintf("Dr-%04d", n)
		c.Name = "Dr. " + c.Name
	default:
		c.Code = fmt.Sprintf("P-%04d", n)
		c.UserID = s.faker.UUID()
		// Roughly a third of patients have no chat address and fall back to email.
		if n%3 != 0 {
			c.ChatAddress = c.Phone
		}
	}
	return c
}

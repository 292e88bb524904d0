package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"salonbook/internal/config"
	"salonbook/internal/database"
	"salonbook/internal/domain"
	"salonbook/internal/models"
	"salonbook/internal/postgres"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

// Catalog is the seed file layout: services first, then stylists that
// reference services by name.
type Catalog struct {
	Services []models.Service `yaml:"services"`
	Stylists []StylistEntry   `yaml:"stylists"`
}

type StylistEntry struct {
	models.User `yaml:",inline"`
	Services    []string `yaml:"services"`
}

type seedStore interface {
	domain.UserRepository
	domain.ServiceRepository
}

type seedStats struct {
	created, updated, stylists int
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		catalogPath = flag.String("catalog", "configs/catalog.yaml", "path to catalog.yaml")
		configPath  = flag.String("config", "configs/config.yaml", "path to config.yaml")
	)
	flag.Parse()

	catalog, err := loadCatalog(*catalogPath)
	if err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var store domain.Store
	if cfg.Database.Driver == config.DriverPostgres {
		store, err = postgres.Open(ctx, cfg.Database, &logger)
	} else {
		store, err = database.NewDB(cfg.Database.Path, &logger)
	}
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	stats, err := seed(ctx, store, catalog)
	if err != nil {
		return err
	}
	logger.Info().
		Int("created", stats.created).
		Int("updated", stats.updated).
		Int("stylists", stats.stylists).
		Msg("catalog seeded")
	return nil
}

func loadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(c.Services) == 0 {
		return nil, fmt.Errorf("no services in yaml")
	}
	return &c, nil
}

// seed upserts services by name and stylists by email, then replaces each
// stylist's service list.
func seed(ctx context.Context, store seedStore, c *Catalog) (seedStats, error) {
	var stats seedStats
	ids := make(map[string]string, len(c.Services))

	for i := range c.Services {
		svc := c.Services[i]
		if svc.Name == "" {
			continue
		}
		existing, err := store.GetServiceByName(ctx, svc.Name)
		switch {
		case err == nil:
			svc.ID = existing.ID
			if err := store.UpdateService(ctx, &svc); err != nil {
				return stats, fmt.Errorf("update %s: %w", svc.Name, err)
			}
			stats.updated++
		case errors.Is(err, domain.ErrNotFound):
			if err := store.CreateService(ctx, &svc); err != nil {
				return stats, fmt.Errorf("create %s: %w", svc.Name, err)
			}
			stats.created++
		default:
			return stats, fmt.Errorf("get %s: %w", svc.Name, err)
		}
		ids[svc.Name] = svc.ID
	}

	for i := range c.Stylists {
		entry := c.Stylists[i]
		u := entry.User
		u.Role = models.RoleStylist
		if err := store.UpsertUser(ctx, &u); err != nil {
			return stats, fmt.Errorf("upsert stylist %s: %w", u.Email, err)
		}

		serviceIDs := make([]string, 0, len(entry.Services))
		for _, name := range entry.Services {
			id, ok := ids[name]
			if !ok {
				return stats, fmt.Errorf("stylist %s: unknown service %q", u.Email, name)
			}
			serviceIDs = append(serviceIDs, id)
		}
		if err := store.AssignServices(ctx, u.ID, serviceIDs); err != nil {
			return stats, fmt.Errorf("assign services to %s: %w", u.Email, err)
		}
		stats.stylists++
	}
	return stats, nil
}

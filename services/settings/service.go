package settings

import (
	"context"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"workforce-controlplane/internal/config"
	"workforce-controlplane/pkg/clock"
	"workforce-controlplane/pkg/errutil"
	"workforce-controlplane/pkg/repository"
	"workforce-controlplane/services/tenant"
)

// Service stores operator-tunable settings. Pricing falls back to the
// configured defaults when no row overrides it.
type Service struct {
	node  *snowflake.Node
	clock clock.Clock
	cfg   *config.Config
	repo  repository.Repository[Setting]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Clock  clock.Clock
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node:  p.Node,
		clock: p.Clock,
		cfg:   p.Config,
		repo:  repository.ProvideStore[Setting](p.DB),
	}
}

// Get returns the value for key, or "" when unset.
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	row, err := s.repo.FindOne(ctx, &Setting{Key: key})
	if err != nil {
		return "", errutil.PersistenceFailure("failed to read setting", errutil.WithErr(err))
	}
	if row == nil {
		return "", nil
	}
	return row.Value, nil
}

// Set upserts a setting value.
func (s *Service) Set(ctx context.Context, key, value, description string) error {
	row, err := s.repo.FindOne(ctx, &Setting{Key: key})
	if err != nil {
		return errutil.PersistenceFailure("failed to read setting", errutil.WithErr(err))
	}
	now := s.clock.Now()
	if row == nil {
		err = s.repo.Create(ctx, &Setting{
			ID:          s.node.Generate().String(),
			Key:         key,
			Value:       value,
			Description: description,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	} else {
		values := map[string]any{"value": value, "updated_at": now}
		if description != "" {
			values["description"] = description
		}
		err = s.repo.Update(ctx, row.ID, values)
	}
	if err != nil {
		return errutil.PersistenceFailure("failed to write setting", errutil.WithErr(err))
	}
	return nil
}

// Price returns the subscription price for a kind, preferring the stored
// setting over the configured default.
func (s *Service) Price(ctx context.Context, kind tenant.SubscriptionKind) (float64, error) {
	var key string
	var fallback float64
	switch kind {
	case tenant.KindOneMonth:
		key, fallback = KeyPriceOneMonth, s.cfg.Pricing.OneMonth
	case tenant.KindSixMonth:
		key, fallback = KeyPriceSixMonth, s.cfg.Pricing.SixMonth
	case tenant.KindLifetime:
		key, fallback = KeyPriceLifetime, s.cfg.Pricing.Lifetime
	default:
		return 0, errutil.BadRequest("unknown subscription kind")
	}

	raw, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return fallback, nil
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback, nil
	}
	return price, nil
}

var Module = fx.Module("settings.module",
	fx.Provide(NewService),
)

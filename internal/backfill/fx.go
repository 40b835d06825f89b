package backfill

import (
	"github.com/groundsignal/groundsignal/internal/backfill/repository"
	"github.com/groundsignal/groundsignal/internal/backfill/service"
	"go.uber.org/fx"
)

var Module = fx.Module("backfill.service",
	fx.Provide(
		repository.NewRepository,
		service.NewService,
	),
)

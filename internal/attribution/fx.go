package attribution

import (
	"github.com/groundsignal/groundsignal/internal/attribution/correlator"
	"github.com/groundsignal/groundsignal/internal/attribution/matcher"
	"github.com/groundsignal/groundsignal/internal/attribution/repository"
	"github.com/groundsignal/groundsignal/internal/attribution/service"
	"go.uber.org/fx"
)

var Module = fx.Module("attribution.service",
	fx.Provide(
		repository.NewRepository,
		matcher.New,
		correlator.New,
		service.NewService,
	),
)

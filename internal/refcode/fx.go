package refcode

import (
	"github.com/groundsignal/groundsignal/internal/refcode/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("refcode",
	fx.Provide(
		NewWordOverlapScorer,
		repository.NewRepository,
	),
)

package organization

import (
	"github.com/groundsignal/groundsignal/internal/organization/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("organization",
	fx.Provide(repository.NewRepository),
)

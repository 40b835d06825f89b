package ledger

import (
	"github.com/groundsignal/groundsignal/internal/ledger/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger",
	fx.Provide(repository.NewRepository),
)

package mismatch

import (
	"github.com/groundsignal/groundsignal/internal/mismatch/service"
	"go.uber.org/fx"
)

var Module = fx.Module("mismatch.service",
	fx.Provide(service.NewService),
)

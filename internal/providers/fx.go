package providers

import (
	"github.com/groundsignal/groundsignal/internal/providers/adgraph"
	"github.com/groundsignal/groundsignal/internal/providers/processor"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	fx.Provide(
		processor.NewClient,
		processor.NewChunkIngestor,
		adgraph.NewClient,
		adgraph.NewRefresher,
	),
)

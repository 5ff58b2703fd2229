package processor

import (
	"go.uber.org/fx"
)

// Module provides the Processor to Fx.
var Module = fx.Options(
	fx.Provide(New),
)

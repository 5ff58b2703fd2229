package clock

import "go.uber.org/fx"

// Module provides the wall-clock Clock to Fx.
var Module = fx.Options(
	fx.Provide(New),
)

package stage

import "go.uber.org/fx"

// Module provides the model function Registry to Fx. Applications register
// their functions against it during startup, before the first run.
var Module = fx.Options(
	fx.Provide(NewRegistry),
)

package ledgerpdf

import "go.uber.org/fx"

var Module = fx.Module("providers.ledgerpdf",
	fx.Provide(NewArchiver),
)

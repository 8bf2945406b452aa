package telemetry

import "context"

// Row is one record of a stored-procedure result set, keyed by column name.
type Row = map[string]any

// Source is the data layer behind the cache: normally the plant database's
// stored procedures. id is the device filter for PerID resources and empty
// otherwise. Implementations must honour ctx cancellation.
type Source interface {
	Rows(ctx context.Context, res Resource, id string) ([]Row, error)
}

// SourceFunc adapts a function to a Source.
type SourceFunc func(ctx context.Context, res Resource, id string) ([]Row, error)

func (f SourceFunc) Rows(ctx context.Context, res Resource, id string) ([]Row, error) {
	return f(ctx, res, id)
}

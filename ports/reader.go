package ports

import (
	"context"

	"gokpi/domain/dataset"
	"gokpi/domain/metric"
)

// DatasetReader loads a tabular dataset from some source (file, database)
type DatasetReader interface {
	ReadDataset(ctx context.Context) (*dataset.Dataset, error)
}

// CatalogSource loads a metric catalog. Implementations return an error
// wrapping core.ErrCatalogInvalid for structurally broken catalogs.
type CatalogSource interface {
	LoadCatalog(ctx context.Context) (*metric.Catalog, error)
}

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/growlabs/bibscan-go/internal/conf"
	"github.com/growlabs/bibscan-go/internal/datastore"
	"github.com/growlabs/bibscan-go/internal/detector"
	"github.com/growlabs/bibscan-go/internal/errors"
	"github.com/growlabs/bibscan-go/internal/observability/metrics"
	"github.com/growlabs/bibscan-go/internal/storage"
)

// NewFromSettings assembles a processor with the configured backends: the
// enabled database, the Roboflow detector, Cloudinary when credentials are
// present, and pipeline metrics on a fresh registry.
func NewFromSettings(settings *conf.Settings) (*Processor, error) {
	store := datastore.New(settings)
	if store == nil {
		return nil, errors.Newf("no database backend enabled").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := store.Open(); err != nil {
		return nil, err
	}

	var assets storage.Interface
	if settings.Storage.CloudName != "" {
		assets = storage.New(settings)
	}

	m, err := metrics.NewPipelineMetrics(prometheus.NewRegistry())
	if err != nil {
		return nil, err
	}

	return New(settings, store, detector.New(settings), nil, assets, m)
}

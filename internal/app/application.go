package app

import (
	"context"
	"fmt"

	"github.com/CareTrack-Labs/track_engine/internal/app/domain/reception"
	agendasvc "github.com/CareTrack-Labs/track_engine/internal/app/services/agenda"
	"github.com/CareTrack-Labs/track_engine/internal/app/services/batch"
	"github.com/CareTrack-Labs/track_engine/internal/app/services/cascade"
	"github.com/CareTrack-Labs/track_engine/internal/app/services/fields"
	"github.com/CareTrack-Labs/track_engine/internal/app/services/reconcile"
	"github.com/CareTrack-Labs/track_engine/internal/app/services/tracks"
	"github.com/CareTrack-Labs/track_engine/internal/app/storage"
	"github.com/CareTrack-Labs/track_engine/internal/app/storage/memory"
	"github.com/CareTrack-Labs/track_engine/internal/app/surveysource"
	"github.com/CareTrack-Labs/track_engine/internal/app/system"
	"github.com/CareTrack-Labs/track_engine/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Tracks           storage.TrackStore
	RespondentTracks storage.RespondentTrackStore
	Tokens           storage.TokenStore
	Appointments     storage.AppointmentStore
	BatchProgress    batch.ProgressStore
}

// Options carries optional collaborators. Nil fields fall back to in-process
// defaults: the built-in reception code registry and the in-memory survey
// source.
type Options struct {
	Catalog reception.Catalog
	Source  surveysource.Source
}

// Application ties the engine services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Catalog   reception.Catalog
	Source    surveysource.Source
	Matcher   *agendasvc.Matcher
	Reconcile *reconcile.Engine
	Cascade   *cascade.Processor
	Fields    *fields.Engine
	Tracks    *tracks.Service
	Batch     *batch.Runner
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Tracks == nil {
		stores.Tracks = mem
	}
	if stores.RespondentTracks == nil {
		stores.RespondentTracks = mem
	}
	if stores.Tokens == nil {
		stores.Tokens = mem
	}
	if stores.Appointments == nil {
		stores.Appointments = mem
	}
	if stores.BatchProgress == nil {
		stores.BatchProgress = batch.NewMemoryProgressStore()
	}
	if opts.Catalog == nil {
		opts.Catalog = reception.NewRegistry()
	}
	if opts.Source == nil {
		opts.Source = surveysource.NewMemorySource()
	}

	manager := system.NewManager()

	matcher := agendasvc.NewMatcher(stores.Appointments, log)
	engine := reconcile.New(stores.Tracks, stores.RespondentTracks, stores.Tokens, stores.Appointments, opts.Catalog, log)
	processor := cascade.New(stores.RespondentTracks, stores.Tokens, opts.Catalog, opts.Source, engine, log)
	fieldEngine := fields.New(stores.Tracks, stores.RespondentTracks, stores.Appointments, matcher, engine, log)
	trackService := tracks.New(stores.Tracks, stores.RespondentTracks, stores.Tokens, stores.Appointments, engine, fieldEngine, matcher, log)
	batchRunner := batch.New(stores.RespondentTracks, engine, fieldEngine, stores.BatchProgress, log)

	for _, name := range []string{"reconcile", "cascade", "fields", "batch"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	return &Application{
		manager:   manager,
		log:       log,
		Catalog:   opts.Catalog,
		Source:    opts.Source,
		Matcher:   matcher,
		Reconcile: engine,
		Cascade:   processor,
		Fields:    fieldEngine,
		Tracks:    trackService,
		Batch:     batchRunner,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/yanqian/weathercards/internal/bootstrap"
	"github.com/yanqian/weathercards/internal/domain/cards"
	"github.com/yanqian/weathercards/internal/domain/recipient"
	"github.com/yanqian/weathercards/internal/domain/weather"
	"github.com/yanqian/weathercards/internal/domain/widget"
	"github.com/yanqian/weathercards/internal/infra/cardapi"
	"github.com/yanqian/weathercards/internal/infra/config"
	"github.com/yanqian/weathercards/internal/infra/geocode/nominatim"
	"github.com/yanqian/weathercards/internal/infra/weather/openmeteo"
	"github.com/yanqian/weathercards/internal/infra/widgetsurface"
	httpiface "github.com/yanqian/weathercards/internal/interface/http"
	"github.com/yanqian/weathercards/pkg/logger"
)

func initializeApp() (*bootstrap.App, error) {
	wire.Build(
		config.Load,
		logger.New,
		provideWeatherConfig,
		provideOpenMeteoClient,
		provideGeocoder,
		provideBuilderConfig,
		providePipelineConfig,
		provideTokenCounter,
		provideSessionManager,
		provideCardAPIClient,
		provideRecipientRepository,
		provideCardCache,
		provideSurfaces,
		provideWidgetConfig,
		provideWidgetPublisher,
		recipient.NewHub,
		recipient.NewService,
		weather.NewResolver,
		cards.NewBuilder,
		cards.NewPipeline,
		widgetsurface.NewMemorySurface,
		wire.Bind(new(weather.Provider), new(*openmeteo.Client)),
		wire.Bind(new(recipient.Geocoder), new(*nominatim.Client)),
		wire.Bind(new(cards.Generator), new(*cardapi.Client)),
		wire.Bind(new(cards.RecipientSource), new(recipient.Service)),
		wire.Bind(new(cards.Publisher), new(*widget.Publisher)),
		wire.Bind(new(httpiface.CardRefresher), new(*cards.Pipeline)),
		wire.Bind(new(httpiface.WidgetViewer), new(*widgetsurface.MemorySurface)),
		wire.Bind(new(bootstrap.Refresher), new(*cards.Pipeline)),
		wire.Bind(new(bootstrap.Flusher), new(*widget.Publisher)),
		httpiface.NewHandler,
		httpiface.NewRouter,
		bootstrap.NewApp,
	)
	return nil, nil
}

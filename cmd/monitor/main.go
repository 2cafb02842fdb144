package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/appliancemon/appliance-monitor/internal/ai"
	"github.com/appliancemon/appliance-monitor/internal/bus"
	"github.com/appliancemon/appliance-monitor/internal/config"
	"github.com/appliancemon/appliance-monitor/internal/database"
	"github.com/appliancemon/appliance-monitor/internal/domain"
	"github.com/appliancemon/appliance-monitor/internal/engine"
	"github.com/appliancemon/appliance-monitor/internal/export"
	"github.com/appliancemon/appliance-monitor/internal/history"
	httpHandlers "github.com/appliancemon/appliance-monitor/internal/http"
	"github.com/appliancemon/appliance-monitor/internal/importer"
	"github.com/appliancemon/appliance-monitor/internal/notify"
	"github.com/appliancemon/appliance-monitor/internal/pricing"
	"github.com/appliancemon/appliance-monitor/internal/repository"
	"github.com/appliancemon/appliance-monitor/internal/source"
	"github.com/appliancemon/appliance-monitor/internal/store"
)

// sourceReader adapts the sample source to the pricing resolver.
type sourceReader struct {
	src *source.Source
}

func (r sourceReader) Read(topic string) (float64, bool, bool) {
	rd, ok := r.src.Read(topic)
	return rd.Value, rd.Valid, ok
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect()
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	repos := repository.New(db)
	snaps := store.NewPGStore(db)

	opts := mqtt.NewClientOptions().
		AddBroker(config.MQTTBroker()).
		SetClientID("appliance-monitor").
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatal().Err(token.Error()).Msg("mqtt connect failed")
	}
	defer client.Disconnect(250)

	samples := source.New(client, log.Logger)
	events := bus.New(client, log.Logger)

	appliances, err := config.LoadAppliances(config.AppliancesFile())
	if err != nil {
		log.Fatal().Err(err).Msg("appliances load failed")
	}
	if len(appliances) == 0 {
		log.Fatal().Msg("no appliances configured")
	}

	var analyzer engine.Analyzer
	var exporter *export.Exporter
	if config.UseCloudServices() {
		lam, err := ai.NewLambdaAnalyzer(ctx, config.AWSRegion(), config.AILambdaFunction())
		if err != nil {
			log.Fatal().Err(err).Msg("lambda analyzer init failed")
		}
		analyzer = lam
		exporter, err = export.New(ctx, config.AWSRegion(), config.S3Bucket())
		if err != nil {
			log.Fatal().Err(err).Msg("s3 exporter init failed")
		}
	}

	// The shared settings file, when configured, overrides the static
	// currency and default price.
	currency := config.Currency()
	defaultPrice := config.PriceKWH()
	var settings *pricing.SettingsReader
	if path := config.SettingsFile(); path != "" {
		settings = pricing.NewSettingsReader(path)
		s, err := settings.Read()
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("energy settings unavailable, using defaults")
		} else {
			if s.Currency != "" {
				currency = s.Currency
			}
			if s.PriceKWH > 0 {
				defaultPrice = s.PriceKWH
			}
		}
	}

	interval := time.Duration(config.UpdateIntervalSeconds()) * time.Second
	engines := make(map[string]*engine.Engine, len(appliances))
	applianceCfg := make(map[string]config.Appliance, len(appliances))
	resolvers := make(map[string]*pricing.Resolver, len(appliances))

	for _, app := range appliances {
		if err := samples.Watch(app.PowerTopic, app.EnergyTopic, app.PriceTopic); err != nil {
			log.Fatal().Err(err).Str("appliance", app.Name).Msg("topic subscribe failed")
		}

		transports := []notify.Transport{
			notify.LogTransport{Log: log.Logger},
			notify.MQTTTransport{Client: client, Prefix: bus.Namespace + "/notify"},
		}
		if config.UseCloudServices() && config.SNSTopicArn() != "" {
			snsT, err := notify.NewSNSTransport(ctx, config.AWSRegion(), config.SNSTopicArn())
			if err != nil {
				log.Fatal().Err(err).Msg("sns transport init failed")
			}
			transports = append(transports, snsT)
		}
		notifier := notify.New(app.Name, app.Kind, currency, log.Logger, transports...)

		if settings != nil {
			if known, err := settings.HasConsumer(app.EnergyTopic); err == nil && !known {
				log.Warn().Str("appliance", app.Name).Str("sensor", app.EnergyTopic).
					Msg("energy sensor not registered in shared settings")
			}
		}

		fixed := app.PriceKWH
		if fixed == 0 {
			fixed = defaultPrice
		}
		topic := app.PriceTopic
		if topic == "" {
			topic = config.PriceTopic()
		}
		resolver := pricing.NewResolver(fixed, topic, sourceReader{src: samples}, log.Logger)
		resolvers[app.ID] = resolver

		eng := engine.New(app, engine.Deps{
			Sources:  samples,
			Store:    snaps,
			Bus:      events,
			Switch:   events,
			Notifier: notifier,
			Prices:   resolver,
			Analyzer: analyzer,
			Log:      log.Logger,
			Interval: interval,
		})
		if err := eng.Restore(ctx); err != nil {
			log.Fatal().Err(err).Str("appliance", app.Name).Msg("state restore failed")
		}
		engines[app.ID] = eng
		applianceCfg[app.ID] = app
		go eng.Run(ctx)
	}

	// Record every finished cycle, live or from other instances, in the
	// event log the history queries read from.
	err = events.Subscribe(bus.EventCycleFinished, func(applianceID string, payload []byte) {
		var p domain.CycleFinishedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			log.Warn().Err(err).Str("appliance_id", applianceID).Msg("undecodable cycle_finished event")
			return
		}
		end, err := time.Parse(time.RFC3339, p.EndTime)
		if err != nil {
			end = time.Now()
		}
		if err := repos.InsertCycleEvent(context.Background(), applianceID, end, p); err != nil {
			log.Error().Err(err).Str("appliance_id", applianceID).Msg("cycle event insert failed")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("event subscribe failed")
	}

	app := fiber.New()
	httpHandlers.Register(app, httpHandlers.Deps{
		Engines:    engines,
		Appliances: applianceCfg,
		History:    history.NewService(repos, log.Logger),
		Importer:   importer.New(repos, repos, log.Logger),
		Exporter:   exporter,
		Prices: func(applianceID string) float64 {
			if r, ok := resolvers[applianceID]; ok {
				return r.Resolve()
			}
			return config.PriceKWH()
		},
		Log: log.Logger,
	})

	go func() {
		log.Info().Str("addr", config.APIAddr()).Int("appliances", len(engines)).Msg("monitor listening")
		if err := app.Listen(config.APIAddr()); err != nil {
			log.Fatal().Err(err).Msg("server exit")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	if err := app.Shutdown(); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}

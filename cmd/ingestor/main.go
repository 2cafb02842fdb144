// The ingestor archives raw power and energy samples into the readings
// table, where the backfill importer can later replay them.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/appliancemon/appliance-monitor/internal/config"
	"github.com/appliancemon/appliance-monitor/internal/database"
	"github.com/appliancemon/appliance-monitor/internal/domain"
	"github.com/appliancemon/appliance-monitor/internal/repository"
	"github.com/appliancemon/appliance-monitor/internal/source"
)

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

	appliances, err := config.LoadAppliances(config.AppliancesFile())
	if err != nil {
		log.Fatal().Err(err).Msg("appliances load failed")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(config.MQTTBroker()).
		SetClientID("appliance-monitor-ingestor").
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatal().Err(token.Error()).Msg("mqtt connect failed")
	}
	defer client.Disconnect(250)

	subscribe := func(applianceID, sensor, topic string) {
		handler := func(_ mqtt.Client, msg mqtt.Message) {
			value, err := source.ParseNumber(string(msg.Payload()))
			if err != nil {
				log.Warn().Str("topic", msg.Topic()).Msg("unparseable sample, not archived")
				return
			}
			rd := &domain.Reading{
				ApplianceID: applianceID,
				Sensor:      sensor,
				Timestamp:   time.Now().UTC(),
				Value:       value,
			}
			if err := repos.InsertReading(context.Background(), rd); err != nil {
				log.Error().Err(err).Str("topic", msg.Topic()).Msg("reading insert failed")
			}
		}
		if token := client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
			log.Fatal().Err(token.Error()).Str("topic", topic).Msg("subscribe failed")
		}
	}

	for _, app := range appliances {
		subscribe(app.ID, "power", app.PowerTopic)
		subscribe(app.ID, "energy", app.EnergyTopic)
	}

	log.Info().Int("appliances", len(appliances)).Msg("ingestor running")
	<-ctx.Done()
	log.Info().Msg("ingestor stopped")
}

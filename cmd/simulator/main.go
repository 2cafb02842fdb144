// The simulator publishes a synthetic appliance trace: an idle phase, a
// wash-like cycle with noisy power draw and a climbing energy meter, then a
// return to idle. Useful for exercising the monitor without hardware.
package main

import (
	"math/rand"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/appliancemon/appliance-monitor/internal/config"
)

const sampleInterval = 2 * time.Second

func main() {
	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	appliances, err := config.LoadAppliances(config.AppliancesFile())
	if err != nil {
		log.Fatal().Err(err).Msg("appliances load failed")
	}
	if len(appliances) == 0 {
		log.Fatal().Msg("no appliances configured")
	}
	app := appliances[0]

	opts := mqtt.NewClientOptions().
		AddBroker(config.MQTTBroker()).
		SetClientID("appliance-monitor-simulator")
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatal().Err(token.Error()).Msg("mqtt connect failed")
	}
	defer client.Disconnect(250)

	publish := func(topic string, value float64) {
		token := client.Publish(topic, 0, false, strconv.FormatFloat(value, 'f', 3, 64))
		token.Wait()
	}

	log.Info().Str("appliance", app.Name).
		Str("power_topic", app.PowerTopic).Str("energy_topic", app.EnergyTopic).
		Msg("simulating one cycle")

	energy := 100.0 // kWh, arbitrary meter position

	// Idle lead-in.
	for i := 0; i < 30; i++ {
		publish(app.PowerTopic, 0)
		publish(app.EnergyTopic, energy)
		time.Sleep(sampleInterval)
	}

	// Running phase: ~2 kW with noise, meter climbing accordingly.
	for i := 0; i < 600; i++ {
		power := 1800 + rand.Float64()*600
		energy += power / 1000 * sampleInterval.Hours()
		publish(app.PowerTopic, power)
		publish(app.EnergyTopic, energy)
		time.Sleep(sampleInterval)
	}

	// Wind-down below the stop threshold, then idle.
	for i := 0; i < 200; i++ {
		publish(app.PowerTopic, rand.Float64()*2)
		publish(app.EnergyTopic, energy)
		time.Sleep(sampleInterval)
	}

	log.Info().Float64("meter_kwh", energy).Msg("simulation done")
}

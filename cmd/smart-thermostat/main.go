// Command smart-thermostat runs a PID thermostat for one zone. Temperatures
// arrive over MQTT and the heater or cooler is switched through GPIO or MQTT.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/smart-thermostat/internal/config"
	"github.com/sweeney/smart-thermostat/internal/gpio"
	"github.com/sweeney/smart-thermostat/internal/mqtt"
	"github.com/sweeney/smart-thermostat/internal/status"
	"github.com/sweeney/smart-thermostat/internal/store"
	"github.com/sweeney/smart-thermostat/internal/thermostat"
	"github.com/sweeney/smart-thermostat/internal/web"
)

func main() {
	configPath := flag.String("config", "/etc/smart-thermostat/config.yaml", "Path to configuration file")
	printState := flag.Bool("print-state", false, "Print saved thermostat state and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogging(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)

	if err := run(cfg, *printState); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}

func setupLogging(level string, useJSON bool, colors bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func run(cfg *config.Config, printState bool) error {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer st.Close()

	saved, err := st.LoadThermostat(cfg.UniqueID)
	if err != nil {
		log.Warn().Err(err).Msg("ignoring saved state")
		saved = nil
	}

	if printState {
		if saved == nil {
			saved = &thermostat.SavedState{}
		}
		data, _ := json.MarshalIndent(saved, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	topics := mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix}
	client, err := mqtt.NewRealClient(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		ClientID:   cfg.MQTT.ClientID,
		Username:   cfg.MQTT.Username,
		Password:   cfg.MQTT.Password,
		Topics:     topics,
		BufferSize: cfg.MQTT.BufferSize,
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer client.Close()

	heater, closeHeater, err := newDevice("heater", cfg.Heater, client)
	if err != nil {
		return err
	}
	defer closeHeater()

	var cooler thermostat.Actuator
	if cfg.Cooler != nil {
		c, closeCooler, err := newDevice("cooler", *cfg.Cooler, client)
		if err != nil {
			return err
		}
		defer closeCooler()
		cooler = c
	}

	th, err := thermostat.New(cfg.ToThermostat(time.Now), heater, cooler,
		log.With().Str("thermostat", cfg.Name).Logger())
	if err != nil {
		return fmt.Errorf("init thermostat: %w", err)
	}
	if saved != nil {
		th.Restore(*saved)
		log.Info().Msg("restored saved state")
	}

	readings := make(chan thermostat.Reading, 16)
	commands := make(chan thermostat.Command, 8)

	router := mqtt.NewSensorRouter(readings, cfg.MQTT.ValueKey)
	if err := router.Subscribe(client, cfg.Sensor, cfg.OutdoorSensor); err != nil {
		return fmt.Errorf("subscribe sensors: %w", err)
	}
	if err := mqtt.SubscribeCommands(client, topics.Command(), commands); err != nil {
		return fmt.Errorf("subscribe commands: %w", err)
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		Broker:       cfg.MQTT.Broker,
		HTTPAddr:     cfg.HTTP.Addr,
		TopicPrefix:  cfg.MQTT.TopicPrefix,
		SensorTopic:  cfg.Sensor,
		OutdoorTopic: cfg.OutdoorSensor,
		Heartbeat:    cfg.Heartbeat.Duration(),
		StatePath:    cfg.Database.Path,
	})

	g, ctx := errgroup.WithContext(context.Background())

	var srv *web.Server
	if cfg.HTTP.Addr != "" {
		var commander web.Commander = th
		if cfg.HTTP.ReadOnly {
			commander = nil
		}
		srv = web.New(cfg.HTTP.Addr, tracker, commander)
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http status server listening")
	}

	log.Info().
		Str("name", cfg.Name).
		Str("broker", cfg.MQTT.Broker).
		Str("sensor", cfg.Sensor).
		Dur("keep_alive", cfg.Thermostat.KeepAlive.Duration()).
		Dur("heartbeat", cfg.Heartbeat.Duration()).
		Msg("started")

	ticker := time.NewTicker(cfg.Thermostat.KeepAlive.Duration())
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	d := &daemon{
		th:         th,
		publisher:  client,
		mqttStatus: client,
		tracker:    tracker,
		store:      st,
		id:         cfg.UniqueID,
		heartbeat:  cfg.Heartbeat.Duration(),
		now:        time.Now,
	}
	g.Go(func() error {
		defer func() {
			if srv == nil {
				return
			}
			sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration())
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				log.Warn().Err(err).Msg("http shutdown")
			}
		}()
		return runLoop(ctx, d, readings, commands, ticker.C, sigCh)
	})

	return g.Wait()
}

// newDevice builds a heater or cooler output and returns its release func.
func newDevice(name string, d config.DeviceConfig, client mqtt.Client) (thermostat.Actuator, func() error, error) {
	var (
		a       thermostat.Actuator
		release = func() error { return nil }
	)
	switch d.Type {
	case config.DeviceMQTT:
		act := mqtt.NewActuator(client, mqtt.ActuatorConfig{
			Topic:      d.Topic,
			StateTopic: d.StateTopic,
			PayloadOn:  d.PayloadOn,
			PayloadOff: d.PayloadOff,
			Retained:   d.Retain,
			MinRefresh: d.MinRefresh.Duration(),
		})
		if err := act.Subscribe(client); err != nil {
			return nil, nil, fmt.Errorf("subscribe %s state: %w", name, err)
		}
		a = act
	default:
		chip := d.Chip
		if chip == "" {
			chip = gpio.DefaultChip
		}
		relay, err := gpio.NewRealRelay(chip, d.Pin, d.ActiveLow)
		if err != nil {
			return nil, nil, fmt.Errorf("init %s gpio: %w", name, err)
		}
		a, release = relay, relay.Close
	}
	if d.Invert {
		a = thermostat.Invert(a)
	}
	return a, release, nil
}

// controller is the part of the thermostat the loop drives.
type controller interface {
	Start(ctx context.Context) error
	HandleReading(ctx context.Context, r thermostat.Reading) error
	Apply(ctx context.Context, c thermostat.Command) error
	Tick(ctx context.Context) error
	Snapshot() thermostat.Snapshot
	SavedState() thermostat.SavedState
}

type stateStore interface {
	SaveThermostat(id string, s thermostat.SavedState) error
}

type daemon struct {
	th         controller
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus // may be nil
	tracker    *status.Tracker
	store      stateStore // may be nil
	id         string
	heartbeat  time.Duration // 0 disables
	now        func() time.Time

	lastState []byte
	lastSaved []byte
}

// runLoop serialises readings, commands and keep-alive ticks into the
// thermostat until a signal arrives or ctx is cancelled.
func runLoop(ctx context.Context, d *daemon, readings <-chan thermostat.Reading, commands <-chan thermostat.Command, tick <-chan time.Time, sig <-chan os.Signal) error {
	lastHeartbeat := d.now()

	if err := d.th.Start(ctx); err != nil {
		log.Error().Err(err).Msg("initial control cycle failed")
	}
	d.refresh()
	d.system(lastHeartbeat, "STARTUP", "", true)
	d.publishState()
	d.save()

	for {
		select {
		case s := <-sig:
			log.Info().Stringer("signal", s).Msg("shutting down")
			d.shutdown(signalName(s))
			return nil

		case <-ctx.Done():
			log.Warn().Err(ctx.Err()).Msg("stopping control loop")
			d.shutdown("ERROR")
			return nil

		case r := <-readings:
			if err := d.th.HandleReading(ctx, r); err != nil {
				log.Warn().Err(err).Str("source", r.Source).Msg("reading rejected")
			}

		case c := <-commands:
			if err := d.th.Apply(ctx, c); err != nil {
				log.Warn().Err(err).Msg("command failed")
			}

		case <-tick:
			t := d.now()
			if err := d.th.Tick(ctx); err != nil {
				log.Warn().Err(err).Msg("keep-alive cycle failed")
			}
			if d.heartbeat > 0 && t.Sub(lastHeartbeat) >= d.heartbeat {
				lastHeartbeat = t
				d.refresh()
				d.system(t, "HEARTBEAT", "", false)
			}
		}

		d.refresh()
		d.publishState()
		d.save()
	}
}

func (d *daemon) refresh() {
	d.tracker.Update(d.th.Snapshot())
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

func (d *daemon) system(t time.Time, event, reason string, retained bool) {
	e := mqtt.SystemEvent{
		Timestamp:  t,
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(d.tracker.Snapshot(), event, reason),
	}
	if err := d.publisher.PublishSystem(e); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("failed to publish system event")
		return
	}
	log.Debug().Str("event", event).Msg("published system event")
}

// publishState sends the snapshot when it differs from the last one sent.
func (d *daemon) publishState() {
	snap := d.th.Snapshot()
	payload, err := mqtt.FormatStatePayload(snap)
	if err != nil || string(payload) == string(d.lastState) {
		return
	}
	if err := d.publisher.PublishState(snap); err != nil {
		log.Warn().Err(err).Msg("failed to publish state")
		return
	}
	d.lastState = payload
}

func (d *daemon) save() {
	if d.store == nil {
		return
	}
	s := d.th.SavedState()
	data, _ := json.Marshal(s)
	if string(data) == string(d.lastSaved) {
		return
	}
	if err := d.store.SaveThermostat(d.id, s); err != nil {
		log.Error().Err(err).Msg("failed to save state")
		return
	}
	d.lastSaved = data
}

func (d *daemon) shutdown(reason string) {
	d.save()
	d.refresh()
	d.system(d.now(), "SHUTDOWN", reason, true)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

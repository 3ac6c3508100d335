package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gofoc/config"
	"gofoc/host/canbridge"
	"gofoc/host/link"
	"gofoc/host/serial"
	"gofoc/host/telemetry"
)

var (
	configPath = flag.String("config", "", "Config file (.json, .yaml)")
	device     = flag.String("device", "", "Serial device path, overrides link.port")
	baud       = flag.Int("baud", 0, "Baud rate, overrides link.baud")
	broker     = flag.String("mqtt", "", "MQTT broker URL, overrides mqtt.broker")
	canIface   = flag.String("can", "", "SocketCAN interface, overrides can.interface")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	if *device != "" {
		cfg.Link.Port = *device
	}
	if *baud != 0 {
		cfg.Link.Baud = *baud
	}
	if *broker != "" {
		cfg.MQTT.Broker = *broker
	}
	if *canIface != "" {
		cfg.CAN.Interface = *canIface
	}
	setupLogging(cfg.Log, *verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client, err := link.Dial(&serial.Config{
		Device:      cfg.Link.Port,
		Baud:        cfg.Link.Baud,
		ReadTimeout: 100 * time.Millisecond,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("connect failed")
	}
	defer client.Close()

	idCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if dict, err := client.Identify(idCtx); err != nil {
		log.Warn().Err(err).Msg("identify failed, using built-in message table")
	} else {
		log.Info().Int("bytes", len(dict)).Msg("dictionary retrieved")
	}
	cancel()

	poll := time.Duration(cfg.Link.Poll)

	if cfg.MQTT.Broker != "" {
		bridge, err := telemetry.Connect(telemetry.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
		}, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("mqtt")
		}
		defer bridge.Close()
		if err := bridge.Subscribe(client); err != nil {
			log.Fatal().Err(err).Msg("mqtt subscribe")
		}
		go bridge.Run(ctx, client, poll)
	}

	if cfg.CAN.Interface != "" {
		bus, err := canbridge.Dial(ctx, cfg.CAN.Interface, cfg.CAN.NodeID, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("can")
		}
		defer bus.Close()
		go func() {
			if err := bus.Serve(ctx, client); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("can receive stopped")
			}
		}()
		go publishCAN(ctx, bus, client, poll)
	}

	timeout := time.Duration(cfg.Link.Timeout)
	con := &console{drive: client, out: os.Stdout}

	fmt.Println("FOC drive console ('help' for commands)")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())

		// alignment takes three settle periods
		d := timeout
		if strings.HasPrefix(line, "calibrate") {
			d = 10 * timeout
		}
		cctx, cancel := context.WithTimeout(ctx, d)
		err := con.exec(cctx, line)
		cancel()
		if errors.Is(err, errQuit) {
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Msg("reading input")
	}
}

func setupLogging(cfg config.LogConfig, verbose bool) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func publishCAN(ctx context.Context, bus *canbridge.Bridge, client *link.Client, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		st, err := client.Status(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("status poll failed")
			continue
		}
		if err := bus.PublishStatus(ctx, st); err != nil {
			log.Warn().Err(err).Msg("can publish failed")
		}
	}
}

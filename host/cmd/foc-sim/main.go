package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gofoc/config"
	"gofoc/core"
	"gofoc/sim"
)

var (
	configPath = flag.String("config", "", "Config file (.json, .yaml)")
	duration   = flag.Duration("duration", 0, "Simulated run time, overrides sim.run_time")
	mode       = flag.String("mode", "", "angle, speed or current, overrides drive.mode")
	target     = flag.Float64("target", 0, "Setpoint for the selected mode")
	calibrate  = flag.Bool("calibrate", false, "Run and save the zero-offset calibration first")
	jsonOut    = flag.Bool("json", false, "Write samples to stdout as JSON lines")
	verbose    = flag.Bool("verbose", false, "Enable debug logging and dump the timing ring")
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

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	core.SetDebugWriter(func(s string) { log.Debug().Str("src", "core").Msg(s) })
	core.SetDebugEnabled(*verbose)

	if *mode != "" {
		if err := cfg.Drive.Mode.UnmarshalText([]byte(*mode)); err != nil {
			log.Fatal().Err(err).Msg("mode")
		}
	}
	run := time.Duration(cfg.Sim.RunTime)
	if *duration > 0 {
		run = *duration
	}

	if err := simulate(cfg, run); err != nil {
		log.Fatal().Err(err).Msg("simulation failed")
	}
	if *verbose {
		core.DumpTimingRing()
	}
}

func simulate(cfg *config.Config, run time.Duration) error {
	rig, err := sim.NewRig(cfg.Drive, cfg.RigConfig())
	if err != nil {
		return err
	}
	if err := rig.Start(); err != nil {
		return err
	}

	if *calibrate {
		if err := calibrateRig(rig); err != nil {
			return err
		}
	}

	rig.Ctrl.SetTarget(float32(*target))
	log.Info().
		Str("mode", cfg.Drive.Mode.String()).
		Float64("target", *target).
		Dur("duration", run).
		Msg("running")

	enc := json.NewEncoder(os.Stdout)
	every := time.Duration(cfg.Sim.SampleEvery)
	for rig.Elapsed() < run {
		rig.RunFor(every)
		s := rig.Sample()
		if *jsonOut {
			if err := enc.Encode(s); err != nil {
				return err
			}
			continue
		}
		log.Info().
			Dur("t", s.Time).
			Float64("angle", s.Angle).
			Float64("omega", s.Omega).
			Float32("speed", s.Speed).
			Float32("iq", s.Iq).
			Float32("vq", s.Vq).
			Msg("sample")
	}

	st := rig.Ctrl.Status()
	log.Info().
		Float32("position", st.Position).
		Float32("speed", st.Speed).
		Uint32("ticks", st.Ticks).
		Msg("done")
	return nil
}

func calibrateRig(rig *sim.Rig) error {
	if err := rig.Ctrl.Disarm(); err != nil {
		return err
	}
	if err := rig.Calibrate(); err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}
	cal := rig.Ctrl.Calibration()
	log.Info().
		Float32("zero", cal.ZeroOffset).
		Int8("direction", cal.Direction).
		Msg("calibrated")

	if rig.Store != nil {
		if err := rig.Ctrl.SaveCalibration(); err != nil {
			return fmt.Errorf("save calibration: %w", err)
		}
		log.Info().Int("erases", rig.Flash.Erases).Int("programs", rig.Flash.Programs).Msg("calibration saved")
	}
	return rig.Ctrl.Arm()
}

// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2025 The edf2asc authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Command edf2asc converts binary eye-tracking recordings into ASC text.
// It owns everything the conversion pipeline does not: argument parsing,
// file discovery, overwrite prompts, logging and reparse batch files.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/eyetools/edf2asc"
)

// reparseConfig is the yaml batch file: a list of inputs plus the few
// knobs that vary per batch.
type reparseConfig struct {
	Inputs    []string `yaml:"inputs"`
	OutputDir string   `yaml:"output_dir"`
	Overwrite bool     `yaml:"overwrite"`
	Parallel  int      `yaml:"parallel"`
}

func loadReparse(path string) (*reparseConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg reparseConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	if cfg.Parallel == 0 {
		cfg.Parallel = 4
	}
	return &cfg, nil
}

func main() {
	opts := edf2asc.DefaultOptions()

	var (
		outDir    string
		sampleTyp string
		eventTyp  string
		physStr   string
		pixelStr  string
		noSamples bool
		noEvents  bool
		noMsg     bool
		noStart   bool
		leftOnly  bool
		rightOnly bool
		overwrite bool
		reparse   string
		verbose   bool
	)

	flag.StringVar(&outDir, "p", "", "output directory (default: alongside the input)")
	flag.BoolVar(&opts.Selection.Resolution, "res", false, "output resolution columns")
	flag.BoolVar(&opts.Selection.SampleVelocity, "vel", false, "output sample velocity")
	flag.BoolVar(&opts.Selection.FastVelocity, "fv", false, "fast velocity estimator")
	flag.BoolVar(&noSamples, "ns", false, "suppress samples")
	flag.BoolVar(&noEvents, "ne", false, "suppress events")
	flag.BoolVar(&noMsg, "nmsg", false, "suppress messages")
	flag.BoolVar(&noStart, "nst", false, "suppress start events and START/END lines")
	flag.BoolVar(&leftOnly, "l", false, "left eye only")
	flag.BoolVar(&rightOnly, "r", false, "right eye only")
	flag.StringVar(&sampleTyp, "st", "gaze", "sample coordinates: gaze, href or pupil")
	flag.StringVar(&eventTyp, "et", "gaze", "event coordinates: gaze, href or pupil")
	flag.BoolVar(&opts.Format.UseTabs, "t", false, "tab field separator")
	flag.BoolVar(&opts.Format.UTF8BOM, "utf8", false, "write a UTF-8 byte-order mark")
	flag.BoolVar(&opts.Format.FloatTime, "ftime", false, "fractional timestamps")
	flag.BoolVar(&opts.Format.SepRes, "sepres", false, "resolution changes on their own RES lines")
	flag.BoolVar(&opts.Selection.InputValues, "input", false, "input port columns")
	flag.BoolVar(&opts.Selection.ButtonValues, "buttons", false, "button columns")
	flag.BoolVar(&opts.Selection.Averages, "avg", false, "fixation-update records")
	flag.BoolVar(&opts.Selection.Markers, "marker", false, "head-target marker records")
	flag.BoolVar(&opts.Selection.HTarget, "htarget", false, "head-target auxiliary fields")
	flag.BoolVar(&opts.Selection.HideViewerCommands, "hide", false, "suppress viewer-control messages")
	flag.BoolVar(&opts.Selection.LogMessages, "logmsg", false, "log message texts")
	flag.BoolVar(&opts.Diag.ConsistencyCheck, "c", false, "event/sample consistency check")
	flag.BoolVar(&opts.Diag.Failsafe, "failsafe", false, "drop events that fail the consistency check")
	flag.BoolVar(&opts.Diag.AllowRaw, "raw", false, "pass unrecognized records through")
	flag.BoolVar(&opts.Diag.DisableLargeTimestampCheck, "nots", false, "disable the large-timestamp check")
	flag.BoolVar(&opts.Diag.DisablePupilCheck, "nopa", false, "disable the pupil plausibility check")
	flag.Float64Var(&opts.Geometry.SimScreenDistance, "dist", opts.Geometry.SimScreenDistance, "simulation screen distance, mm")
	flag.Float64Var(&opts.Geometry.SimScreenDistanceBot, "distbot", opts.Geometry.SimScreenDistanceBot, "bottom-camera simulation screen distance, mm")
	flag.StringVar(&physStr, "phys", "", "physical screen rectangle \"L T R B\", mm")
	flag.StringVar(&pixelStr, "pixel", "", "pixel screen rectangle \"L T R B\"")
	flag.Float64Var(&opts.Geometry.DefaultResX, "defresx", 0, "default x resolution, pixels/degree")
	flag.Float64Var(&opts.Geometry.DefaultResY, "defresy", 0, "default y resolution, pixels/degree")
	flag.BoolVar(&overwrite, "y", false, "overwrite existing output without asking")
	flag.StringVar(&reparse, "reparse", "", "yaml batch file of inputs to convert")
	flag.BoolVar(&verbose, "v", false, "verbose logging")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if !verbose {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	opts.Selection.Samples = !noSamples
	opts.Selection.Events = !noEvents
	opts.Selection.MsgEvents = !noMsg
	opts.Selection.StartEvents = !noStart
	if leftOnly && !rightOnly {
		opts.Selection.RightEye = false
	}
	if rightOnly && !leftOnly {
		opts.Selection.LeftEye = false
	}

	var err error
	if opts.Geometry.SampleType, err = parseCoordSystem(sampleTyp); err != nil {
		log.Fatal().Err(err).Msg("Invalid sample type")
	}
	if opts.Geometry.EventType, err = parseCoordSystem(eventTyp); err != nil {
		log.Fatal().Err(err).Msg("Invalid event type")
	}
	if physStr != "" {
		if opts.Geometry.ScreenPhys, err = edf2asc.ParseDisplayCoords(physStr); err != nil {
			log.Fatal().Err(err).Msg("Invalid physical screen rectangle")
		}
	}
	if pixelStr != "" {
		if opts.Geometry.ScreenPixel, err = edf2asc.ParseDisplayCoords(pixelStr); err != nil {
			log.Fatal().Err(err).Msg("Invalid pixel screen rectangle")
		}
	}

	inputs := flag.Args()
	parallel := 4
	if reparse != "" {
		cfg, err := loadReparse(reparse)
		if err != nil {
			log.Fatal().Err(err).Str("path", reparse).Msg("Failed to load reparse batch")
		}
		inputs = append(inputs, cfg.Inputs...)
		if cfg.OutputDir != "" && outDir == "" {
			outDir = cfg.OutputDir
		}
		overwrite = overwrite || cfg.Overwrite
		parallel = cfg.Parallel
	}
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "usage: edf2asc [options] file.edf ...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	// Resolve output paths and overwrite decisions up front, before any
	// conversion starts.
	jobs := make(map[string]string, len(inputs))
	prompter := bufio.NewReader(os.Stdin)
	for _, in := range inputs {
		out := ascPath(in, outDir)
		if _, err := os.Stat(out); err == nil && !overwrite {
			fmt.Fprintf(os.Stderr, "%s exists, overwrite? [y/N] ", out)
			answer, _ := prompter.ReadString('\n')
			if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
				log.Info().Str("path", out).Msg("Skipped")
				continue
			}
		}
		jobs[in] = out
	}

	// One pipeline per file; the Options value is shared read-only.
	sem := make(chan struct{}, parallel)
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0
	for in, out := range jobs {
		wg.Add(1)
		go func(in, out string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if err := convertFile(opts, in, out); err != nil {
				log.Error().Err(err).Str("input", in).Msg("Conversion failed")
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(in, out)
	}
	wg.Wait()

	if failed > 0 {
		os.Exit(1)
	}
}

func parseCoordSystem(s string) (edf2asc.CoordSystem, error) {
	switch strings.ToLower(s) {
	case "gaze":
		return edf2asc.Gaze, nil
	case "href":
		return edf2asc.Href, nil
	case "pupil":
		return edf2asc.Pupil, nil
	}
	return edf2asc.Gaze, fmt.Errorf("unknown coordinate system %q", s)
}

// ascPath derives the output file name: the input with an .asc extension,
// optionally relocated under dir.
func ascPath(in, dir string) string {
	base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in)) + ".asc"
	if dir == "" {
		dir = filepath.Dir(in)
	}
	return filepath.Join(dir, base)
}

func convertFile(opts edf2asc.Options, in, out string) error {
	src, err := os.Open(in)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(out)
	if err != nil {
		return err
	}

	sum, cerr := edf2asc.Convert(opts, src, dst)
	if err := dst.Close(); err != nil && cerr == nil {
		cerr = err
	}

	ev := log.Info()
	if cerr != nil {
		ev = log.Warn()
	}
	ev.Str("input", in).
		Str("output", out).
		Int("records", sum.Records).
		Int("lines", sum.Emitted).
		Int("dropped", sum.Dropped).
		Int("consistency_warnings", sum.ConsistencyWarnings).
		Int("timestamp_warnings", sum.TimestampWarnings).
		Int("pupil_warnings", sum.PupilWarnings).
		Msg("Converted")

	for _, msg := range sum.LoggedMessages {
		log.Debug().Str("input", in).Str("msg", msg).Msg("Message")
	}
	return cerr
}

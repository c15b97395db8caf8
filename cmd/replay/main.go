// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// replay rebuilds the allocators of a captured allocation trace and
// re-executes its allocation operations.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/containers/memstrat/pkg/apis/config/v1alpha1"
	logger "github.com/containers/memstrat/pkg/log"
	"github.com/containers/memstrat/pkg/memory"
	"github.com/containers/memstrat/pkg/memory/resource"
	"github.com/containers/memstrat/pkg/metrics"
	"github.com/containers/memstrat/pkg/metrics/collectors"
	"github.com/containers/memstrat/pkg/replay"
	"github.com/containers/memstrat/pkg/resmgr"
)

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

type logrusFormatter struct{}

func (f *logrusFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return fmt.Appendf(nil, "replay: %s %s\n", entry.Level, entry.Message), nil
}

var (
	log = newLogger()
)

func newLogger() *logrus.Logger {
	l := logrus.StandardLogger()
	l.SetFormatter(&logrusFormatter{})
	l.SetLevel(logrus.InfoLevel)
	return l
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	var (
		opts       replay.Options
		configFile string
		verbose    bool
	)

	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	opts.AddFlags(fs)
	fs.StringVar(&configFile, "config", "", "YAML configuration file")
	fs.BoolVar(&verbose, "v", false, "enable verbose logging")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() > 0 {
		log.Errorf("unexpected arguments %v", fs.Args())
		fs.Usage()
		return exitUsage
	}
	if err := opts.Validate(); err != nil {
		log.Errorf("%v", err)
		fs.Usage()
		return exitUsage
	}

	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg := v1alpha1.DefaultReplayConfig()
	if configFile != "" {
		c, err := v1alpha1.ReadReplayConfig(configFile)
		if err != nil {
			log.Errorf("%v", err)
			return exitFatal
		}
		cfg = c
	}
	if verbose {
		cfg.Log.Debug = append(cfg.Log.Debug, "all")
	}
	if err := logger.Configure(&cfg.Log); err != nil {
		log.Errorf("failed to configure logging: %v", err)
		return exitFatal
	}
	logger.SetSlogLogger("replay")

	if err := replayTrace(opts, cfg, out); err != nil {
		log.Errorf("%v", err)
		return exitFatal
	}

	return exitOK
}

func replayTrace(opts replay.Options, cfg *v1alpha1.ReplayConfig, out io.Writer) error {
	registry := metrics.NewRegistry()
	if err := collectors.RegisterStandard(registry); err != nil {
		log.Warnf("failed to register standard collectors: %v", err)
	}

	rm, err := newResourceManager(cfg, registry)
	if err != nil {
		return err
	}
	defer func() {
		if err := rm.Close(); err != nil {
			log.Warnf("failed to release allocators: %v", err)
		}
	}()

	start := time.Now()
	records, err := readTrace(opts.InFile)
	if err != nil {
		return err
	}
	if opts.TimeParse {
		fmt.Fprintf(out, "parse time: %s (%d records)\n", time.Since(start), len(records))
	}

	m := replay.NewManager(rm)
	if err := replay.Load(m, records, opts); err != nil {
		return err
	}

	if opts.Info {
		for i, op := range m.Operations() {
			fmt.Fprintf(out, "#%d %s\n", i, op)
		}
		fmt.Fprintf(out, "%d operations\n", len(m.Operations()))
		return nil
	}

	res, err := m.Run()
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}

	if opts.TimeRun {
		fmt.Fprintf(out, "replay time: %s\n", res.Duration)
	}

	if opts.Stats {
		if err := writeStats(out, rm, registry, cfg); err != nil {
			return err
		}
	}

	return nil
}

func newResourceManager(cfg *v1alpha1.ReplayConfig, registry *metrics.Registry) (*resmgr.ResourceManager, error) {
	capacity, err := cfg.DeviceCapacityBytes()
	if err != nil {
		return nil, err
	}

	var deviceOpts []resource.DeviceOption
	if capacity > 0 {
		deviceOpts = append(deviceOpts, resource.WithDeviceCapacity(capacity))
	}

	options := []resmgr.Option{
		resmgr.WithFactories(
			resource.NewHostFactory(),
			resource.NewPinnedFactory(),
			resource.NewUnifiedFactory(),
			resource.NewDeviceFactory(deviceOpts...),
			resource.NewFileFactory(resource.WithFileDir(cfg.FileDir)),
		),
		resmgr.WithMetrics(registry),
	}
	if len(cfg.Resources) > 0 {
		options = append(options, resmgr.WithResources(cfg.Resources...))
	}

	return resmgr.New(options...)
}

func readTrace(path string) ([]replay.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace: %w", err)
	}
	defer f.Close()

	return replay.ParseTrace(f)
}

func writeStats(out io.Writer, rm *resmgr.ResourceManager, registry *metrics.Registry, cfg *v1alpha1.ReplayConfig) error {
	for _, name := range rm.Allocators() {
		a, err := rm.GetAllocator(name)
		if err != nil {
			return err
		}
		stats, err := a.Stats()
		if errors.Is(err, memory.ErrUnsupportedOperation) {
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %s\n", name, stats)
	}

	g, err := registry.NewGatherer(
		metrics.WithNamespace(cfg.Metrics.Namespace),
		metrics.WithMetrics(cfg.Metrics.Enabled),
	)
	if err != nil {
		log.Warnf("not dumping metrics: %v", err)
		return nil
	}

	return metrics.WriteText(out, g)
}

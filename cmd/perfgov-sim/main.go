// Command perfgov-sim drives a synthetic frame-rate profile through the
// performance governor on a real event loop and prints what it decides:
// degradation alerts, quality transitions, content level changes and error
// recoveries. With -addr it also serves the HTTP status surface.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-rod/rod"
	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"

	"github.com/nino-chavez/perfgov/adapters/rodsink"
	"github.com/nino-chavez/perfgov/config/adaptive"
	"github.com/nino-chavez/perfgov/content"
	"github.com/nino-chavez/perfgov/internal/eventloop"
	"github.com/nino-chavez/perfgov/monitoring"
	"github.com/nino-chavez/perfgov/probes"
	"github.com/nino-chavez/perfgov/recovery"
	"github.com/nino-chavez/perfgov/scroll"
	"github.com/nino-chavez/perfgov/server"
)

var log = logging.Logger("perfgov/sim")

type options struct {
	configPath string
	addr       string
	duration   time.Duration
	profile    string
	tick       time.Duration
	rodURL     string
	logLevel   string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "YAML configuration file, reloaded on change")
	flag.StringVar(&opts.addr, "addr", "", "serve the HTTP surface on this address (overrides the config)")
	flag.DurationVar(&opts.duration, "duration", 30*time.Second, "how long to run; 0 runs until interrupted")
	flag.StringVar(&opts.profile, "profile", "degrade", "frame-rate profile: "+profileNames())
	flag.DurationVar(&opts.tick, "tick", 250*time.Millisecond, "interval between synthetic samples")
	flag.StringVar(&opts.rodURL, "rod", "", "DevTools URL of a browser whose first page receives degraded modes")
	flag.StringVar(&opts.logLevel, "log-level", "info", "log level for the perfgov subsystems")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintln(os.Stderr, "perfgov-sim:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	if err := logging.SetLogLevelRegex("perfgov/.*", opts.logLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	prof, err := lookupProfile(opts.profile)
	if err != nil {
		return err
	}
	if opts.tick <= 0 {
		return errors.New("tick must be positive")
	}

	cfg := adaptive.DefaultConfig()
	if opts.configPath != "" {
		if cfg, err = adaptive.LoadFile(opts.configPath); err != nil {
			return err
		}
	}
	if opts.addr != "" {
		cfg.Server.Enabled = true
		cfg.Server.Addr = opts.addr
	}
	if prof == nil {
		cfg.Observer.AutoStart = true
	}
	cfgManager, err := adaptive.NewManager(cfg)
	if err != nil {
		return err
	}

	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	if opts.configPath != "" {
		go followConfig(ctx, cfgManager, opts.configPath)
	}

	loop := eventloop.NewReal(clock.RealClock{}, cfg.Monitoring.FrameBudget)
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()

	g, err := assemble(ctx, loop, cfg, logger, opts.rodURL)
	if err != nil {
		return err
	}
	defer g.close()

	if cfg.Server.Enabled {
		srv, err := server.New(server.Deps{
			Loop:     loop,
			Monitor:  g.monitor,
			Scroll:   g.scroll,
			Content:  g.content,
			Recovery: g.recovery,
			Registry: g.registry,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
				log.Errorf("http: %s", err)
			}
		}()
	}

	if prof != nil {
		d := &driver{
			g:       g,
			loop:    loop,
			profile: prof,
			tick:    opts.tick,
			sampler: monitoring.NewSampler(cfg.Monitoring.FrameBudget, g.memory, g.gpu, logger),
			fling:   &flinger{period: 5 * time.Second, velocity: 48, decay: 0.9, max: 2160},
		}
		loop.Post(d.start)
	}

	fmt.Printf("running profile %q", opts.profile)
	if opts.duration > 0 {
		fmt.Printf(" for %s", opts.duration)
	}
	fmt.Println()

	<-ctx.Done()
	if err := <-loopDone; err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		log.Warnf("event loop: %s", err)
	}
	return g.printSummary(os.Stdout)
}

// followConfig watches the configuration file and reports changes. Running
// components keep the configuration they were built with.
func followConfig(ctx context.Context, m *adaptive.Manager, path string) {
	events := m.Subscribe(ctx)
	go func() {
		if err := m.Watch(ctx, path); err != nil {
			log.Errorf("config watch: %s", err)
		}
	}()
	for ev := range events {
		if !ev.Success {
			fmt.Printf("config  rejected: %s\n", ev.Error)
			continue
		}
		fmt.Printf("config  %s changed %v (applies on restart)\n", ev.Source, ev.Sections)
	}
}

// governor is the assembled component graph.
type governor struct {
	registry *prometheus.Registry
	monitor  *monitoring.Service
	binding  *monitoring.Binding
	scroll   *scroll.Coordinator
	content  *content.Manager
	recovery *recovery.Manager
	memory   monitoring.MemoryProbe
	gpu      monitoring.GPUProbe

	closers []func() error
}

func assemble(ctx context.Context, loop eventloop.Loop, cfg *adaptive.AdaptiveConfig, logger *slog.Logger, rodURL string) (*governor, error) {
	g := &governor{registry: prometheus.NewRegistry()}
	ok := false
	defer func() {
		if !ok {
			g.close()
		}
	}()

	var sink recovery.DegradationSink = recovery.NewStateSink()
	g.memory = probes.NewRuntimeMemory(cfg.Probes.MemoryLimitBytes)
	if rodURL != "" {
		page, err := connectPage(ctx, rodURL)
		if err != nil {
			return nil, err
		}
		rs := rodsink.New(page, 0)
		sink, g.memory = rs, rs
	}

	g.gpu = monitoring.HeuristicGPU{}
	if cfg.Probes.NVML {
		gpu, closeGPU := probes.DefaultGPU(cfg.Probes.GPUDevice)
		g.gpu = gpu
		g.closers = append(g.closers, closeGPU)
	}

	var err error
	sampler := monitoring.NewSampler(cfg.Monitoring.FrameBudget, g.memory, g.gpu, logger)
	g.monitor, err = monitoring.NewService(loop, *cfg.Monitoring,
		monitoring.WithLogger(logger),
		monitoring.WithSampler(sampler),
		monitoring.WithQualityConfig(*cfg.Quality),
		monitoring.WithExporter(monitoring.NewExporter(g.registry)),
	)
	if err != nil {
		return nil, err
	}
	g.closers = append(g.closers, g.monitor.Close)
	if err := g.monitor.Initialize(); err != nil {
		return nil, err
	}

	if g.content, err = content.NewManager(loop, *cfg.Content); err != nil {
		return nil, err
	}
	g.closers = append(g.closers, g.content.Close)
	g.content.OnLevelChange(func(c content.LevelChange) {
		fmt.Printf("content %s -> %s (%s)\n", c.From, c.To, c.Reason)
	})

	if g.recovery, err = recovery.NewManager(loop, *cfg.Recovery, recovery.WithSink(sink)); err != nil {
		return nil, err
	}
	g.closers = append(g.closers, g.recovery.Close)
	stopWatch := g.recovery.WatchAlerts(g.monitor)
	g.closers = append(g.closers, func() error { stopWatch(); return nil })
	g.recovery.OnRecovery(func(r recovery.ErrorRecord) {
		fmt.Printf("error   %s %s in %q -> %s\n", r.Type, r.Code, r.Section, r.Strategy)
	})

	layout := newSectionLayout(1280, 720)
	if g.scroll, err = scroll.NewCoordinator(loop, *cfg.Scroll, fixedViewport{Width: 1280, Height: 720}, layout, g.monitor); err != nil {
		return nil, err
	}
	g.closers = append(g.closers, g.scroll.Close)
	for id := range layout {
		if err := g.scroll.RegisterElement(id); err != nil {
			return nil, err
		}
	}
	g.scroll.OnVisibilityChange(func(vs []scroll.Visibility) {
		for _, v := range vs {
			log.Debugf("%s visible %.0f%%", v.ID, v.Ratio*100)
		}
	})

	g.binding, err = monitoring.Attach(g.monitor, *cfg.Observer, monitoring.Observer{
		ID: "perfgov-sim",
		OnDegradationAlert: func(a monitoring.DegradationAlert) {
			fmt.Printf("alert   %s %s: %s\n", a.Type, a.Severity, a.Message)
		},
		OnQualityChange: func(c monitoring.QualityChange) {
			fmt.Printf("quality %s -> %s (%s)\n", c.From, c.To, c.Reason)
			g.content.HandleQualityChange(c)
		},
		OnOptimizationApplied: func(o monitoring.Optimization) {
			log.Infof("optimizations at %s: %v", o.Level, o.Actions)
		},
	})
	if err != nil {
		return nil, err
	}
	g.closers = append(g.closers, func() error { g.binding.Detach(); return nil })

	ok = true
	return g, nil
}

func connectPage(ctx context.Context, controlURL string) (*rod.Page, error) {
	b := rod.New().Context(ctx).ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	pages, err := b.Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, errors.New("browser: no open page")
	}
	return pages.First(), nil
}

func (g *governor) close() {
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i](); err != nil {
			log.Debugf("close: %s", err)
		}
	}
	g.closers = nil
}

func (g *governor) printSummary(out io.Writer) error {
	st := g.monitor.Status()
	cs := g.content.Status()
	rs := g.recovery.Status()
	summary := server.StatusResponse{
		Monitoring: st,
		Content:    &cs,
		Recovery:   &rs,
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

// driver feeds synthetic samples and interactions through the governor.
type driver struct {
	g       *governor
	loop    eventloop.Loop
	profile profile
	tick    time.Duration
	sampler *monitoring.Sampler
	fling   *flinger

	frameClock time.Time

	started time.Time
	ticks   int
}

func (d *driver) start() {
	d.started = d.loop.Now()
	d.step()
}

func (d *driver) step() {
	now := d.loop.Now()
	el := now.Sub(d.started)
	d.ticks++

	if err := d.g.monitor.Ingest(d.sample(now, el)); err != nil {
		log.Debugf("stopping driver: %s", err)
		return
	}

	section := sectionAt(el)
	err := d.g.recovery.Guard(section, func() error {
		return d.g.content.UpdateCanvasPosition(content.CanvasPosition{Scale: zoomAt(el), Section: section})
	})
	if err != nil {
		log.Debugf("canvas update: %s", err)
	}
	if d.ticks%3 == 0 {
		d.g.content.RecordInteraction()
	}
	if top, moved := d.fling.step(el); moved {
		d.g.scroll.HandleScroll(top, 0)
	}

	d.loop.AfterFunc(d.tick, d.step)
}

// sample runs the profile's frame time through the sampler on a synthetic
// frame clock, so memory and GPU readings see the same timing as a live frame.
func (d *driver) sample(now time.Time, el time.Duration) monitoring.PerformanceSample {
	frameTime := time.Duration(float64(time.Second) / d.profile(el))
	if d.frameClock.IsZero() {
		d.sampler.Reset()
		d.sampler.Sample(now.Add(-frameTime))
		d.frameClock = now.Add(-frameTime)
	}
	d.frameClock = d.frameClock.Add(frameTime)

	s := d.sampler.Sample(d.frameClock)
	s.Timestamp = now
	d.g.monitor.TrackOperation(monitoring.OperationCanvasRender, frameTime, nil)
	return s
}

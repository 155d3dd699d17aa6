// ClockKit phase-locked clock synchronization service

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"example.com/clockkit/base/zaplog"

	"example.com/clockkit/ck"

	"example.com/clockkit/core/client"
	"example.com/clockkit/core/config"
	"example.com/clockkit/core/measurements"
	"example.com/clockkit/core/server"
	"example.com/clockkit/core/timebase"

	"example.com/clockkit/driver/clock"

	"example.com/clockkit/net/udp"
)

const defaultMetricsAddr = "127.0.0.1:8080"

var log *zap.Logger

func initLogger(verbose bool) {
	c := zap.NewDevelopmentConfig()
	c.DisableStacktrace = true
	c.EncoderConfig.EncodeCaller = func(
		caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		p := caller.TrimmedPath()
		if len(p) > 30 {
			p = "..." + p[len(p)-27:]
		}
		enc.AppendString(fmt.Sprintf("%30s", p))
	}
	if !verbose {
		c.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	var err error
	log, err = c.Build()
	if err != nil {
		panic(err)
	}
	zaplog.SetLogger(log)
}

func runMonitor(log *zap.Logger, address string) {
	if address == "" {
		address = defaultMetricsAddr
	}
	http.Handle("/metrics", promhttp.Handler())
	err := http.ListenAndServe(address, nil)
	log.Fatal("failed to serve metrics", zap.Error(err))
}

func loadConfig(configFile string) config.Config {
	if configFile == "" {
		return config.Default()
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}
	return cfg
}

func runServer(configFile string) {
	ctx := context.Background()

	cfg := loadConfig(configFile)

	lclk := &clock.SystemClock{Log: log}
	timebase.RegisterClock(lclk)

	s := server.NewServer(log)
	err := s.Start(ctx, fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		log.Fatal("failed to start server", zap.Error(err))
	}

	runMonitor(log, cfg.MetricsAddr)
}

func runClient(configFile string) {
	cfg := loadConfig(configFile)

	lclk := &clock.SystemClock{Log: log}
	timebase.RegisterClock(lclk)

	h, err := ck.Open(cfg)
	if err != nil {
		log.Fatal("failed to open clock", zap.Error(err))
	}
	defer func() { _ = ck.Close(h) }()

	go runMonitor(log, cfg.MetricsAddr)

	for {
		v, err := ck.Value(h)
		if err != nil {
			fmt.Println("out of sync")
		} else {
			fmt.Println(time.UnixMicro(v).UTC().Format(time.RFC3339Nano))
		}
		lclk.Sleep(500 * time.Millisecond)
	}
}

func runTool(remoteAddr string, count int) {
	ctx := context.Background()

	lclk := &clock.SystemClock{Log: log}
	timebase.RegisterClock(lclk)

	conn, err := udp.Dial(remoteAddr)
	if err != nil {
		log.Fatal("failed to dial server", zap.Error(err))
	}
	defer conn.Close()

	c := client.NewClockClient(log, lclk, conn)
	c.SetTimeout(time.Second)
	if count > 1 {
		c.Histo = hdrhistogram.New(1, 50000, 5)
	}

	var s measurements.Sample
	for i := 0; i != count; i++ {
		s, err = c.Probe(ctx)
		if err != nil {
			log.Fatal("failed to probe server", zap.Error(err))
		}
	}
	fmt.Printf("offset: %s, round-trip time: %s\n", s.Offset(), s.RTT())
	if c.Histo != nil {
		c.Histo.PercentilesPrint(os.Stdout, 1, 1.0)
	}
}

func exitWithUsage() {
	fmt.Println("usage:")
	fmt.Println("  clockkit server [-verbose] [-config <file>]")
	fmt.Println("  clockkit client [-verbose] [-config <file>]")
	fmt.Println("  clockkit tool   [-verbose] -remote <host:port> [-count <n>]")
	os.Exit(1)
}

func main() {
	var (
		verbose    bool
		configFile string
		remoteAddr string
		probeCount int
	)

	serverFlags := flag.NewFlagSet("server", flag.ExitOnError)
	clientFlags := flag.NewFlagSet("client", flag.ExitOnError)
	toolFlags := flag.NewFlagSet("tool", flag.ExitOnError)

	serverFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	serverFlags.StringVar(&configFile, "config", "", "Config file")

	clientFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	clientFlags.StringVar(&configFile, "config", "", "Config file")

	toolFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	toolFlags.StringVar(&remoteAddr, "remote", "", "Remote address")
	toolFlags.IntVar(&probeCount, "count", 1, "Number of probes")

	if len(os.Args) < 2 {
		exitWithUsage()
	}

	switch os.Args[1] {
	case serverFlags.Name():
		err := serverFlags.Parse(os.Args[2:])
		if err != nil || serverFlags.NArg() != 0 {
			exitWithUsage()
		}
		initLogger(verbose)
		runServer(configFile)
	case clientFlags.Name():
		err := clientFlags.Parse(os.Args[2:])
		if err != nil || clientFlags.NArg() != 0 {
			exitWithUsage()
		}
		initLogger(verbose)
		runClient(configFile)
	case toolFlags.Name():
		err := toolFlags.Parse(os.Args[2:])
		if err != nil || toolFlags.NArg() != 0 {
			exitWithUsage()
		}
		if remoteAddr == "" || probeCount < 1 {
			exitWithUsage()
		}
		initLogger(verbose)
		runTool(remoteAddr, probeCount)
	default:
		exitWithUsage()
	}
}

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/rtp"

	rtsp "github.com/cesbo/rtsp-live"
	"github.com/cesbo/rtsp-live/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config")
	duration := flag.Duration("duration", 0, "stop after the duration, 0 to run until interrupted")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [options] rtsp://host/path\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	config := rtsp.DefaultConfig()
	if *configPath != "" {
		loaded, err := rtsp.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		config = *loaded
	}

	log := logger.Init(os.Stderr, config.SlogLevel())

	session, err := rtsp.NewSession(flag.Arg(0), &config, log)
	if err != nil {
		slog.Error("Failed to create session", "err", err)
		os.Exit(1)
	}

	handler := rtsp.HandlerFuncs{
		SessionDescription: func(sdp string) {
			fmt.Println(sdp)
			logSubstreams(log, session.URL(), sdp)
		},
		DataUnit: func(payload []byte, index int) {
			var header rtp.Header
			if _, err := header.Unmarshal(payload); err != nil {
				return
			}
			log.Debug("received packet", "seq", header.SequenceNumber, "track", index, "size", len(payload))
		},
		Failed: func(err error) {
			log.Error("Session failed", "err", err)
		},
	}

	if err := session.Start(handler); err != nil {
		slog.Error("Failed to start session", "err", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var timeout <-chan time.Time
	if *duration > 0 {
		timeout = time.After(*duration)
	}

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, stopping session", "signal", sig)
	case <-timeout:
		slog.Info("Duration elapsed, stopping session")
	case <-session.Done():
	}

	session.StopAndWait()
	session.Close()

	for _, s := range session.Stats() {
		slog.Info("Substream stats",
			"index", s.Index,
			"media", s.Media,
			"codec", s.Codec,
			"units", s.Units,
			"bytes", s.Bytes,
			"lost", s.Lost,
			"truncated", s.Truncated,
		)
	}
}

func logSubstreams(log *slog.Logger, rawURL, sdp string) {
	base, _ := url.Parse(rawURL)

	desc, err := rtsp.ParseSessionDescription(base, []byte(sdp))
	if err != nil {
		log.Warn("Failed to parse session description", "err", err)
		return
	}

	for _, sub := range desc.Substreams {
		attrs := []any{
			"index", sub.Index,
			"media", sub.Media,
			"codec", sub.Codec,
			"clock_rate", sub.ClockRate,
		}
		if sub.Params != nil {
			attrs = append(attrs, "params", sub.Params)
		}

		log.Info("Substream", attrs...)
	}

	if d := desc.Duration(); d > 0 {
		log.Info("Session duration", "seconds", d)
	}
}

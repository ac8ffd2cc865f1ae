package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"

	"github.com/kestrel-audio/audiocore/internal/audiocore"
	"github.com/kestrel-audio/audiocore/internal/config"
	"github.com/kestrel-audio/audiocore/internal/corelog"
	"github.com/kestrel-audio/audiocore/internal/distributed"
	"github.com/kestrel-audio/audiocore/pkg/audiotypes"
)

func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	distributedListenAddr := flag.String("distributedListenAddr", "", "Address to listen on for incoming distributed-device offers; empty disables the listener.")
	flag.Parse()

	cfg := config.Load(*configFilePath)

	logFilePointer, err := corelog.Configure(cfg.LogLevel, cfg.LogFile, slog.HandlerOptions{})
	if err != nil {
		slog.Error("error while configuring logger", "err", err)
		panic(err)
	}
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	core, err := audiocore.New(cfg, slog.Default())
	if err != nil {
		slog.Error("error while constructing audiocore", "err", err)
		panic(err)
	}
	defer core.Close()

	core.Start()

	if *distributedListenAddr != "" {
		spec := audiotypes.SampleSpec{SampleRate: cfg.SampleRate, ChannelCount: cfg.Channels}
		listener := distributed.NewListener(webrtc.Configuration{}, spec, slog.Default())
		go func() {
			for link := range listener.Accepted {
				slog.Info("distributed device link accepted", "networkId", link.NetworkID())
			}
		}()

		mux := http.NewServeMux()
		mux.Handle("POST /distributed/offer", listener)
		slog.Info("starting distributed signalling listener", "addr", *distributedListenAddr)
		go func() {
			if err := http.ListenAndServe(*distributedListenAddr, mux); err != nil {
				slog.Error("distributed signalling listener stopped", "err", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	slog.Info("shutting down", "signal", sig.String())
}

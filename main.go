package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/treemana/godoh/cache"
	"github.com/treemana/godoh/config"
	"github.com/treemana/godoh/log"
	"github.com/treemana/godoh/udp"
	"github.com/treemana/godoh/upstream"
)

const (
	exitOK     = 0
	exitServer = 1
	exitConfig = 2

	probeTimeout = 10 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:], signalled()))
}

func signalled() <-chan os.Signal {
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	return sc
}

func run(args []string, stop <-chan os.Signal) int {

	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	option, err := config.Load(args, os.LookupEnv)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(os.Stderr, "config error:", err)
		return exitConfig
	}

	// init log
	if err = log.Init(option.LogConfig()); err != nil {
		fmt.Println("log init error", err)
		return exitServer
	}
	defer func() {
		_ = log.Logger.Sync()
	}()

	log.Sugar.Infof("option %s", option)

	var c *cache.Cache
	if c, err = cache.New(option.CacheConfig()); err != nil {
		log.Sugar.Error(err)
		return exitConfig
	}

	var up *upstream.Forwarder
	if up, err = upstream.New(option.UpstreamConfig()); err != nil {
		log.Sugar.Error(err)
		return exitConfig
	}
	defer up.Close()

	go probe(up)

	var server *udp.Server
	if server, err = udp.New(option.ServerConfig(), c, up); err != nil {
		log.Sugar.Error(err)
		return exitServer
	}

	server.Start()

	// godoh is running until os exit
	s := <-stop
	log.Sugar.Infof("signal %d %s", s, s)

	server.Stop()
	return exitOK
}

// probe log how long the tls handshake with the resolver takes, startup does
// not depend on it.
func probe(up *upstream.Forwarder) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	elapse, err := up.Probe(ctx)
	switch {
	case errors.Is(err, upstream.ErrProbeSkipped):
	case err != nil:
		log.Sugar.Warnf("probe %s error=[%v]", up.URL(), err)
	default:
		log.Sugar.Infof("probe %s handshake elapse %s", up.URL(), elapse)
	}
}

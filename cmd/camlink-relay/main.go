// camlink-relay — relay server entry point.
//
// Pairs two camlink clients and forwards their datagrams to each other. A
// third client is refused while a session is in progress; a client that stays
// silent past the idle timeout loses its slot.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"

	"github.com/alecthomas/kingpin/v2"
	"github.com/pion/transport/v4/stdnet"
	"github.com/pterm/pterm"

	"github.com/1ureka/camlink/internal/app"
	"github.com/1ureka/camlink/internal/config"
	"github.com/1ureka/camlink/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cli := kingpin.New("camlink-relay", "Relay video frames between two camlink clients.")
	cli.Version(version)

	var idleSet, waitSet, matchSet, wsSet, statsSet, formatSet bool
	port := cli.Arg("port", "UDP port to bind (default 1234).").String()
	configPath := cli.Flag("config", "YAML configuration file.").Short('c').String()
	idle := cli.Flag("idle-timeout", "Evict a client after this long without traffic.").IsSetByUser(&idleSet).Duration()
	wait := cli.Flag("wait", "Upper bound on each wait for a datagram.").IsSetByUser(&waitSet).Duration()
	matchPort := cli.Flag("match-port", "Tell clients apart by address and port instead of address only.").IsSetByUser(&matchSet).Bool()
	wsListen := cli.Flag("ws-listen", "HTTP address for the WebSocket fallback and /metrics, e.g. :8080.").IsSetByUser(&wsSet).String()
	statsEvery := cli.Flag("stats-interval", "Traffic report interval (0 disables).").IsSetByUser(&statsSet).Duration()
	logFormat := cli.Flag("log-format", "Log output format.").IsSetByUser(&formatSet).Enum("text", "json")
	debugMode := cli.Flag("debug", "Enable debug logging.").Bool()
	kingpin.MustParse(cli.Parse(os.Args[1:]))

	if *debugMode {
		util.EnableDebug()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	s := cfg.Server

	if *port != "" {
		p, err := strconv.Atoi(*port)
		if err != nil || !config.ValidPort(p) {
			util.LogError("invalid port %q (must be 1~65535)", *port)
			os.Exit(1)
		}
		s.Port = p
	}
	if idleSet {
		s.IdleTimeout = *idle
	}
	if waitSet {
		s.Wait = *wait
	}
	if matchSet {
		s.MatchPort = *matchPort
	}
	if wsSet {
		s.WSListen = *wsListen
	}
	if statsSet {
		s.StatsInterval = *statsEvery
	}
	if formatSet {
		s.LogFormat = *logFormat
	}
	if err := s.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if s.LogFormat == "json" {
		util.SetJSON()
	} else {
		pterm.Info.Println("camlink-relay — v" + version)
		pterm.Println()
	}

	nw, err := stdnet.NewNet()
	if err != nil {
		util.LogError("failed to initialise network: %v", err)
		os.Exit(1)
	}

	if err := app.RunServer(ctx, nw, s); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("relay stopped")
}

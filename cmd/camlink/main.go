// camlink — client entry point.
//
// Sends local frames to the peer through a camlink relay and writes the peer's
// frames to a file. Frames come from a directory of images, or a generated
// test pattern when no source is given.
//
// Usage: camlink [flags] host [port]
//        camlink [flags] --ws URL
package main

import (
	"context"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/pion/transport/v4/stdnet"
	"github.com/pkg/errors"
	"github.com/pterm/pterm"

	"github.com/1ureka/camlink/internal/app"
	"github.com/1ureka/camlink/internal/config"
	"github.com/1ureka/camlink/internal/media"
	"github.com/1ureka/camlink/internal/transport"
	"github.com/1ureka/camlink/internal/util"
)

var version = "dev"

// Frame size of the generated test pattern.
const (
	patternWidth  = 320
	patternHeight = 240
)

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cli := kingpin.New("camlink", "Exchange video frames with a peer through a camlink relay.")
	cli.Version(version)

	var fpsSet, lossPSet, lossQSet bool
	host := cli.Arg("host", "Relay host name or address (not needed with --ws).").String()
	port := cli.Arg("port", "Relay UDP port (default 1234).").String()
	configPath := cli.Flag("config", "YAML configuration file.").Short('c').String()
	wsURL := cli.Flag("ws", "Reach the relay over its WebSocket fallback instead of UDP (ws:// or wss:// URL; host is ignored).").String()
	sourceDir := cli.Flag("source", "Directory of images to send in a loop (default: test pattern).").ExistingDir()
	sinkPath := cli.Flag("sink", "File that receives the latest remote frame.").Default("remote.jpg").String()
	imagesDir := cli.Flag("images", "Directory holding waiting.jpg and noconnection.jpg.").Default("images").String()
	fps := cli.Flag("fps", "Frames per second.").IsSetByUser(&fpsSet).Int()
	lossP := cli.Flag("loss-p", "Simulated loss: probability of dropping after a delivered datagram.").IsSetByUser(&lossPSet).Float64()
	lossQ := cli.Flag("loss-q", "Simulated loss: probability of dropping after a dropped datagram.").IsSetByUser(&lossQSet).Float64()
	debugMode := cli.Flag("debug", "Enable debug logging.").Bool()
	kingpin.MustParse(cli.Parse(os.Args[1:]))
	if err := checkTarget(*host, *wsURL); err != nil {
		cli.FatalUsage("%v\n", err)
	}

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println("camlink — v" + version)
	pterm.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	c := cfg.Client

	if *port != "" {
		p, err := strconv.Atoi(*port)
		if err != nil || !config.ValidPort(p) {
			util.LogError("invalid port %q (must be 1~65535)", *port)
			os.Exit(1)
		}
		c.Port = p
	}
	if fpsSet {
		c.FPS = *fps
	}
	if lossPSet {
		c.LossP = *lossP
	}
	if lossQSet {
		c.LossQ = *lossQ
	}
	if err := c.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	conn, err := dial(ctx, *host, *wsURL, c.Port)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	stats := util.NewStats()
	if c.LossP > 0 || c.LossQ > 0 {
		util.LogWarning("simulating loss: p=%g q=%g", c.LossP, c.LossQ)
		conn = transport.NewLossyConn(conn, c.LossP, c.LossQ, nil, stats)
	}

	link := transport.New(conn,
		transport.WithStats(stats),
		transport.WithMaxFrameBytes(c.MaxFrameBytes),
		transport.WithInbox(c.Inbox),
	)
	defer link.Close()

	var src media.Source = media.NewPatternSource(patternWidth, patternHeight)
	if *sourceDir != "" {
		if src, err = media.NewDirSource(*sourceDir); err != nil {
			util.LogError("unable to initialise source: %v", err)
			os.Exit(1)
		}
	}
	sink := media.NewFileSink(*sinkPath, *imagesDir)

	stats.StartReporter(ctx, c.StatsInterval)
	util.LogSuccess("sending %d fps to the relay; remote frames go to %s", c.FPS, *sinkPath)

	if err := app.RunClient(ctx, link, src, sink, c); err != nil {
		link.Close()
		os.Exit(1)
	}

	util.LogInfo("successfully closed relay connection")
}

// dial connects to the relay over UDP, or over WebSocket when wsURL is set.
func dial(ctx context.Context, host, wsURL string, port int) (transport.Conn, error) {
	if wsURL != "" {
		u, err := normalizeWSURL(wsURL)
		if err != nil {
			return nil, err
		}
		return transport.DialWebSocket(ctx, u)
	}

	nw, err := stdnet.NewNet()
	if err != nil {
		return nil, errors.Wrap(err, "initialise network")
	}
	return transport.DialUDP(nw, host, port)
}

// checkTarget requires a relay host unless a WebSocket URL names the relay.
func checkTarget(host, wsURL string) error {
	if strings.TrimSpace(host) == "" && strings.TrimSpace(wsURL) == "" {
		return errors.New("required argument 'host' not provided (or pass --ws)")
	}
	return nil
}

// normalizeWSURL validates a WebSocket URL and points it at the relay path.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", errors.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return scheme + "://" + u.Host + "/relay", nil
}

package app

import (
	"context"

	ptransport "github.com/pion/transport/v4"

	"github.com/1ureka/camlink/internal/config"
	"github.com/1ureka/camlink/internal/relay"
)

// RunServer binds the relay on nw and serves until ctx is cancelled.
func RunServer(ctx context.Context, nw ptransport.Net, cfg config.Server) error {
	srv, err := relay.Listen(nw, cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	return srv.Serve(ctx)
}

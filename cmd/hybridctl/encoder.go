package main

import (
	"errors"
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/hybrid-router/internal/encoder"
	"github.com/danielpatrickdp/hybrid-router/internal/features"
	"github.com/danielpatrickdp/hybrid-router/internal/logger"
)

// #region encoder-serve

// newEncoderCmd serves the hashed bag-of-words encoder over gRPC so remote
// engines configured with encoder.addr share one text band.
func newEncoderCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "encoder",
		Short: "Serve the text encoder over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logger.Named("encoder")
			layout, err := features.NewLayout(a.cfg.Features.Dimension)
			if err != nil {
				return err
			}
			enc, err := encoder.NewHashEncoder(layout.Text.Width)
			if err != nil {
				return err
			}

			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", listen, err)
			}
			srv := grpc.NewServer()
			encoder.RegisterServer(srv, encoder.NewServer(enc))

			ctx := cmd.Context()
			go func() {
				<-ctx.Done()
				srv.GracefulStop()
			}()

			log.Info().Str("addr", lis.Addr().String()).Int("dimension", enc.Dimension()).Msg("encoder serving")
			if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:50051", "address to listen on")
	return cmd
}

// #endregion encoder-serve

// Command peer is a headless Dialtone client: it can place or answer a call
// and move files over the call's data channel.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Dialtone/internal/adapters/auth"
	"github.com/dkeye/Dialtone/internal/adapters/rtc"
	"github.com/dkeye/Dialtone/internal/app/transfer"
	"github.com/dkeye/Dialtone/internal/client"
	"github.com/dkeye/Dialtone/internal/config"
	"github.com/dkeye/Dialtone/internal/core"
)

// fileSink stores received files in a directory.
type fileSink struct {
	dir string
}

func (s fileSink) TransferStarted(name string, size int64) {
	log.Info().Str("file", name).Int64("size", size).Msg("receiving")
}

func (s fileSink) TransferCompleted(name string, data []byte) {
	path := filepath.Join(s.dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Error().Err(err).Str("path", path).Msg("write file")
		return
	}
	log.Info().Str("path", path).Int("size", len(data)).Msg("received")
}

func (s fileSink) TransferFailed(name string, err error) {
	log.Warn().Err(err).Str("file", name).Msg("transfer failed")
}

func main() {
	server := pflag.String("server", "http://localhost:8080", "signaling server base URL")
	token := pflag.String("token", os.Getenv("DIALTONE_TOKEN"), "bearer token")
	callee := pflag.String("call", "", "identity to call")
	video := pflag.Bool("video", false, "announce a video call")
	sendPath := pflag.String("send", "", "file to send once the call is up")
	outDir := pflag.String("out", ".", "directory for received files")
	answer := pflag.Bool("answer", true, "answer incoming calls")
	name := pflag.String("name", "", "sign a token for this identity with auth.jwt_secret when --token is empty")
	configFile := pflag.String("config", "", "config file (defaults to config/config.<CONFIG_ENV>.yaml)")
	pflag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		cfg *config.Config
		err error
	)
	if *configFile != "" {
		cfg, err = config.LoadFile(*configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if *token == "" && *name != "" {
		*token, err = issueToken(cfg.Auth, *name)
		if err != nil {
			log.Fatal().Err(err).Msg("issue token")
		}
	}
	if *token == "" {
		log.Fatal().Msg("--token or --name is required")
	}

	sig, err := client.Dial(ctx, *server, *token)
	if err != nil {
		log.Fatal().Err(err).Msg("dial")
	}

	iceCfg := rtc.DefaultWebRTCConfig(cfg.ICE.URLs...)
	newMedia := func(remote string) (core.MediaConnection, error) {
		c, err := rtc.NewWebRTCConnection(iceCfg, remote)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	peer := client.NewPeer(sig, newMedia, fileSink{dir: *outDir}, client.Options{
		AutoAnswer: *answer,
		UseVideo:   *video,
		Transfer: transfer.Options{
			ChunkSize:     cfg.Transfer.ChunkSize,
			HighWatermark: cfg.Transfer.HighWatermark,
			LowWatermark:  cfg.Transfer.LowWatermark,
			RetryDelay:    cfg.Transfer.RetryDelay,
		},
		MaxReceiveSize: cfg.Transfer.MaxSize,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := peer.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if *callee != "" {
		g.Go(func() error {
			return placeCall(gctx, peer, *callee, *sendPath)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("peer stopped")
		os.Exit(1)
	}
}

// issueToken signs a development token with the server's shared secret.
func issueToken(cfg config.AuthConfig, name string) (string, error) {
	idp, err := auth.NewJWTProvider(cfg)
	if err != nil {
		return "", err
	}
	return idp.Issue(name, "", nil)
}

// placeCall rings callee, optionally sends a file and waits for the call to end.
func placeCall(ctx context.Context, peer *client.Peer, callee, sendPath string) error {
	if err := peer.Call(callee); err != nil {
		return err
	}
	log.Info().Str("callee", callee).Msg("calling")

	if sendPath != "" {
		data, err := os.ReadFile(sendPath)
		if err != nil {
			return err
		}
		if err := peer.SendFile(ctx, filepath.Base(sendPath), data); err != nil {
			if errors.Is(err, client.ErrNoCall) && peer.Err() != nil {
				return peer.Err()
			}
			return err
		}
		log.Info().Str("file", sendPath).Int("size", len(data)).Msg("sent")
	}

	select {
	case <-peer.Done():
		if err := peer.Err(); err != nil && !errors.Is(err, client.ErrEnded) {
			return err
		}
		return nil
	case <-ctx.Done():
		_ = peer.Hangup()
		return nil
	}
}

// fake-agent serves the in-process test agent on a TCP address, for trying the client without
// the real service.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	clay "github.com/go-go-golems/clay/pkg"

	"github.com/go-go-golems/chatsync/pkg/agenttest"
	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/protocol"
)

var (
	addr      string
	delay     time.Duration
	broadcast time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "fake-agent",
	Short: "Serve a fake agent speaking the chatsync WebSocket and REST protocol",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.InitLoggerFromCobra(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	agent := agenttest.New(
		agenttest.WithDelay(delay),
		agenttest.WithResponder(func(q agenttest.Query) (chat.AgentResponse, error) {
			if strings.EqualFold(strings.TrimSpace(q.Message), "fail") {
				return chat.AgentResponse{}, errors.New("asked to fail")
			}
			return agenttest.EchoResponder(q)
		}),
	)
	srv := &http.Server{
		Addr:              addr,
		Handler:           agent.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", addr).Str("prefix", agenttest.APIPrefix).Msg("fake agent listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if broadcast > 0 {
		eg.Go(func() error {
			t := time.NewTicker(broadcast)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case now := <-t.C:
					agent.Push(protocol.NewSystemMessageFrame("Server time is " + now.Format(time.Kitchen)))
				}
			}
		})
	}
	return eg.Wait()
}

func main() {
	rootCmd.Flags().StringVar(&addr, "addr", "localhost:8000", "Listen address")
	rootCmd.Flags().DurationVar(&delay, "delay", 0, "Delay before every answer")
	rootCmd.Flags().DurationVar(&broadcast, "broadcast", 0, "Push a system message to every connection at this interval (0 disables)")
	cobra.CheckErr(clay.InitGlazed("fake-agent", rootCmd))
	cobra.CheckErr(rootCmd.Execute())
}

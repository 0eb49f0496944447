package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/querycache/gathering"
	"github.com/unkn0wn-root/querycache/gathering/mockserver"
)

func (c *cli) newMock(z *zap.Logger) *mockserver.Server {
	if !c.cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := mockserver.New(mockserver.Options{
		Logger:  z,
		Latency: c.cfg.Mock.Latency,
		Gzip:    c.cfg.Mock.Gzip,
	})
	if c.cfg.Mock.Seed {
		mockserver.SeedDemo(srv)
	}
	return srv
}

// serve runs h on ln until ctx is done.
func serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	hs := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- hs.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (c *cli) serveMockCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve-mock",
		Short: "Serve the in-memory gathering API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = c.cfg.Mock.Addr
			}
			z, err := newZap(c.cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = z.Sync() }()

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			z.Info("mock api listening", zap.String("addr", ln.Addr().String()))
			return serve(cmd.Context(), ln, c.newMock(z).Handler())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default mock.addr)")
	return cmd
}

// demoCmd runs the optimistic flows against an in-process mock API and prints what the
// cache holds at each step.
func (c *cli) demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Walk through optimistic update, rollback and pagination against a local mock",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			z, err := newZap(c.cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = z.Sync() }()
			srv := c.newMock(z.Named("mock"))
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				return err
			}
			served := make(chan error, 1)
			go func() { served <- serve(ctx, ln, srv.Handler()) }()

			c.cfg.API.BaseURL = "http://" + ln.Addr().String()
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			if err := c.runDemo(ctx, a, srv); err != nil {
				return err
			}
			cancel()
			return <-served
		},
	}
}

func (c *cli) runDemo(ctx context.Context, a *app, srv *mockserver.Server) error {
	const id = 1
	step := func(name string, v any) error {
		fmt.Fprintf(c.out, "== %s\n", name)
		return c.print(v)
	}

	g, err := a.queries.Gathering(ctx, id)
	if err != nil {
		return err
	}
	if err := step("loaded", g.Title); err != nil {
		return err
	}

	srv.FailNext("updateGathering", http.StatusBadGateway)
	title := "Rolled back title"
	if _, err := a.muts.UpdateGathering(ctx, id, gathering.GatheringUpdate{Title: &title}); err == nil {
		return errors.New("demo: injected failure did not surface")
	}
	g, err = a.queries.Gathering(ctx, id)
	if err != nil {
		return err
	}
	if err := step("after failed update (snapshot restored)", g.Title); err != nil {
		return err
	}

	title = "Han river evening run"
	if _, err := a.muts.UpdateGathering(ctx, id, gathering.GatheringUpdate{Title: &title}); err != nil {
		return err
	}
	g, err = a.queries.Gathering(ctx, id)
	if err != nil {
		return err
	}
	if err := step("after update (refetched)", g.Title); err != nil {
		return err
	}

	pages, err := a.queries.Challenges(ctx, id, gathering.StatusInProgress)
	if err != nil {
		return err
	}
	for {
		next, err := a.queries.FetchNextChallenges(ctx, id, gathering.StatusInProgress)
		if errors.Is(err, gathering.ErrNoNextPage) {
			break
		}
		if err != nil {
			return err
		}
		pages = next
	}
	if err := step("challenge pages", pages.PageParams); err != nil {
		return err
	}

	created, err := a.muts.CreateChallenge(ctx, id, gathering.ChallengeCreate{
		Title:     "Plank every evening",
		StartDate: g.StartDate,
		EndDate:   g.StartDate.AddDate(0, 0, 7),
	})
	if err != nil {
		return err
	}
	pages, err = a.queries.Challenges(ctx, id, gathering.StatusInProgress)
	if err != nil {
		return err
	}
	if err := step("created challenge heads the list", pages.All()[0].ChallengeID == created.ChallengeID); err != nil {
		return err
	}

	cal, err := a.queries.Calendar(ctx, id)
	if err != nil {
		return err
	}
	return step("calendar events", len(cal.Events))
}

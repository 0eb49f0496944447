package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cli struct {
	v       *viper.Viper
	cfgPath string
	cfg     Config
	app     *app
	out     io.Writer
}

func newRootCmd() *cobra.Command {
	c := &cli{v: newViper()}

	root := &cobra.Command{
		Use:           "gatherctl",
		Short:         "Cached client for the gathering API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.out = cmd.OutOrStdout()
			cfg, err := loadConfig(c.v, c.cfgPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgPath, "config", "", "config file (default ./gatherctl.yaml)")
	pf.String("base-url", "", "API base URL")
	pf.String("cache", "", "cache provider: memory, ristretto, bigcache, redis")
	pf.String("codec", "", "cache codec: json, msgpack, cbor")
	pf.String("log-level", "", "log level")
	pf.String("log-backend", "", "cache log backend: zap, logrus, slog")
	for flag, key := range map[string]string{
		"base-url":    "api.base_url",
		"cache":       "cache.provider",
		"codec":       "cache.codec",
		"log-level":   "log.level",
		"log-backend": "log.backend",
	} {
		_ = c.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(
		c.gatheringCmd(),
		c.challengesCmd(),
		c.guestbooksCmd(),
		c.calendarCmd(),
		c.serveMockCmd(),
		c.demoCmd(),
	)
	return root
}

// ensureApp builds the client stack on first use.
func (c *cli) ensureApp(cmd *cobra.Command) (*app, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := newApp(cmd.Context(), c.cfg)
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func intArg(args []string, i int, name string) (int, error) {
	n, err := strconv.Atoi(args[i])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, args[i])
	}
	return n, nil
}

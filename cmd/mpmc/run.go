package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mpmccode/mpmc/pkg/cfg"
	"github.com/mpmccode/mpmc/pkg/mc"
	"github.com/mpmccode/mpmc/pkg/metrics"
	"github.com/mpmccode/mpmc/pkg/replica"
	"github.com/mpmccode/mpmc/pkg/store"
	"github.com/mpmccode/mpmc/pkg/traj/lammpstrj"
)

func runCheck(cmd *cobra.Command, args []string) error {
	logger.Info("reading configuration file", "path", args[0])
	c, err := cfg.New(args[0])
	if err != nil {
		return fmt.Errorf("newInput: %w", err)
	}

	r, err := c.Build(0)
	if err != nil {
		return err
	}
	d, err := mc.NewDriver(r.System, r.Energy, r.Options)
	if err != nil {
		return err
	}
	d.Init()

	s := d.System()
	logger.Info("configuration is valid",
		"ensemble", s.Ensemble,
		"molecules", s.Len(),
		"atoms", s.NumAtoms(),
		"volume", s.Box.Volume,
		"energy", s.Observables.Energy,
	)
	return nil
}

func runRun(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()

	logger.Info("reading configuration file", "path", args[0])
	c, err := cfg.New(args[0])
	if err != nil {
		return fmt.Errorf("newInput: %w", err)
	}

	id := uuid.New()
	log := logger.With("run", id)
	collector := metrics.New()
	sinks := []replica.Sink{replica.LogSink{Logger: log}}

	if c.Output.Metrics != "" {
		srv := serveMetrics(c.Output.Metrics, collector)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if c.Output.DB != "" {
		st, err := store.Open(c.Output.DB)
		if err != nil {
			return err
		}
		defer st.Close()

		data, err := c.Marshal()
		if err != nil {
			return fmt.Errorf("encode configuration: %w", err)
		}
		run := store.Run{ID: id, Ensemble: c.Ens().String(), Replicas: c.Replicas, Started: time.Now(), Config: data}
		if err := st.Begin(ctx, run); err != nil {
			return err
		}
		sinks = append(sinks, st)
	}

	writers := make([]*lammpstrj.Writer, c.Replicas)
	defer func() {
		for _, w := range writers {
			if w == nil {
				continue
			}
			if cerr := w.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()

	build := func(rank int) (*mc.Driver, error) {
		r, err := c.Build(rank)
		if err != nil {
			return nil, err
		}
		r.Options.Logger = log
		r.Options.Observers = append(r.Options.Observers, collector)
		if c.Output.Traj != "" {
			w, err := lammpstrj.Create(trajPath(c.Output.Traj, rank, c.Replicas))
			if err != nil {
				return nil, err
			}
			writers[rank] = w
			r.Options.Observers = append(r.Options.Observers, w)
		}
		return mc.NewDriver(r.System, r.Energy, r.Options)
	}

	log.Info("starting run", "ensemble", c.Ens(), "replicas", c.Replicas, "steps", c.Steps)
	runner := &replica.Runner{ID: id, Logger: log, Sinks: sinks}
	root, err := runner.Run(ctx, c.Replicas, build)
	if root != nil && root.Last().Replicas > 0 {
		if werr := root.Write(cmd.OutOrStdout()); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

// serveMetrics exposes the collector on addr until the server is shut down.
func serveMetrics(addr string, c *metrics.Collector) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "err", err)
		}
	}()
	return srv
}

// trajPath returns the trajectory of replica rank. Ranks are only added to
// the name when there are several replicas.
func trajPath(path string, rank, n int) string {
	if n <= 1 {
		return path
	}
	ext := filepath.Ext(path)
	return fmt.Sprint(strings.TrimSuffix(path, ext), "_", rank, ext)
}

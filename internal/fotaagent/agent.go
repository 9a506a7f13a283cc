// Package fotaagent assembles the update agent from its components.
package fotaagent

import (
	"context"
	"errors"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/fota/internal/fotaagent/catalog"
	"github.com/autopeer-io/fota/internal/fotaagent/core"
	"github.com/autopeer-io/fota/internal/fotaagent/payload"
	"github.com/autopeer-io/fota/internal/fotaagent/progress"
	"github.com/autopeer-io/fota/internal/fotaagent/report"
	"github.com/autopeer-io/fota/internal/fotaagent/session"
	"github.com/autopeer-io/fota/internal/fotaagent/status"
	"github.com/autopeer-io/fota/pkg/log"
	"github.com/autopeer-io/fota/pkg/options"
)

// Agent runs update sessions against the device's flash.
type Agent struct {
	deviceID string
	fs       afero.Fs
	opts     *options.FlashOptions

	catalog      *catalog.Catalog
	orchestrator *session.Orchestrator
	recorder     *progress.Recorder
	board        *status.Board

	reporter *report.Reporter
	server   *status.Server
}

type multiObserver []session.Observer

func (m multiObserver) StateChanged(ctx context.Context, from, to string, err error) {
	for _, o := range m {
		o.StateChanged(ctx, from, to, err)
	}
}

// Install runs a single session and returns its outcome. Reporting and the
// status server run only for its duration.
func (a *Agent) Install(ctx context.Context) error {
	log.Info("Starting cpeer-fota-agent install", "deviceID", a.deviceID, "staging", a.opts.StagingDir)

	svcCtx, stop := context.WithCancel(ctx)
	g, svcCtx := errgroup.WithContext(svcCtx)
	a.startServices(svcCtx, g)

	err := a.prepare()
	if err == nil {
		err = a.runSession(ctx)
	}

	stop()
	return multierr.Append(err, g.Wait())
}

// Watch runs a session whenever payloads appear in the staging directory
// until ctx is done. Failed sessions are logged and watching continues.
func (a *Agent) Watch(ctx context.Context) error {
	log.Info("Starting cpeer-fota-agent watch", "deviceID", a.deviceID, "staging", a.opts.StagingDir)

	g, gctx := errgroup.WithContext(ctx)
	a.startServices(gctx, g)

	g.Go(func() error {
		if err := a.prepare(); err != nil {
			return err
		}
		trigger := func(ctx context.Context) error {
			if err := a.runSession(ctx); err != nil && !errors.Is(err, core.ErrNoPayload) {
				log.Error(err, "Update session failed, waiting for new payloads")
			}
			return nil
		}
		// Payloads staged before the agent started.
		if _, err := payload.Scan(a.fs, a.opts.StagingDir); err == nil {
			_ = trigger(gctx)
		}
		return payload.Watch(gctx, a.opts.StagingDir, a.opts.WatchSettle, trigger)
	})

	err := g.Wait()
	log.Info("Agent shutting down")
	return err
}

func (a *Agent) startServices(ctx context.Context, g *errgroup.Group) {
	if a.reporter != nil {
		g.Go(func() error { return a.reporter.Run(ctx) })
	}
	if a.server != nil {
		g.Go(func() error { return a.server.Start(ctx) })
	}
}

// prepare checks that the medium can be scanned before accepting sessions.
func (a *Agent) prepare() error {
	if err := a.catalog.Scan(); err != nil {
		return err
	}
	a.board.SetReady(true)
	return nil
}

func (a *Agent) runSession(ctx context.Context) error {
	a.recorder.Reset()
	_, err := a.orchestrator.Run(ctx)
	if errors.Is(err, session.ErrBusy) {
		return err
	}
	if a.opts.RemovePayloads {
		if rerr := payload.Remove(a.fs, a.opts.StagingDir); rerr != nil {
			err = multierr.Append(err, rerr)
		}
	}
	return err
}

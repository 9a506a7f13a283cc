package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/autopeer-io/fota/internal/fotaagent/backup"
	"github.com/autopeer-io/fota/internal/fotaagent/catalog"
	"github.com/autopeer-io/fota/internal/fotaagent/core"
	"github.com/autopeer-io/fota/internal/fotaagent/payload"
	"github.com/autopeer-io/fota/internal/fotaagent/progress"
	"github.com/autopeer-io/fota/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/fota/internal/pkg/util/fsm"
	"github.com/autopeer-io/fota/pkg/log"
)

// Session states.
const (
	StateInit              = "init"
	StateVersionChecked    = "version_checked"
	StatePartitionsMounted = "partitions_mounted"
	StateFilesDiscovered   = "files_discovered"
	StateDeltaMode         = "delta_mode"
	StateImageMode         = "image_mode"
	StateVerifying         = "verifying"
	StateUpdatingBoot      = "updating_boot"
	StateUpdatingSystem    = "updating_system"
	StateUpdatingRecovery  = "updating_recovery"
	StateDone              = "done"
	StateFailed            = "failed"
	StateCleanup           = "cleanup"
)

// Session events.
const (
	EventCheckVersion = "check_version"
	EventMount        = "mount"
	EventDiscover     = "discover"
	EventSelectDelta  = "select_delta"
	EventSelectImage  = "select_image"
	EventVerify       = "verify"
	EventFinish       = "finish"
	EventFail         = "fail"
	EventCleanup      = "release"
)

// ErrBusy is returned when a session is started while another one runs.
var ErrBusy = errors.New("update session already running")

// updateEvent returns the event that starts the update step of a partition.
func updateEvent(partition string) string {
	return "update_" + partition
}

// requiredPartitions must all resolve before any payload is touched.
var requiredPartitions = []string{catalog.Data, catalog.Boot, catalog.System, catalog.Recovery}

// Observer is told about every state the session enters.
type Observer interface {
	StateChanged(ctx context.Context, from, to string, err error)
}

// Result is the outcome of one session.
type Result struct {
	Mode     core.Mode
	Targets  []string
	Rounds   uint
	State    string
	Duration time.Duration
}

// Orchestrator runs update sessions one at a time.
type Orchestrator struct {
	opts      Options
	catalog   *catalog.Catalog
	fs        afero.Fs
	engine    core.Engine
	sink      core.ProgressSink
	observer  Observer
	freeSpace FreeSpaceFunc

	mu     sync.Mutex
	logger log.Logger
}

// New returns an orchestrator. fs is where payloads are read from.
func New(opts Options, cat *catalog.Catalog, fs afero.Fs, engine core.Engine, sink core.ProgressSink) *Orchestrator {
	if opts.BackupAttempts < 1 {
		opts.BackupAttempts = backup.DefaultAttempts
	}
	if opts.WorkingBufferSize <= 0 {
		opts.WorkingBufferSize = DefaultWorkingBufferSize
	}
	if opts.BackupSlots == nil {
		opts.BackupSlots = backup.DefaultSlots
	}
	return &Orchestrator{
		opts:      opts,
		catalog:   cat,
		fs:        fs,
		engine:    engine,
		sink:      sink,
		freeSpace: unlimitedFreeSpace,
		logger:    log.WithName("session"),
	}
}

func (o *Orchestrator) WithObserver(obs Observer) *Orchestrator {
	o.observer = obs
	return o
}

func (o *Orchestrator) WithFreeSpace(fn FreeSpaceFunc) *Orchestrator {
	if fn != nil {
		o.freeSpace = fn
	}
	return o
}

// run carries one session through the state machine.
type run struct {
	o       *Orchestrator
	s       *Session
	machine *fsm.FSM
	err     error
}

func (o *Orchestrator) newMachine(r *run) *fsm.FSM {
	live := []string{
		StateInit, StateVersionChecked, StatePartitionsMounted, StateFilesDiscovered,
		StateDeltaMode, StateImageMode, StateVerifying,
		StateUpdatingBoot, StateUpdatingSystem, StateUpdatingRecovery,
	}
	events := fsm.Events{
		{Name: EventCheckVersion, Src: []string{StateInit}, Dst: StateVersionChecked},
		{Name: EventMount, Src: []string{StateVersionChecked}, Dst: StatePartitionsMounted},
		{Name: EventDiscover, Src: []string{StatePartitionsMounted}, Dst: StateFilesDiscovered},
		{Name: EventSelectDelta, Src: []string{StateFilesDiscovered}, Dst: StateDeltaMode},
		{Name: EventSelectImage, Src: []string{StateFilesDiscovered}, Dst: StateImageMode},
		{Name: EventVerify, Src: []string{StateDeltaMode}, Dst: StateVerifying},
		{Name: updateEvent(catalog.Boot), Src: []string{StateDeltaMode, StateImageMode, StateVerifying}, Dst: StateUpdatingBoot},
		{Name: updateEvent(catalog.System), Src: []string{StateDeltaMode, StateImageMode, StateVerifying, StateUpdatingBoot}, Dst: StateUpdatingSystem},
		{Name: updateEvent(catalog.Recovery), Src: []string{StateDeltaMode, StateImageMode, StateVerifying, StateUpdatingBoot, StateUpdatingSystem}, Dst: StateUpdatingRecovery},
		{Name: EventFinish, Src: []string{StateDeltaMode, StateImageMode, StateVerifying, StateUpdatingBoot, StateUpdatingSystem, StateUpdatingRecovery}, Dst: StateDone},
		{Name: EventFail, Src: live, Dst: StateFailed},
		{Name: EventCleanup, Src: []string{StateDone, StateFailed}, Dst: StateCleanup},
	}

	callbacks := fsm.Callbacks{
		"enter_state": fsmutil.OnTransition(func(ctx context.Context, from, to, event string) {
			o.logger.Debug("Session state", "from", from, "to", to, "event", event)
			if o.observer != nil {
				o.observer.StateChanged(ctx, from, to, r.err)
			}
		}),
		"enter_" + StateVerifying:        fsmutil.WrapEvent(r.enterVerifying),
		"enter_" + StateUpdatingBoot:     fsmutil.WrapEvent(r.enterUpdating),
		"enter_" + StateUpdatingSystem:   fsmutil.WrapEvent(r.enterUpdating),
		"enter_" + StateUpdatingRecovery: fsmutil.WrapEvent(r.enterUpdating),
		"enter_" + StateCleanup:          fsmutil.WrapEvent(r.enterCleanup),
	}
	return fsm.NewFSM(StateInit, events, callbacks)
}

// Run executes one session and returns its result. The returned error is
// nil only when every target was updated and cleanup succeeded.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if !o.mu.TryLock() {
		return nil, ErrBusy
	}
	defer o.mu.Unlock()

	start := time.Now()
	o.catalog.Reset()
	r := &run{o: o, s: &Session{}}
	r.machine = o.newMachine(r)

	r.err = r.drive(ctx)
	// Terminal transitions and cleanup run even when ctx is done.
	tctx := context.WithoutCancel(ctx)
	if r.err != nil {
		o.logger.Error(r.err, "Update session failed", "state", r.machine.Current())
		if o.sink != nil {
			o.sink.Print(fmt.Sprintf("Update failed: %v", r.err))
		}
		if ferr := r.machine.Event(tctx, EventFail, r.err); ferr != nil {
			o.logger.Error(ferr, "Failed to enter failed state")
		}
	} else if err := r.machine.Event(tctx, EventFinish); err != nil {
		r.err = err
	}

	res := &Result{
		Mode:    r.s.Mode,
		Targets: append([]string(nil), r.s.Targets...),
		State:   r.machine.Current(),
	}
	if r.s.Tracker != nil {
		res.Rounds = r.s.Tracker.Rounds()
	}

	if err := r.machine.Event(tctx, EventCleanup); err != nil {
		r.err = multierr.Append(r.err, fmt.Errorf("cleanup: %w", err))
	}
	res.Duration = time.Since(start)

	metrics.SessionResults.WithLabelValues(metrics.Result(r.err), res.Mode.String()).Inc()
	if r.err == nil {
		o.logger.Info("Update session done", "mode", res.Mode.String(), "targets", res.Targets, "duration", res.Duration)
		if o.sink != nil {
			o.sink.Print("Update done")
		}
	}
	return res, r.err
}

func (r *run) drive(ctx context.Context) error {
	o, s := r.o, r.s

	if err := o.checkVersion(); err != nil {
		return err
	}
	if err := r.machine.Event(ctx, EventCheckVersion); err != nil {
		return err
	}

	if err := o.mount(s); err != nil {
		return err
	}
	if err := r.machine.Event(ctx, EventMount); err != nil {
		return err
	}

	set, err := payload.Scan(o.fs, o.opts.StagingDir)
	if err != nil {
		return err
	}
	s.Payloads = set
	s.Mode = set.Mode
	for _, t := range set.Targets() {
		if t == catalog.Recovery && !o.opts.UpdateRecovery {
			o.logger.Info("Recovery payload present, recovery updates disabled", "path", set.Files[t])
			continue
		}
		s.Targets = append(s.Targets, t)
	}
	if err := r.machine.Event(ctx, EventDiscover); err != nil {
		return err
	}

	switch s.Mode {
	case core.ModeDelta:
		s.Tracker = progress.NewTracker(progress.Rounds(len(s.Targets), o.opts.VerifySource, o.opts.VerifyTarget), o.sink)
		if err := r.machine.Event(ctx, EventSelectDelta); err != nil {
			return err
		}
		if o.opts.VerifySource || o.opts.VerifyTarget {
			if len(s.Targets) > 0 {
				if err := r.machine.Event(ctx, EventVerify); err != nil {
					return err
				}
			}
		}
	case core.ModeImage:
		if !o.opts.AllowImageMode {
			return fmt.Errorf("payloads %v: %w", set.Targets(), core.ErrImageModeDisabled)
		}
		s.Tracker = progress.NewTracker(progress.Rounds(len(s.Targets), false, false), o.sink)
		if err := r.machine.Event(ctx, EventSelectImage); err != nil {
			return err
		}
	}
	o.logger.Info("Payloads discovered", "mode", s.Mode.String(), "targets", s.Targets, "rounds", s.Tracker.Rounds())

	for _, t := range s.Targets {
		// Between partitions is the only point a session can be aborted.
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.machine.Event(ctx, updateEvent(t)); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) checkVersion() error {
	got := o.engine.Version()
	o.logger.Info("Patch engine", "name", o.engine.Name(), "version", got)
	if o.opts.EngineVersion != "" && got != o.opts.EngineVersion {
		return fmt.Errorf("engine %s reports %q, want %q: %w", o.engine.Name(), got, o.opts.EngineVersion, core.ErrVersionMismatch)
	}
	return nil
}

func (o *Orchestrator) mount(s *Session) error {
	geos, err := o.catalog.ResolveAll(requiredPartitions...)
	if err != nil {
		return err
	}
	if err := o.catalog.RequireSameErase(catalog.Boot, catalog.System); err != nil {
		return err
	}
	s.Geometries = geos

	if bg, err := o.catalog.Resolve(catalog.Backup); err != nil {
		o.logger.Warn("Backup partition unavailable, staging disabled", "partition", o.catalog.PhysicalName(catalog.Backup), "err", err)
	} else {
		part, err := o.catalog.Open(catalog.Backup)
		if err != nil {
			return err
		}
		s.backupPart = part
		s.Geometries[catalog.Backup] = bg
	}
	s.Backup = backup.New(s.backupPart, o.opts.BackupSlots, o.opts.BackupAttempts)
	s.WorkingBuffer = make([]byte, o.opts.WorkingBufferSize)
	return nil
}

// activate replaces the active target with the named partition.
func (r *run) activate(name string) error {
	s := r.s
	if s.Active != nil {
		if err := s.Active.Close(); err != nil {
			return err
		}
		s.Active = nil
	}
	a, err := openTarget(r.o.fs, r.o.catalog, name, s.Payloads.Files[name])
	if err != nil {
		return err
	}
	s.Active = a
	return nil
}

// release closes the active target.
func (r *run) release() error {
	if r.s.Active == nil {
		return nil
	}
	err := r.s.Active.Close()
	r.s.Active = nil
	return err
}

// invoke runs the engine once against the named partition.
func (r *run) invoke(ctx context.Context, name string, op core.Operation) (err error) {
	o, s := r.o, r.s
	if err := r.activate(name); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, r.release())
	}()

	s.Round++
	if o.sink != nil {
		o.sink.Print(fmt.Sprintf("%s %s (%d/%d)", op, name, s.Round, s.Tracker.Rounds()))
	}
	o.logger.Info("Invoking patch engine", "partition", name, "operation", op.String(), "round", s.Round)

	start := time.Now()
	status := o.engine.Apply(ctx, s.Describe(o.opts, op), newStorage(s, o.freeSpace))
	metrics.EngineDuration.WithLabelValues(name, op.String()).Observe(time.Since(start).Seconds())

	if status != core.StatusSuccess {
		return fmt.Errorf("%s %s: engine returned %s: %w", op, name, status, core.ErrEngineFailure)
	}
	return nil
}

func (r *run) enterVerifying(ctx context.Context, _ *fsm.Event) error {
	var ops []core.Operation
	if r.o.opts.VerifySource {
		ops = append(ops, core.OpVerifySource)
	}
	if r.o.opts.VerifyTarget {
		ops = append(ops, core.OpVerifyTarget)
	}
	for _, op := range ops {
		for _, t := range r.s.Targets {
			if err := r.invoke(ctx, t, op); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) enterUpdating(ctx context.Context, e *fsm.Event) error {
	name := strings.TrimPrefix(e.Event, "update_")

	if r.s.Mode == core.ModeImage {
		if err := r.activate(name); err != nil {
			return err
		}
		r.s.Round++
		if r.o.sink != nil {
			r.o.sink.Print(fmt.Sprintf("Writing image %s (%d/%d)", name, r.s.Round, r.s.Tracker.Rounds()))
		}
		return multierr.Append(writeImage(r.s.Active, r.s.Tracker), r.release())
	}
	return r.invoke(ctx, name, core.OpUpdate)
}

func (r *run) enterCleanup(_ context.Context, _ *fsm.Event) error {
	return r.s.Cleanup()
}

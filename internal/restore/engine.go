package restore

import (
	"context"
	"fmt"
	"time"

	"pgrman/internal/backup"
	"pgrman/internal/catalog"
	"pgrman/internal/failure"
	"pgrman/internal/logger"
	"pgrman/internal/pgctl"
	"pgrman/internal/pitr"
	"pgrman/internal/progress"
	"pgrman/internal/wal"
)

// Plan is what a restore run is about to do, shown before anything is
// written.
type Plan struct {
	PgData          string
	CurrentTimeline uint32
	BackupTimeline  uint32
	TargetTimeline  uint32
	Timelines       []wal.Timeline
	Chain           *backup.Chain
	Target          pitr.RecoveryTarget
	RequiredBytes   int64

	// EstimatedDuration is a rough copy time for RequiredBytes
	EstimatedDuration time.Duration
}

// ConfirmFunc is asked before the destructive phase. Returning false
// cancels the restore.
type ConfirmFunc func(plan *Plan) (bool, error)

// Result describes a finished run
type Result struct {
	Plan        *Plan
	Stats       Stats
	ConfigPath  string
	Ranges      []wal.SegmentRange
	NextSegment string // first WAL segment the check did not find
	Duration    time.Duration
	Check       bool
}

// Engine drives a restore from the catalog into the data directory
type Engine struct {
	cat          *catalog.Catalog
	opts         *Options
	log          logger.Logger
	executor     *Executor
	resolver     backup.BackupChainResolver
	safety       *Safety
	configurator *pitr.Configurator
	confirm      ConfirmFunc
}

// New creates a new restore engine. program names the tool in generated
// configuration headers.
func New(cat *catalog.Catalog, opts *Options, log logger.Logger, program string) *Engine {
	return &Engine{
		cat:          cat,
		opts:         opts,
		log:          log,
		executor:     NewExecutor(cat, opts, log),
		resolver:     backup.NewResolver(log, wal.DecompressionSupported),
		safety:       NewSafety(log),
		configurator: pitr.NewConfigurator(log, program),
	}
}

// SetConfirm installs a confirmation step. It is never asked in check mode.
func (e *Engine) SetConfirm(fn ConfirmFunc) {
	e.confirm = fn
}

// Run performs the restore, or in check mode only verifies that it could.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	if err := e.opts.Validate(); err != nil {
		return nil, err
	}

	if e.opts.Verbose {
		if e.opts.Check {
			e.log.Info("============================================")
			e.log.Info("restore start (check mode)")
			e.log.Info("============================================")
		} else {
			e.log.Info("restore start")
		}
	}

	lock, err := e.cat.Lock()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			e.log.Warn("Can't release catalog lock", "error", err)
		}
	}()

	if err := e.checkServerStopped(ctx); err != nil {
		return nil, err
	}

	backups, err := e.cat.List()
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		PgData:          e.opts.PgData,
		CurrentTimeline: pgctl.CurrentTimeline(e.opts.PgData, e.log),
		Target:          e.opts.Target,
	}

	plan.BackupTimeline, err = e.latestFullBackupTimeline(backups)
	if err != nil {
		return nil, err
	}

	switch {
	case e.opts.Target.Timeline != 0:
		plan.TargetTimeline = e.opts.Target.Timeline
	case plan.CurrentTimeline != 0:
		plan.TargetTimeline = plan.CurrentTimeline
	default:
		plan.TargetTimeline = plan.BackupTimeline
	}
	plan.Target.Timeline = plan.TargetTimeline

	if e.opts.Verbose {
		e.log.Info(fmt.Sprintf("current timeline ID = %d", plan.CurrentTimeline))
		e.log.Info(fmt.Sprintf("latest full backup timeline ID = %d", plan.BackupTimeline))
		e.log.Info(fmt.Sprintf("target timeline ID = %d", plan.TargetTimeline))
	}

	if !e.opts.Check {
		if err := e.preview(ctx, backups, plan); err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, failure.New(failure.Interrupted, "interrupted before restore")
		}

		reRecovery := plan.CurrentTimeline != 0 && plan.CurrentTimeline != plan.BackupTimeline
		if err := e.executor.BackupOnlineFiles(reRecovery); err != nil {
			return nil, err
		}
		if err := e.executor.ClearDestination(); err != nil {
			return nil, err
		}
		if err := e.executor.RestoreTimelineHistory(); err != nil {
			return nil, err
		}
	}

	plan.Timelines, err = e.historyReader(e.opts.Check).ReadHistory(plan.TargetTimeline)
	if err != nil {
		return nil, err
	}

	if e.opts.Verbose {
		e.log.Info("timeline history:\n" + wal.FormatTimelines(plan.Timelines))
	}

	plan.Chain, err = e.resolver.ResolveChain(backups, plan.Timelines)
	if err != nil {
		return nil, err
	}
	plan.RequiredBytes = plan.Chain.TotalBytes()

	if e.opts.Verbose {
		e.log.Info("backup for restore: " + backupLabel(plan.Chain.Base))
	}

	result := &Result{Plan: plan, Check: e.opts.Check}

	e.executor.TrackBytes(plan.RequiredBytes)
	members := plan.Chain.Members()
	for i, b := range members {
		op := e.log.StartOperation("restore " + b.ID())
		if err := e.executor.RestoreDatabase(ctx, b, i == 0, i == len(members)-1); err != nil {
			op.Fail("backup not applied", "error", err)
			return nil, err
		}
		op.Complete("backup applied", "mode", b.Mode.String())
	}

	timelines := plan.Timelines
	var checker *wal.ContinuityChecker
	if e.opts.Check {
		last := backups[plan.Chain.LastIndex]
		checker = wal.NewContinuityChecker(e.log, timelines, wal.PositionOf(last.StartLSN))
		checker.SetSegmentsPerLog(e.segmentsPerLog(plan.Chain.Base))
	}

	walOp := e.log.StartOperation("restore WAL")
	for i := plan.Chain.LastIndex; i >= 0; i-- {
		b := backups[i]
		if b.Status != catalog.StatusOK || !b.HasArchiveLog() || !backup.Satisfies(timelines, b) {
			continue
		}
		if err := e.executor.RestoreArchiveLogs(ctx, b); err != nil {
			walOp.Fail("archived WAL not restored", "backup", b.ID(), "error", err)
			return nil, err
		}
		walOp.Update("archived WAL processed", "backup", b.ID())
		if checker != nil {
			checker.Search(b.Path(catalog.ArclogDir))
			timelines = checker.Timelines()
		}
	}

	stats := e.executor.Stats()
	walOp.Complete("archived WAL processed", "linked", stats.SegmentsLinked, "decompressed", stats.SegmentsDecompressed)

	if e.opts.Check {
		checker.Search(e.opts.ArclogPath)
		checker.Search(e.opts.OnlineWALPath())
		result.Ranges = checker.Ranges()
		result.NextSegment = checker.NextFile()
		e.log.Info("WAL continues up to the next missing segment", "next", result.NextSegment)
		e.log.Info("all necessary files are found")
	} else {
		if err := e.executor.RestoreOnlineFiles(); err != nil {
			return nil, err
		}
		result.ConfigPath, err = e.configurator.Write(e.opts.PgData, e.opts.ArclogPath, &plan.Target)
		if err != nil {
			return nil, err
		}
	}

	result.Stats = e.executor.Stats()
	result.Duration = time.Since(start)

	e.log.Time("restore finished", "duration", result.Duration.Round(time.Millisecond).String())
	if !e.opts.Check {
		e.log.Info("restore complete. Recovery starts automatically when the PostgreSQL server is started.")
	}
	return result, nil
}

// checkServerStopped refuses to run against a live server
func (e *Engine) checkServerStopped(ctx context.Context) error {
	running, err := pgctl.IsRunning(e.opts.PgData)
	if err != nil {
		return err
	}
	if !running && e.opts.ConnString != "" {
		probe, err := pgctl.Probe(ctx, e.opts.ConnString, e.log)
		if err != nil {
			return err
		}
		running = probe.ServesDataDir(e.opts.PgData)
	}
	if running {
		return failure.New(failure.PgRunning, "PostgreSQL server is running")
	}
	return nil
}

// latestFullBackupTimeline returns the timeline of the newest OK full
// backup. A DONE backup on the way is validated and promoted to OK or
// marked CORRUPT.
func (e *Engine) latestFullBackupTimeline(backups []*catalog.Backup) (uint32, error) {
	for _, b := range backups {
		if b.Mode < catalog.ModeFull {
			continue
		}

		if b.Status == catalog.StatusDone {
			err := e.cat.Validate(b)
			switch {
			case err == nil:
				b.Status = catalog.StatusOK
			case failure.Is(err, failure.Corrupted):
				e.log.Warn("Backup is corrupted", "backup", b.ID(), "error", err)
				b.Status = catalog.StatusCorrupt
			default:
				return 0, err
			}
			if !e.opts.Check {
				if err := e.cat.SaveStatus(b); err != nil {
					return 0, err
				}
			}
		}

		if b.Status == catalog.StatusOK {
			return b.Timeline, nil
		}
	}
	return 0, failure.New(failure.NoBackup, "no full backup found, can't restore")
}

// historyReader searches the archive directory first. In check mode the
// catalog copies are consulted directly since nothing was copied.
func (e *Engine) historyReader(check bool) *wal.TimelineManager {
	workWAL := e.cat.WorkPath(e.opts.WALDir)
	if check {
		return wal.NewTimelineManager(e.log, e.opts.ArclogPath, e.cat.TimelineHistoryPath(), workWAL)
	}
	return wal.NewTimelineManager(e.log, e.opts.ArclogPath, workWAL)
}

// preview resolves the chain without writing anything, checks free space
// and asks for confirmation.
func (e *Engine) preview(ctx context.Context, backups []*catalog.Backup, plan *Plan) error {
	reader := wal.NewTimelineManager(e.log, e.cat.TimelineHistoryPath(), e.opts.ArclogPath, e.cat.WorkPath(e.opts.WALDir))
	timelines, err := reader.ReadHistory(plan.TargetTimeline)
	if err != nil {
		return err
	}
	chain, err := e.resolver.ResolveChain(backups, timelines)
	if err != nil {
		return err
	}

	preview := *plan
	preview.Timelines = timelines
	preview.Chain = chain
	preview.RequiredBytes = chain.TotalBytes()
	preview.EstimatedDuration = progress.EstimateDuration(preview.RequiredBytes)

	if err := e.safety.CheckDiskSpace(e.opts.PgData, preview.RequiredBytes); err != nil {
		e.log.Warn("Disk space check failed", "error", err)
	}

	if e.confirm == nil {
		return nil
	}
	if ctx.Err() != nil {
		return failure.New(failure.Interrupted, "interrupted before restore")
	}
	ok, err := e.confirm(&preview)
	if err != nil {
		return err
	}
	if !ok {
		return failure.New(failure.Interrupted, "restore cancelled")
	}
	return nil
}

// segmentsPerLog picks the WAL layout from PG_VERSION of the data
// directory, or of the base backup when the data directory has none.
func (e *Engine) segmentsPerLog(base *catalog.Backup) uint32 {
	for _, dir := range []string{e.opts.PgData, base.Path(catalog.DatabaseDir)} {
		if v, err := pgctl.DataVersion(dir); err == nil {
			return wal.SegmentsPerLogFor(v.Major, v.Minor)
		}
	}
	return wal.SegmentsPerLog
}

// backupLabel formats a backup as "start time (stop LSN)"
func backupLabel(b *catalog.Backup) string {
	return fmt.Sprintf("%s (%s)", b.ID(), b.StopLSN)
}

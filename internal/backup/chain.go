package backup

import (
	"pgrman/internal/catalog"
	"pgrman/internal/failure"
	"pgrman/internal/logger"
	"pgrman/internal/wal"
)

// Chain is the set of backups applied together to rebuild a data directory.
// Backups are indexes into the newest-first catalog listing.
type Chain struct {
	Base      *catalog.Backup
	BaseIndex int

	// Incrementals are ordered oldest to newest
	Incrementals []*catalog.Backup

	// LastIndex is the catalog index of the newest chain member
	LastIndex int
}

// Members returns the base followed by the incrementals, in apply order
func (c *Chain) Members() []*catalog.Backup {
	members := make([]*catalog.Backup, 0, len(c.Incrementals)+1)
	members = append(members, c.Base)
	return append(members, c.Incrementals...)
}

// Last returns the newest chain member
func (c *Chain) Last() *catalog.Backup {
	if n := len(c.Incrementals); n > 0 {
		return c.Incrementals[n-1]
	}
	return c.Base
}

// TotalBytes sums the bytes written by every member
func (c *Chain) TotalBytes() int64 {
	var total int64
	for _, b := range c.Members() {
		total += b.WriteBytes
	}
	return total
}

// BackupChainResolver resolves the chain of backups needed for restore
type BackupChainResolver interface {
	// FindBase locates the newest usable full backup
	FindBase(backups []*catalog.Backup, timelines []wal.Timeline) (int, bool, error)

	// ResolveChain returns the base and the incrementals taken after it
	ResolveChain(backups []*catalog.Backup, timelines []wal.Timeline) (*Chain, error)
}

// Resolver picks restore chains from a newest-first catalog listing
type Resolver struct {
	log                    logger.Logger
	decompressionSupported bool
}

// NewResolver creates a chain resolver. decompressionSupported reports whether
// compressed backups can be read by this build.
func NewResolver(log logger.Logger, decompressionSupported bool) *Resolver {
	return &Resolver{
		log:                    log,
		decompressionSupported: decompressionSupported,
	}
}

// Satisfies reports whether b lies on the timeline ancestry
func Satisfies(timelines []wal.Timeline, b *catalog.Backup) bool {
	return wal.Satisfies(timelines, b.Timeline, b.StopLSN)
}

// FindBase scans newest to oldest for an OK full backup on the ancestry.
// ok is false when the catalog has none.
func (r *Resolver) FindBase(backups []*catalog.Backup, timelines []wal.Timeline) (int, bool, error) {
	for i, b := range backups {
		if b.Mode < catalog.ModeFull || b.Status != catalog.StatusOK {
			continue
		}

		if b.Compressed && !r.decompressionSupported && (b.HasDatabase() || b.HasArchiveLog()) {
			return 0, false, failure.New(failure.NotSupported,
				"can't restore from compressed backup %s (compression not supported in this installation)", b.ID())
		}

		if Satisfies(timelines, b) {
			return i, true, nil
		}
		r.log.Debug("Full backup is not on the target timeline", "backup", b.ID(), "timeline", b.Timeline)
	}
	return 0, false, nil
}

// ResolveChain picks the base, then every OK incremental taken after it on
// the same timeline that also lies on the ancestry.
func (r *Resolver) ResolveChain(backups []*catalog.Backup, timelines []wal.Timeline) (*Chain, error) {
	baseIndex, ok, err := r.FindBase(backups, timelines)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, failure.New(failure.NoBackup, "no full backup found, can't restore")
	}

	base := backups[baseIndex]
	chain := &Chain{
		Base:      base,
		BaseIndex: baseIndex,
		LastIndex: baseIndex,
	}

	for i := baseIndex - 1; i >= 0; i-- {
		b := backups[i]

		if b.Status != catalog.StatusOK || b.Timeline != base.Timeline {
			continue
		}
		if b.Mode < catalog.ModeIncremental {
			continue
		}
		if !Satisfies(timelines, b) {
			continue
		}

		chain.Incrementals = append(chain.Incrementals, b)
		chain.LastIndex = i
	}

	r.log.Debug("Restore chain resolved", "base", base.ID(), "incrementals", len(chain.Incrementals))
	return chain, nil
}

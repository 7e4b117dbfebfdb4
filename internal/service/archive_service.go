package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/seanmx/xrpldexfeed/internal/domain"
)

// archiveLockTTL bounds how long a crashed run can block its successors.
const archiveLockTTL = 10 * time.Minute

// ArchiveService runs one journal sweep: upload rows older than the cutoff
// to cold storage, then delete them. Deletion happens only after the upload
// succeeded, so a failed run leaves the journal intact and the next run
// re-uploads the same month key.
type ArchiveService struct {
	archiver domain.Archiver
	journal  domain.TradeJournal
	locks    domain.LockManager
	logger   *slog.Logger
}

// NewArchiveService creates an ArchiveService. locks may be nil, in which
// case runs are not serialized across instances.
func NewArchiveService(
	archiver domain.Archiver,
	journal domain.TradeJournal,
	locks domain.LockManager,
	logger *slog.Logger,
) *ArchiveService {
	return &ArchiveService{
		archiver: archiver,
		journal:  journal,
		locks:    locks,
		logger:   logger.With(slog.String("component", "archive_service")),
	}
}

// ArchiveResult summarizes one sweep.
type ArchiveResult struct {
	Cutoff   time.Time
	Archived int64
	Deleted  int64
}

// Run archives and purges journal rows closed strictly before the cutoff.
// When another instance holds the archive lock, it returns ErrLockHeld and
// does nothing.
func (s *ArchiveService) Run(ctx context.Context, before time.Time) (ArchiveResult, error) {
	res := ArchiveResult{Cutoff: before}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "archive", archiveLockTTL)
		if err != nil {
			return res, fmt.Errorf("archive_service: lock: %w", err)
		}
		defer unlock()
	}

	archived, err := s.archiver.ArchiveTrades(ctx, before)
	if err != nil {
		return res, fmt.Errorf("archive_service: archive: %w", err)
	}
	res.Archived = archived

	if archived == 0 {
		s.logger.InfoContext(ctx, "nothing to archive",
			slog.Time("cutoff", before))
		return res, nil
	}

	deleted, err := s.journal.DeleteBefore(ctx, before)
	if err != nil {
		return res, fmt.Errorf("archive_service: purge after upload: %w", err)
	}
	res.Deleted = deleted

	s.logger.InfoContext(ctx, "archive sweep complete",
		slog.Time("cutoff", before),
		slog.Int64("archived", archived),
		slog.Int64("deleted", deleted))

	return res, nil
}

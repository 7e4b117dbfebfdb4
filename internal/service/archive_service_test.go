package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanmx/xrpldexfeed/internal/domain"
)

type fakeSweeper struct {
	archived int64
	err      error
	calls    int
	cutoff   time.Time
}

func (f *fakeSweeper) ArchiveTrades(_ context.Context, before time.Time) (int64, error) {
	f.calls++
	f.cutoff = before
	return f.archived, f.err
}

type sweepJournal struct {
	memJournal

	deleted    int64
	deleteErr  error
	deleteN    int
	deletedCut time.Time
}

func (j *sweepJournal) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	j.deleteN++
	j.deletedCut = before
	return j.deleted, j.deleteErr
}

type fakeLocks struct {
	held     bool
	acquired int
	releases int
}

func (l *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.acquired++
	return func() { l.releases++ }, nil
}

func newArchiveService(sw *fakeSweeper, j *sweepJournal, locks domain.LockManager) *ArchiveService {
	return NewArchiveService(sw, j, locks, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestArchiveServiceSweep(t *testing.T) {
	sweeper := &fakeSweeper{archived: 3}
	journal := &sweepJournal{deleted: 3}
	locks := &fakeLocks{}
	cutoff := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	res, err := newArchiveService(sweeper, journal, locks).Run(context.Background(), cutoff)
	require.NoError(t, err)

	assert.Equal(t, int64(3), res.Archived)
	assert.Equal(t, int64(3), res.Deleted)
	assert.Equal(t, cutoff, res.Cutoff)
	assert.Equal(t, cutoff, sweeper.cutoff)
	assert.Equal(t, cutoff, journal.deletedCut)
	assert.Equal(t, 1, locks.acquired)
	assert.Equal(t, 1, locks.releases)
}

func TestArchiveServiceNothingToDo(t *testing.T) {
	sweeper := &fakeSweeper{archived: 0}
	journal := &sweepJournal{}

	res, err := newArchiveService(sweeper, journal, nil).Run(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Zero(t, res.Archived)
	assert.Zero(t, journal.deleteN, "empty sweep should not touch the journal")
}

func TestArchiveServiceLockHeld(t *testing.T) {
	sweeper := &fakeSweeper{archived: 5}
	journal := &sweepJournal{}

	_, err := newArchiveService(sweeper, journal, &fakeLocks{held: true}).Run(
		context.Background(), time.Now())
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Zero(t, sweeper.calls)
	assert.Zero(t, journal.deleteN)
}

func TestArchiveServiceUploadFailureSkipsPurge(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("bucket unreachable")}
	journal := &sweepJournal{}

	_, err := newArchiveService(sweeper, journal, nil).Run(context.Background(), time.Now())
	require.Error(t, err)
	assert.Zero(t, journal.deleteN, "rows survive a failed upload")
}

func TestArchiveServicePurgeFailureReported(t *testing.T) {
	sweeper := &fakeSweeper{archived: 2}
	journal := &sweepJournal{deleteErr: errors.New("timeout")}

	res, err := newArchiveService(sweeper, journal, nil).Run(context.Background(), time.Now())
	require.Error(t, err)
	assert.Equal(t, int64(2), res.Archived, "upload already happened")
	assert.Zero(t, res.Deleted)
}

func TestArchiveServiceWithoutLocks(t *testing.T) {
	sweeper := &fakeSweeper{archived: 1}
	journal := &sweepJournal{deleted: 1}

	_, err := newArchiveService(sweeper, journal, nil).Run(context.Background(), time.Now())
	require.NoError(t, err)
}

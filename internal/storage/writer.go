package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"dockeragent-core/internal/trajectory"
)

// TrajectoryWriter asynchronously persists finalized trajectory records
// to the reference Postgres sink. The sink is optional: the recorder
// only produces trajectory.Record values over Recorder.Finalize, and
// nothing in internal/trajectory imports this package.
type TrajectoryWriter struct {
	db   *DB
	ch   chan trajectory.Record
	wg   sync.WaitGroup
	done chan struct{}
}

func NewTrajectoryWriter(db *DB, bufferSize int) *TrajectoryWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &TrajectoryWriter{
		db:   db,
		ch:   make(chan trajectory.Record, bufferSize),
		done: make(chan struct{}),
	}
}

func (w *TrajectoryWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// Log enqueues a finalized record for asynchronous persistence. Drops the
// record rather than blocking the caller if the buffer is full.
func (w *TrajectoryWriter) Log(rec trajectory.Record) {
	select {
	case w.ch <- rec:
	default:
		log.Warn().Str("task", rec.Task).Msg("trajectory writer buffer full, dropping record")
	}
}

func (w *TrajectoryWriter) Flush(timeout time.Duration) {
	close(w.done)

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("trajectory writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("trajectory writer flush timed out")
	}
}

func (w *TrajectoryWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case rec := <-w.ch:
			w.writeWithRetry(rec)
		case <-w.done:
			for {
				select {
				case rec := <-w.ch:
					w.writeWithRetry(rec)
				default:
					return
				}
			}
		}
	}
}

func (w *TrajectoryWriter) writeWithRetry(rec trajectory.Record) {
	const maxRetries = 3

	row, err := RowFromRecord(rec)
	if err != nil {
		log.Error().Err(err).Str("task", rec.Task).Msg("failed to build trajectory row, dropping record")
		return
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.db.LogTrajectory(ctx, row)
		cancel()

		if err == nil {
			return
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			log.Warn().
				Err(err).
				Str("trajectory_id", row.ID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("trajectory write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Str("trajectory_id", row.ID).
				Msg("trajectory write failed permanently after retries")
		}
	}
}

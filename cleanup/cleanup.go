// Package cleanup periodically reconciles blind-date state that no user action
// will fix: sessions past their timer, sessions nobody writes in any more and
// forgotten queue entries.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campusconnect/metrics"
	"campusconnect/models"
	"campusconnect/notify"
	"campusconnect/store"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	DefaultSchedule = "@every 60s"
	AbandonedAfter  = 2 * time.Minute
	QueueStaleAfter = 10 * time.Minute

	runTimeout = 30 * time.Second
)

// Store is the persistence the sweeper needs.
type Store interface {
	store.SessionStore
	store.QueueStore
}

// Result counts what one run changed.
type Result struct {
	Expired      int64
	Abandoned    int64
	QueueRemoved int64
}

type Sweeper struct {
	store    Store
	notifier notify.Notifier
	now      func() time.Time
	cron     *cron.Cron
}

func New(s Store, n notify.Notifier) *Sweeper {
	return &Sweeper{store: s, notifier: n, now: time.Now}
}

func (w *Sweeper) WithClock(now func() time.Time) *Sweeper {
	w.now = now
	return w
}

// RunOnce performs one sweep. Every transition is conditional on the state it
// expects, so a run racing lazy expiry or another run changes nothing twice.
// A failing step does not stop the following ones.
func (w *Sweeper) RunOnce(ctx context.Context) (*Result, error) {
	start := time.Now()
	now := w.now()
	res := &Result{}
	var errs []error

	expired, err := w.store.EndExpiredSessions(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("end expired sessions: %w", err))
	}
	res.Expired = expired

	abandoned, err := w.endAbandoned(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	res.Abandoned = abandoned

	removed, err := w.store.DeleteStaleQueueEntries(ctx, now.Add(-QueueStaleAfter))
	if err != nil {
		errs = append(errs, fmt.Errorf("delete stale queue entries: %w", err))
	}
	res.QueueRemoved = removed

	metrics.RecordSessionTransition("expired", int(res.Expired))
	metrics.RecordSessionTransition("abandoned", int(res.Abandoned))
	metrics.RecordSweep(time.Since(start), res.QueueRemoved, len(errs) == 0)

	if res.Expired+res.Abandoned+res.QueueRemoved > 0 {
		logrus.WithFields(logrus.Fields{
			"expired":      res.Expired,
			"abandoned":    res.Abandoned,
			"queueRemoved": res.QueueRemoved,
		}).Info("[Cleanup] sweep finished")
	}
	return res, errors.Join(errs...)
}

func (w *Sweeper) endAbandoned(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-AbandonedAfter)
	stale, err := w.store.ListStaleSessions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale sessions: %w", err)
	}

	var n int64
	for _, sess := range stale {
		ended, err := w.store.EndStaleSession(ctx, sess.ID, cutoff, now)
		if errors.Is(err, store.ErrNoMatch) {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("end stale session %s: %w", sess.ID.Hex(), err)
		}
		n++
		logrus.WithField("sessionId", ended.ID.Hex()).Debug("[Cleanup] ended abandoned session")
		w.notifyAbandoned(ctx, ended)
	}
	return n, nil
}

func (w *Sweeper) notifyAbandoned(ctx context.Context, sess *models.BlindSession) {
	data := map[string]string{"type": "blind_ended", "sessionId": sess.ID.Hex()}
	for _, party := range []primitive.ObjectID{sess.User1, sess.User2} {
		w.notifier.Publish(party, "blind_ended", map[string]interface{}{
			"sessionId": sess.ID.Hex(),
			"reason":    models.EndAbandoned,
		})
		w.notifier.Notify(ctx, party, notify.Message{
			Title: "Session Ended",
			Body:  "Your blind date session ended due to inactivity.",
			Data:  data,
			Type:  models.NotifyBlind,
		})
	}
}

// Start schedules RunOnce on spec (a robfig/cron spec such as "@every 60s")
// and runs one sweep immediately. Overlapping runs are skipped.
func (w *Sweeper) Start(spec string) error {
	if w.cron != nil {
		return errors.New("cleanup: sweeper already started")
	}
	if spec == "" {
		spec = DefaultSchedule
	}

	logger := cron.PrintfLogger(logrus.StandardLogger())
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(spec, w.tick); err != nil {
		return fmt.Errorf("schedule sweeper %q: %w", spec, err)
	}
	w.cron = c

	go w.tick()
	c.Start()
	logrus.WithField("schedule", spec).Info("[Cleanup] sweeper started")
	return nil
}

func (w *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	if _, err := w.RunOnce(ctx); err != nil {
		logrus.WithError(err).Error("[Cleanup] sweep failed")
	}
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to end.
func (w *Sweeper) Stop(ctx context.Context) {
	if w.cron == nil {
		return
	}
	done := w.cron.Stop()
	select {
	case <-done.Done():
		logrus.Info("[Cleanup] sweeper stopped")
	case <-ctx.Done():
		logrus.Warn("[Cleanup] sweeper stop timed out")
	}
}

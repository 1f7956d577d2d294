// Package workers holds the background jobs started by the server.
package workers

import (
	"RetinaTrack/cache"
	"RetinaTrack/models"
	"RetinaTrack/services"
	"RetinaTrack/utils"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Provenance is the part of the provenance service the reconciler drives.
type Provenance interface {
	ReconcileBackReferences(ctx context.Context, limit int) (services.ReconcileReport, error)
	DueFollowUps(ctx context.Context, auth models.AuthContext, until time.Time) ([]models.FollowUp, error)
}

// ReconcilerConfig controls one reconciler.
type ReconcilerConfig struct {
	Interval     time.Duration
	BatchSize    int
	PassTimeout  time.Duration
	ReminderTTL  time.Duration
	FollowUpDays int
}

// DefaultReconcilerConfig runs a pass every five minutes and reminds each
// author at most once a day per annotation.
var DefaultReconcilerConfig = ReconcilerConfig{
	Interval:     5 * time.Minute,
	BatchSize:    500,
	PassTimeout:  2 * time.Minute,
	ReminderTTL:  24 * time.Hour,
	FollowUpDays: 1,
}

// systemAuth is the identity the reconciler acts under.
var systemAuth = models.AuthContext{UID: "system", Role: models.RoleAdmin, DisplayName: "Reconciliador"}

// Reconciler periodically repairs missing back-references and emails
// authors about follow-ups that are due.
type Reconciler struct {
	provenance Provenance
	mailer     utils.Mailer
	cache      cache.Cache
	cfg        ReconcilerConfig
	log        logrus.FieldLogger
	now        func() time.Time

	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewReconciler(provenance Provenance, mailer utils.Mailer, c cache.Cache, cfg ReconcilerConfig, log logrus.FieldLogger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReconcilerConfig.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultReconcilerConfig.BatchSize
	}
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = DefaultReconcilerConfig.PassTimeout
	}
	if cfg.ReminderTTL <= 0 {
		cfg.ReminderTTL = DefaultReconcilerConfig.ReminderTTL
	}
	return &Reconciler{
		provenance: provenance,
		mailer:     mailer,
		cache:      c,
		cfg:        cfg,
		log:        log.WithField("worker", "reconciler"),
		now:        time.Now,
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs a first pass immediately and then one per interval until ctx
// ends or Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)

	go func() {
		defer close(r.done)
		defer ticker.Stop()

		r.RunOnce(ctx)
		for {
			select {
			case <-ticker.C:
				r.RunOnce(ctx)
			case <-r.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	r.log.WithField("interval", r.cfg.Interval.String()).Info("reconciler started")
}

// Stop ends the loop and waits for a pass in progress.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
	<-r.done
	r.log.Info("reconciler stopped")
}

// RunOnce performs one repair and reminder pass.
func (r *Reconciler) RunOnce(ctx context.Context) services.ReconcileReport {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.PassTimeout)
	defer cancel()

	report, err := r.provenance.ReconcileBackReferences(ctx, r.cfg.BatchSize)
	if err != nil {
		r.log.WithError(err).Error("back-reference reconciliation failed")
	}

	sent, pending, err := r.remind(ctx)
	if err != nil {
		r.log.WithError(err).Error("follow-up reminders failed")
	}
	report.FollowUpsPending = pending

	entry := r.log.WithFields(logrus.Fields{
		"orphans":        report.OrphansFound,
		"repaired":       report.Repaired,
		"unrepairable":   report.Unrepairable,
		"flags_repaired": report.FlagsRepaired,
		"follow_ups":     pending,
		"reminders_sent": sent,
	})
	if report.OrphansFound > 0 || report.FlagsRepaired > 0 {
		entry.Warn("reconciliation pass repaired records")
	} else {
		entry.Debug("reconciliation pass finished")
	}
	return report
}

// remind mails each author the due follow-ups not yet reminded within
// ReminderTTL.
func (r *Reconciler) remind(ctx context.Context) (sent, pending int, err error) {
	until := r.now().UTC().AddDate(0, 0, r.cfg.FollowUpDays)
	followUps, err := r.provenance.DueFollowUps(ctx, systemAuth, until)
	if err != nil {
		return 0, 0, err
	}
	pending = len(followUps)

	byAuthor := make(map[string][]models.FollowUp)
	var order []string
	for _, f := range followUps {
		if f.Author.Email == "" {
			continue
		}
		key := reminderKey(f.AnnotationID, f.NextReviewDate)
		if seen, _ := r.cache.Get(ctx, key); seen != "" {
			continue
		}
		if _, ok := byAuthor[f.Author.Email]; !ok {
			order = append(order, f.Author.Email)
		}
		byAuthor[f.Author.Email] = append(byAuthor[f.Author.Email], f)
	}

	for _, email := range order {
		batch := byAuthor[email]
		if err := r.mailer.SendFollowUpReminder(email, batch); err != nil {
			r.log.WithError(err).WithField("to", email).Warn("failed to send follow-up reminder")
			continue
		}
		for _, f := range batch {
			if err := r.cache.Set(ctx, reminderKey(f.AnnotationID, f.NextReviewDate), "1", r.cfg.ReminderTTL); err != nil {
				r.log.WithError(err).Warn("failed to mark follow-up as reminded")
			}
		}
		sent++
	}
	return sent, pending, nil
}

func reminderKey(annotationID string, review time.Time) string {
	return fmt.Sprintf("followup_reminded:%s:%s", annotationID, review.Format("2006-01-02"))
}

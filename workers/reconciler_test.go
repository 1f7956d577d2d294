package workers

import (
	"RetinaTrack/cache"
	"RetinaTrack/models"
	"RetinaTrack/services"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvenance struct {
	mu        sync.Mutex
	passes    int
	report    services.ReconcileReport
	reconErr  error
	followUps []models.FollowUp
	auths     []models.AuthContext
}

func (f *fakeProvenance) ReconcileBackReferences(ctx context.Context, limit int) (services.ReconcileReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passes++
	return f.report, f.reconErr
}

func (f *fakeProvenance) DueFollowUps(ctx context.Context, auth models.AuthContext, until time.Time) ([]models.FollowUp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auths = append(f.auths, auth)
	return f.followUps, nil
}

func (f *fakeProvenance) Passes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.passes
}

type recordingMailer struct {
	mu        sync.Mutex
	reminders map[string][]models.FollowUp
	failFor   string
}

func (m *recordingMailer) SendResetCode(email, code string) error { return nil }

func (m *recordingMailer) SendFollowUpReminder(email string, followUps []models.FollowUp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if email == m.failFor {
		return errors.New("smtp down")
	}
	if m.reminders == nil {
		m.reminders = map[string][]models.FollowUp{}
	}
	m.reminders[email] = append(m.reminders[email], followUps...)
	return nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestReconciler(t *testing.T, p Provenance, m *recordingMailer) *Reconciler {
	t.Helper()
	c, err := cache.NewMemoryCache(64)
	require.NoError(t, err)
	return NewReconciler(p, m, c, ReconcilerConfig{Interval: 10 * time.Millisecond}, quietLogger())
}

func followUp(id, email string, review time.Time) models.FollowUp {
	return models.FollowUp{
		AnnotationID:   id,
		PatientName:    "Paciente " + id,
		Severity:       models.SeveritySevero,
		NextReviewDate: review,
		Author:         models.Author{ID: "u-" + email, Email: email},
	}
}

func TestRunOnceReportsRepairsAndRemindsOncePerAnnotation(t *testing.T) {
	review := time.Now().UTC()
	prov := &fakeProvenance{
		report: services.ReconcileReport{OrphansFound: 2, Repaired: 2},
		followUps: []models.FollowUp{
			followUp("a1", "ruiz@clinic.test", review),
			followUp("a2", "ruiz@clinic.test", review),
			followUp("a3", "vera@clinic.test", review),
			followUp("a4", "", review),
		},
	}
	mailer := &recordingMailer{}
	r := newTestReconciler(t, prov, mailer)

	report := r.RunOnce(context.Background())
	assert.Equal(t, 2, report.Repaired)
	assert.Equal(t, 4, report.FollowUpsPending)
	assert.Len(t, mailer.reminders["ruiz@clinic.test"], 2)
	assert.Len(t, mailer.reminders["vera@clinic.test"], 1)
	require.Len(t, prov.auths, 1)
	assert.True(t, prov.auths[0].IsAdmin())

	r.RunOnce(context.Background())
	assert.Len(t, mailer.reminders["ruiz@clinic.test"], 2, "already reminded follow-ups are not resent")
}

func TestRunOnceRetriesReminderAfterMailFailure(t *testing.T) {
	review := time.Now().UTC()
	prov := &fakeProvenance{followUps: []models.FollowUp{followUp("a1", "ruiz@clinic.test", review)}}
	mailer := &recordingMailer{failFor: "ruiz@clinic.test"}
	r := newTestReconciler(t, prov, mailer)

	r.RunOnce(context.Background())
	assert.Empty(t, mailer.reminders)

	mailer.failFor = ""
	r.RunOnce(context.Background())
	assert.Len(t, mailer.reminders["ruiz@clinic.test"], 1)
}

func TestRunOnceContinuesWhenRepairFails(t *testing.T) {
	prov := &fakeProvenance{
		reconErr:  errors.New("db unavailable"),
		followUps: []models.FollowUp{followUp("a1", "ruiz@clinic.test", time.Now())},
	}
	mailer := &recordingMailer{}
	r := newTestReconciler(t, prov, mailer)

	report := r.RunOnce(context.Background())
	assert.Equal(t, 1, report.FollowUpsPending)
	assert.Len(t, mailer.reminders["ruiz@clinic.test"], 1)
}

func TestStartAndStop(t *testing.T) {
	prov := &fakeProvenance{}
	r := newTestReconciler(t, prov, &recordingMailer{})

	r.Start(context.Background())
	assert.Eventually(t, func() bool { return prov.Passes() >= 2 }, time.Second, 5*time.Millisecond)
	r.Stop()

	passes := prov.Passes()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, passes, prov.Passes())
}

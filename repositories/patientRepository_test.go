package repositories

import (
	"RetinaTrack/cache"
	"RetinaTrack/database"
	"RetinaTrack/models"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// interleavingCache runs beforeListWrite once, right before the first
// patient list is stored, to place a write between a List's query and its
// cache fill.
type interleavingCache struct {
	cache.Cache
	beforeListWrite func()
}

func (c *interleavingCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if strings.HasPrefix(key, "patients_cache:") && c.beforeListWrite != nil {
		hook := c.beforeListWrite
		c.beforeListWrite = nil
		hook()
	}
	return c.Cache.Set(ctx, key, value, expiration)
}

func newPatientRepo(t *testing.T) (*PatientRepository, *interleavingCache) {
	t.Helper()
	db, err := database.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	mem, err := cache.NewMemoryCache(0)
	require.NoError(t, err)
	log := logrus.New()
	log.SetOutput(io.Discard)

	c := &interleavingCache{Cache: mem}
	return NewPatientRepository(db, c, log), c
}

func newPatient(name, nationalID, doctorID string) *models.Patient {
	return &models.Patient{Name: name, Gender: "Otro", NationalID: nationalID, AssignedDoctorID: &doctorID}
}

func TestPatientList_CachedAndInvalidated(t *testing.T) {
	repo, _ := newPatientRepo(t)
	ctx := context.Background()
	filter := PatientFilter{DoctorID: "doc-1"}

	require.NoError(t, repo.Create(ctx, newPatient("Ana", "0101", "doc-1")))
	first, err := repo.List(ctx, filter)
	require.NoError(t, err)
	require.Len(t, first, 1)

	cached, err := repo.List(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, cached[0].ID)

	require.NoError(t, repo.Archive(ctx, first[0].ID, time.Now().UTC()))
	after, err := repo.List(ctx, filter)
	require.NoError(t, err)
	assert.Empty(t, after)

	archived, err := repo.List(ctx, PatientFilter{DoctorID: "doc-1", IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, archived, 1)
}

func TestPatientList_StaleFillAfterConcurrentCreateIsNotServed(t *testing.T) {
	repo, c := newPatientRepo(t)
	ctx := context.Background()
	filter := PatientFilter{DoctorID: "doc-1"}

	require.NoError(t, repo.Create(ctx, newPatient("Ana", "0201", "doc-1")))
	c.beforeListWrite = func() {
		require.NoError(t, repo.Create(ctx, newPatient("Bruno", "0202", "doc-1")))
	}

	stale, err := repo.List(ctx, filter)
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	fresh, err := repo.List(ctx, filter)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}

package services

import (
	"RetinaTrack/config"
	"RetinaTrack/models"
	"RetinaTrack/repositories"
	"RetinaTrack/utils"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *capturedMailer) SendResetCode(email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[email] = code
	return nil
}

func (m *capturedMailer) SendFollowUpReminder(email string, followUps []models.FollowUp) error {
	return nil
}

func newUserService(t *testing.T) (UserService, *capturedMailer, *testEnv) {
	t.Helper()
	env := newTestEnv(t, AnnotationPolicy{})
	mailer := &capturedMailer{codes: map[string]string{}}
	svc := NewUserService(env.userRepo, env.cache, utils.NewResetCodes(env.cache, time.Minute), mailer, env.log)
	return svc, mailer, env
}

const strongPassword = "Retina#2024"

func TestCreateUserAndAuthenticate(t *testing.T) {
	svc, _, _ := newUserService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, doctorAna, NewUserInput{DisplayName: "Dr. X", Email: "x@clinica.test", Password: strongPassword})
	assert.ErrorIs(t, err, models.ErrForbidden)

	user, err := svc.CreateUser(ctx, adminAuth, NewUserInput{
		DisplayName: "Dra. Elena Vega", Email: " Elena@Clinica.test ", Password: strongPassword, Specialty: "Retina",
	})
	require.NoError(t, err)
	assert.Equal(t, "elena@clinica.test", user.Email)
	assert.Equal(t, models.RoleMedico, user.RoleName)
	assert.Empty(t, user.Password)

	_, err = svc.CreateUser(ctx, adminAuth, NewUserInput{DisplayName: "Otra", Email: "elena@clinica.test", Password: strongPassword})
	assert.ErrorIs(t, err, models.ErrDuplicate)

	_, err = svc.CreateUser(ctx, adminAuth, NewUserInput{DisplayName: "Débil", Email: "weak@clinica.test", Password: "short"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	logged, err := svc.AuthenticateUser(ctx, "ELENA@clinica.test", strongPassword)
	require.NoError(t, err)
	assert.Equal(t, user.ID, logged.ID)
	assert.Equal(t, models.RoleMedico, logged.RoleName)

	_, err = svc.AuthenticateUser(ctx, "elena@clinica.test", "Wrong#2024")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	_, err = svc.AuthenticateUser(ctx, "nobody@clinica.test", strongPassword)
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestRoleAndActiveChangesAreAdminOnly(t *testing.T) {
	svc, _, _ := newUserService(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, adminAuth, NewUserInput{DisplayName: "Dr. Pablo", Email: "pablo@clinica.test", Password: strongPassword})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.ChangeRole(ctx, doctorAna, user.ID, models.RoleAdmin), models.ErrForbidden)
	require.NoError(t, svc.ChangeRole(ctx, adminAuth, user.ID, models.RoleAdmin))
	reloaded, err := svc.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, reloaded.RoleName)

	assert.ErrorIs(t, svc.ChangeRole(ctx, adminAuth, adminAuth.UID, models.RoleMedico), models.ErrInvalidInput)
	assert.ErrorIs(t, svc.SetActive(ctx, adminAuth, adminAuth.UID, false), models.ErrInvalidInput)

	require.NoError(t, svc.SetActive(ctx, adminAuth, user.ID, false))
	_, err = svc.AuthenticateUser(ctx, "pablo@clinica.test", strongPassword)
	assert.ErrorIs(t, err, models.ErrInactiveUser)

	_, err = svc.GetAllUsers(ctx, doctorAna)
	assert.ErrorIs(t, err, models.ErrForbidden)
	users, err := svc.GetAllUsers(ctx, adminAuth)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestPasswordResetFlow(t *testing.T) {
	svc, mailer, _ := newUserService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, adminAuth, NewUserInput{DisplayName: "Dra. Sofía", Email: "sofia@clinica.test", Password: strongPassword})
	require.NoError(t, err)

	require.NoError(t, svc.SendResetCode(ctx, "unknown@clinica.test"))
	assert.Empty(t, mailer.codes)

	require.NoError(t, svc.SendResetCode(ctx, "sofia@clinica.test"))
	code := mailer.codes["sofia@clinica.test"]
	require.Len(t, code, 6)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	assert.ErrorIs(t, svc.ResetPassword(ctx, "sofia@clinica.test", wrong, "Nueva#Clave1"), utils.ErrInvalidResetCode)

	require.NoError(t, svc.ResetPassword(ctx, "sofia@clinica.test", code, "Nueva#Clave1"))
	_, err = svc.AuthenticateUser(ctx, "sofia@clinica.test", "Nueva#Clave1")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.ResetPassword(ctx, "sofia@clinica.test", code, "Otra#Clave22"), utils.ErrInvalidResetCode)
}

func TestUpdateUserProfile(t *testing.T) {
	svc, _, _ := newUserService(t)
	ctx := context.Background()

	first, err := svc.CreateUser(ctx, adminAuth, NewUserInput{DisplayName: "Dr. Uno", Email: "uno@clinica.test", Password: strongPassword})
	require.NoError(t, err)
	_, err = svc.CreateUser(ctx, adminAuth, NewUserInput{DisplayName: "Dr. Dos", Email: "dos@clinica.test", Password: strongPassword})
	require.NoError(t, err)

	err = svc.UpdateUserProfile(ctx, first.ID, repositories.ProfileUpdate{DisplayName: "Dr. Uno", Email: "dos@clinica.test"})
	assert.ErrorIs(t, err, models.ErrDuplicate)

	require.NoError(t, svc.UpdateUserProfile(ctx, first.ID, repositories.ProfileUpdate{
		DisplayName: "Dr. Uno Renombrado", Email: "uno@clinica.test", Phone: "0999999999",
	}))
	reloaded, err := svc.GetUserByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dr. Uno Renombrado", reloaded.DisplayName)
}

func TestEnsureBootstrapAdmin(t *testing.T) {
	svc, _, _ := newUserService(t)
	ctx := context.Background()
	cfg := config.AuthConfig{BootstrapEmail: "root@clinica.test", BootstrapPassword: strongPassword, BootstrapName: "Administrador"}

	require.NoError(t, svc.EnsureBootstrapAdmin(ctx, cfg))
	require.NoError(t, svc.EnsureBootstrapAdmin(ctx, cfg))

	admin, err := svc.AuthenticateUser(ctx, "root@clinica.test", strongPassword)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, admin.RoleName)
}

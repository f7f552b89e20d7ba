package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratflow/internal/auth"
	"stratflow/internal/models"
	"stratflow/internal/repository"
	"stratflow/internal/service"
)

// settingsRepo keeps system settings in a map; other methods are unused.
type settingsRepo struct {
	repository.Repository
	items map[string]models.SystemSetting
}

func (r *settingsRepo) UpsertSystemSetting(_ context.Context, item *models.SystemSetting) error {
	r.items[item.Key] = *item
	return nil
}

func (r *settingsRepo) GetSystemSettingByKey(_ context.Context, key string) (*models.SystemSetting, error) {
	item, ok := r.items[key]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (r *settingsRepo) ListSystemSettings(_ context.Context, _ repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	out := make([]models.SystemSetting, 0, len(r.items))
	for _, item := range r.items {
		out = append(out, item)
	}
	return out, nil
}

func TestSwitchWritesNeedOperator(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &settingsRepo{items: map[string]models.SystemSetting{}}
	settings := &service.SystemSettingsService{Repo: repo}
	r := gin.New()
	r.Use(auth.Middleware(auth.JWT{}, true))
	(&SystemSettingsHandler{Repo: repo, Settings: settings}).Register(r)

	body := map[string]any{"enabled": false}
	w, _ := do(t, r, http.MethodPut, "/api/v1/system-settings/switches/auto_finalize", "trader", auth.RoleUser, body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = do(t, r, http.MethodPut, "/api/v1/system-settings/switches/auto_finalize", "ops", auth.RoleSystem, body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, settings.IsEnabled(context.Background(), service.FeatureAutoFinalize, true))

	w, env := do(t, r, http.MethodGet, "/api/v1/system-settings/switches/manual_verdict", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"name":"manual_verdict","key":"feature.manual_verdict","enabled":false}`, string(env.Data))

	w, _ = do(t, r, http.MethodGet, "/api/v1/system-settings/switches", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCredentialSettingsAreSealedAndMasked(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &settingsRepo{items: map[string]models.SystemSetting{}}
	cipher, err := service.NewSettingsCipher("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	r := gin.New()
	r.Use(auth.Middleware(auth.JWT{}, true))
	(&SystemSettingsHandler{Repo: repo, Cipher: cipher}).Register(r)

	w, env := do(t, r, http.MethodPut, "/api/v1/system-settings/custody.api_key", "ops", auth.RoleSystem, map[string]any{"value": "sk-live"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, string(env.Data), "sk-live")

	stored := repo.items["custody.api_key"]
	assert.NotContains(t, string(stored.Value), "sk-live")
	plain, err := cipher.Open("custody.api_key", stored.Value)
	require.NoError(t, err)
	assert.Equal(t, `"sk-live"`, string(plain))

	w, env = do(t, r, http.MethodGet, "/api/v1/system-settings/custody.api_key", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"***"`)
}

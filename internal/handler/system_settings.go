package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"stratflow/internal/auth"
	"stratflow/internal/models"
	"stratflow/internal/repository"
	"stratflow/internal/service"
)

// SystemSettingsHandler lets operators read and flip runtime settings.
// Writes need the arbiter or system role.
type SystemSettingsHandler struct {
	Repo     repository.Repository
	Settings *service.SystemSettingsService
	Cipher   *service.SettingsCipher
	Logger   *zap.Logger
}

// masked hides credential values; they are write-only over the API.
func masked(item models.SystemSetting) models.SystemSetting {
	if service.Sensitive(item.Key) && len(item.Value) > 0 {
		item.Value = datatypes.JSON(service.MaskedSettingValue)
	}
	return item
}

func (h *SystemSettingsHandler) Register(r *gin.Engine) {
	operator := auth.Require(auth.RoleArbiter, auth.RoleSystem)
	g := r.Group("/api/v1/system-settings")
	g.GET("", h.list)
	g.GET("/switches", h.listSwitches)
	g.GET("/switches/:name", h.getSwitch)
	g.PUT("/switches/:name", operator, h.putSwitch)
	g.GET("/:key", h.get)
	g.PUT("/:key", operator, h.put)
}

// @Summary List settings
// @Tags system-settings
// @Param prefix query string false "key prefix"
// @Success 200 {array} models.SystemSetting
// @Router /api/v1/system-settings [get]
func (h *SystemSettingsHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 200)
	offset := intQuery(c, "offset", 0)
	var prefix *string
	if v := strings.TrimSpace(c.Query("prefix")); v != "" {
		prefix = &v
	}
	params := repository.ListSystemSettingsParams{
		Limit:   limit,
		Offset:  offset,
		Prefix:  prefix,
		OrderBy: "key",
		Asc:     boolPtr(true),
	}
	items, err := h.Repo.ListSystemSettings(c.Request.Context(), params)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	total, err := h.Repo.CountSystemSettings(c.Request.Context(), params)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	for i := range items {
		items[i] = masked(items[i])
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get a setting
// @Tags system-settings
// @Param key path string true "setting key"
// @Success 200 {object} models.SystemSetting
// @Router /api/v1/system-settings/{key} [get]
func (h *SystemSettingsHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		Error(c, http.StatusBadRequest, "invalid key", nil)
		return
	}
	item, err := h.Repo.GetSystemSettingByKey(c.Request.Context(), key)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "setting not found", nil)
		return
	}
	Ok(c, masked(*item), nil)
}

type putSystemSettingRequest struct {
	Value       any    `json:"value"`
	Description string `json:"description"`
}

// @Summary Write a setting
// @Tags system-settings
// @Param key path string true "setting key"
// @Param body body putSystemSettingRequest true "value"
// @Success 200 {object} models.SystemSetting
// @Router /api/v1/system-settings/{key} [put]
func (h *SystemSettingsHandler) put(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		Error(c, http.StatusBadRequest, "invalid key", nil)
		return
	}
	var req putSystemSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	raw, err := json.Marshal(req.Value)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid value", nil)
		return
	}
	raw, err = h.Cipher.Seal(key, raw)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: strings.TrimSpace(req.Description),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := h.Repo.UpsertSystemSetting(c.Request.Context(), item); err != nil {
		Fail(c, h.Logger, err)
		return
	}
	next, _ := h.Repo.GetSystemSettingByKey(c.Request.Context(), key)
	if next == nil {
		next = item
	}
	Ok(c, masked(*next), nil)
}

// @Summary Feature switches with their defaults
// @Tags system-settings
// @Success 200 {array} service.Switch
// @Router /api/v1/system-settings/switches [get]
func (h *SystemSettingsHandler) listSwitches(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	items, err := h.Settings.ListSwitches(c.Request.Context())
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, items, nil)
}

func switchKey(name string) (string, bool) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "feature.")
	if name == "" {
		return "", false
	}
	return "feature." + name, true
}

// @Summary Get a feature switch
// @Tags system-settings
// @Param name path string true "switch name without the feature. prefix"
// @Success 200 {object} map[string]any
// @Router /api/v1/system-settings/switches/{name} [get]
func (h *SystemSettingsHandler) getSwitch(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	key, ok := switchKey(c.Param("name"))
	if !ok {
		Error(c, http.StatusBadRequest, "invalid switch name", nil)
		return
	}
	fallback := service.DefaultFeatureSwitches()[key]
	Ok(c, map[string]any{
		"name":    strings.TrimPrefix(key, "feature."),
		"key":     key,
		"enabled": h.Settings.IsEnabled(c.Request.Context(), key, fallback),
	}, nil)
}

type putSwitchRequest struct {
	Enabled bool `json:"enabled"`
}

// @Summary Flip a feature switch
// @Tags system-settings
// @Param name path string true "switch name without the feature. prefix"
// @Param body body putSwitchRequest true "state"
// @Success 200 {object} map[string]any
// @Router /api/v1/system-settings/switches/{name} [put]
func (h *SystemSettingsHandler) putSwitch(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	key, ok := switchKey(c.Param("name"))
	if !ok {
		Error(c, http.StatusBadRequest, "invalid switch name", nil)
		return
	}
	var req putSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if err := h.Settings.SetEnabled(c.Request.Context(), key, req.Enabled); err != nil {
		Fail(c, h.Logger, err)
		return
	}
	if h.Logger != nil {
		h.Logger.Info("feature switch changed",
			zap.String("key", key),
			zap.Bool("enabled", req.Enabled),
			zap.String("by", auth.IdentityFrom(c)),
		)
	}
	Ok(c, map[string]any{
		"name":    strings.TrimPrefix(key, "feature."),
		"key":     key,
		"enabled": req.Enabled,
	}, nil)
}

package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/plexbridge/plexbridge/internal/relay"
	"github.com/plexbridge/plexbridge/internal/repository"
)

// knownSettings maps writable setting keys to their validators. Caps
// take effect on the next admission check without a restart.
var knownSettings = map[string]func(string) error{
	relay.SettingMaxConcurrentStreams: validatePositiveInt,
	relay.SettingMaxPerChannel:        validatePositiveInt,
}

func validatePositiveInt(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fmt.Errorf("value must be a positive integer")
	}
	return nil
}

// SettingsHandler exposes runtime-tunable settings.
type SettingsHandler struct {
	settings repository.SettingRepository
}

// NewSettingsHandler creates a SettingsHandler.
func NewSettingsHandler(settings repository.SettingRepository) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// Register registers the settings routes.
func (h *SettingsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listSettings",
		Method:      http.MethodGet,
		Path:        "/settings",
		Summary:     "List runtime settings",
		Tags:        []string{"Settings"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "putSetting",
		Method:      http.MethodPut,
		Path:        "/settings/{key}",
		Summary:     "Set a runtime setting",
		Tags:        []string{"Settings"},
	}, h.Put)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteSetting",
		Method:        http.MethodDelete,
		Path:          "/settings/{key}",
		Summary:       "Clear a runtime setting, reverting to the configured value",
		Tags:          []string{"Settings"},
		DefaultStatus: http.StatusNoContent,
	}, h.Delete)
}

// SettingResponse is one stored setting.
type SettingResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ListSettingsOutput lists stored settings.
type ListSettingsOutput struct {
	Body struct {
		Settings []SettingResponse `json:"settings"`
	}
}

// List returns all stored settings.
func (h *SettingsHandler) List(ctx context.Context, _ *struct{}) (*ListSettingsOutput, error) {
	settings, err := h.settings.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing settings", err)
	}

	resp := &ListSettingsOutput{}
	resp.Body.Settings = make([]SettingResponse, 0, len(settings))
	for _, s := range settings {
		resp.Body.Settings = append(resp.Body.Settings, SettingResponse{Key: s.Key, Value: s.Value})
	}
	return resp, nil
}

// PutSettingInput writes one setting.
type PutSettingInput struct {
	Key  string `path:"key"`
	Body struct {
		Value string `json:"value" minLength:"1"`
	}
}

// PutSettingOutput confirms the write.
type PutSettingOutput struct {
	Body SettingResponse
}

// Put validates and stores a setting.
func (h *SettingsHandler) Put(ctx context.Context, input *PutSettingInput) (*PutSettingOutput, error) {
	validate, ok := knownSettings[input.Key]
	if !ok {
		return nil, huma.Error404NotFound(fmt.Sprintf("unknown setting %q", input.Key))
	}
	if err := validate(input.Body.Value); err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	if err := h.settings.Set(ctx, input.Key, input.Body.Value); err != nil {
		return nil, huma.Error500InternalServerError("storing setting", err)
	}
	return &PutSettingOutput{Body: SettingResponse{Key: input.Key, Value: input.Body.Value}}, nil
}

// DeleteSettingInput clears one setting.
type DeleteSettingInput struct {
	Key string `path:"key"`
}

// Delete removes a setting override.
func (h *SettingsHandler) Delete(ctx context.Context, input *DeleteSettingInput) (*struct{}, error) {
	if _, ok := knownSettings[input.Key]; !ok {
		return nil, huma.Error404NotFound(fmt.Sprintf("unknown setting %q", input.Key))
	}
	if err := h.settings.Delete(ctx, input.Key); err != nil {
		return nil, huma.Error500InternalServerError("deleting setting", err)
	}
	return nil, nil
}

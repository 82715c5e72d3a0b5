package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"ziton/internal/config"
	"ziton/internal/service"
	service_mocks "ziton/internal/service/mocks"

	"go.uber.org/mock/gomock"
)

func TestConfigHandler_Get(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	settings := config.Settings{
		IncludedDirectories: []string{"/home/u"},
		ExcludedFolders:     []string{"node_modules"},
		LiveUpdates:         true,
		DatabasePath:        "/home/u/.ziton/database.db",
	}
	mockIndex := service_mocks.NewMockIndexService(ctrl)
	mockIndex.EXPECT().Settings().Return(settings)

	w := httptest.NewRecorder()
	NewConfigHandler(mockIndex).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/config", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got config.Settings
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.DatabasePath != settings.DatabasePath || !got.LiveUpdates {
		t.Errorf("got %+v, want %+v", got, settings)
	}
	if len(got.IncludedDirectories) != 1 || got.IncludedDirectories[0] != "/home/u" {
		t.Errorf("IncludedDirectories = %v", got.IncludedDirectories)
	}
}

func TestConfigHandler_Put(t *testing.T) {
	valid := `{"included_directories":["/data"],"excluded_directories":[],"excluded_folders":[".git"],` +
		`"hidden_files":false,"live_updates":true,"index_on_startup":false,"database_path":"/tmp/z.db","min_on_launch":false}`

	tests := []struct {
		name           string
		body           string
		setup          func(m *service_mocks.MockIndexService)
		expectedStatus int
	}{
		{
			name: "saved",
			body: valid,
			setup: func(m *service_mocks.MockIndexService) {
				m.EXPECT().UpdateSettings(gomock.Any(), gomock.Any()).DoAndReturn(
					func(_ context.Context, s config.Settings) error {
						if len(s.IncludedDirectories) != 1 || s.IncludedDirectories[0] != "/data" {
							return fmt.Errorf("unexpected settings %+v", s)
						}
						return nil
					})
				m.EXPECT().Settings().Return(config.Settings{IncludedDirectories: []string{"/data"}})
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "rejected by validation",
			body: valid,
			setup: func(m *service_mocks.MockIndexService) {
				m.EXPECT().UpdateSettings(gomock.Any(), gomock.Any()).
					Return(fmt.Errorf("%w: database_path is empty", service.ErrInvalidInput))
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "settings file not writable",
			body: valid,
			setup: func(m *service_mocks.MockIndexService) {
				m.EXPECT().UpdateSettings(gomock.Any(), gomock.Any()).
					Return(fmt.Errorf("failed to write settings: %w", os.ErrPermission))
			},
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:           "malformed json",
			body:           `{"included_directories":`,
			setup:          func(m *service_mocks.MockIndexService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown field",
			body:           `{"include_dirs":["/data"]}`,
			setup:          func(m *service_mocks.MockIndexService) {},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockIndex := service_mocks.NewMockIndexService(ctrl)
			tt.setup(mockIndex)

			req := httptest.NewRequest(http.MethodPut, "/api/config", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			NewConfigHandler(mockIndex).ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.expectedStatus, w.Body.String())
			}
		})
	}
}

func TestConfigHandler_MethodNotAllowed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	w := httptest.NewRecorder()
	NewConfigHandler(service_mocks.NewMockIndexService(ctrl)).ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/config", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

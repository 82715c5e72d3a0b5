package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ziton/internal/service"
	service_mocks "ziton/internal/service/mocks"

	"go.uber.org/mock/gomock"
)

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name           string
		status         service.Status
		expectedStatus int
		expectedHealth string
		expectedChecks map[string]string
	}{
		{
			name:           "healthy with live updates",
			status:         service.Status{Ready: true, LiveUpdates: true, MonitorState: "watching"},
			expectedStatus: http.StatusOK,
			expectedHealth: "healthy",
			expectedChecks: map[string]string{"catalog": "ok", "monitor": "ok"},
		},
		{
			name:           "healthy without live updates",
			status:         service.Status{Ready: true, MonitorState: "stopped"},
			expectedStatus: http.StatusOK,
			expectedHealth: "healthy",
			expectedChecks: map[string]string{"catalog": "ok", "monitor": "disabled"},
		},
		{
			name:           "degraded while monitor restarts",
			status:         service.Status{Ready: true, LiveUpdates: true, MonitorState: "stopped"},
			expectedStatus: http.StatusOK,
			expectedHealth: "degraded",
			expectedChecks: map[string]string{"catalog": "ok", "monitor": "stopped"},
		},
		{
			name:           "starting",
			status:         service.Status{Rebuilding: true, LiveUpdates: true, MonitorState: "stopped"},
			expectedStatus: http.StatusServiceUnavailable,
			expectedHealth: "starting",
			expectedChecks: map[string]string{"catalog": "recovering", "monitor": "stopped"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockIndex := service_mocks.NewMockIndexService(ctrl)
			mockIndex.EXPECT().Status().Return(tt.status)

			w := httptest.NewRecorder()
			NewHealthHandler(mockIndex).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			if w.Code != tt.expectedStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.expectedStatus)
			}
			var resp HealthResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.expectedHealth {
				t.Errorf("Status = %q, want %q", resp.Status, tt.expectedHealth)
			}
			for k, v := range tt.expectedChecks {
				if resp.Checks[k] != v {
					t.Errorf("Checks[%q] = %q, want %q", k, resp.Checks[k], v)
				}
			}
			if resp.Timestamp == "" {
				t.Error("Timestamp is empty")
			}
			if tt.expectedHealth == "healthy" && len(resp.Issues) != 0 {
				t.Errorf("Issues = %v, want none", resp.Issues)
			}
		})
	}
}

func TestHealthHandler_MethodNotAllowed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	w := httptest.NewRecorder()
	NewHealthHandler(service_mocks.NewMockIndexService(ctrl)).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

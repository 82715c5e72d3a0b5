package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ziton/internal/service"
	service_mocks "ziton/internal/service/mocks"

	"go.uber.org/mock/gomock"
)

func TestRebuildHandler(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		triggerErr     error
		expectTrigger  bool
		expectedStatus int
	}{
		{name: "accepted", method: http.MethodPost, expectTrigger: true, expectedStatus: http.StatusAccepted},
		{name: "already running", method: http.MethodPost, expectTrigger: true, triggerErr: service.ErrRebuildInProgress, expectedStatus: http.StatusConflict},
		{name: "unexpected failure", method: http.MethodPost, expectTrigger: true, triggerErr: errors.New("boom"), expectedStatus: http.StatusInternalServerError},
		{name: "wrong method", method: http.MethodGet, expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockIndex := service_mocks.NewMockIndexService(ctrl)
			if tt.expectTrigger {
				mockIndex.EXPECT().TriggerRebuild().Return(tt.triggerErr)
			}

			w := httptest.NewRecorder()
			NewRebuildHandler(mockIndex).ServeHTTP(w, httptest.NewRequest(tt.method, "/api/rebuild", nil))

			if w.Code != tt.expectedStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.expectedStatus)
			}
			if tt.expectedStatus == http.StatusAccepted {
				var resp RebuildResponse
				if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if resp.Status != "accepted" {
					t.Errorf("Status = %q, want accepted", resp.Status)
				}
			}
		})
	}
}

func TestCountHandler(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		count          int
		countErr       error
		expectCount    bool
		expectedStatus int
	}{
		{name: "count", method: http.MethodGet, count: 42, expectCount: true, expectedStatus: http.StatusOK},
		{name: "not ready", method: http.MethodGet, countErr: service.ErrNotReady, expectCount: true, expectedStatus: http.StatusServiceUnavailable},
		{name: "wrong method", method: http.MethodDelete, expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockIndex := service_mocks.NewMockIndexService(ctrl)
			if tt.expectCount {
				mockIndex.EXPECT().Count(gomock.Any()).Return(tt.count, tt.countErr)
			}

			w := httptest.NewRecorder()
			NewCountHandler(mockIndex).ServeHTTP(w, httptest.NewRequest(tt.method, "/api/count", nil))

			if w.Code != tt.expectedStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.expectedStatus)
			}
			if tt.expectedStatus == http.StatusOK {
				var resp CountResponse
				if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if resp.Count != tt.count {
					t.Errorf("Count = %d, want %d", resp.Count, tt.count)
				}
			}
		})
	}
}

package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"leadlag/internal/strategy"
)

func TestStrategyHandler_Enable(t *testing.T) {
	t.Run("enables strategy", func(t *testing.T) {
		mockStrat := NewMockStrategy()
		handler := NewStrategyHandler(mockStrat)

		body := strings.NewReader(`{"enabled": true}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/strategy/enable", body)
		w := httptest.NewRecorder()

		handler.Enable(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		if !mockStrat.enabled {
			t.Error("expected strategy enabled")
		}
	})

	t.Run("disables strategy", func(t *testing.T) {
		mockStrat := NewMockStrategy()
		mockStrat.enabled = true
		handler := NewStrategyHandler(mockStrat)

		body := strings.NewReader(`{"enabled": false}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/strategy/enable", body)
		w := httptest.NewRecorder()

		handler.Enable(w, req)

		if mockStrat.enabled {
			t.Error("expected strategy disabled")
		}
	})

	t.Run("requires enabled field", func(t *testing.T) {
		handler := NewStrategyHandler(NewMockStrategy())

		body := strings.NewReader(`{}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/strategy/enable", body)
		w := httptest.NewRecorder()

		handler.Enable(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})
}

func TestStrategyHandler_GetStatus(t *testing.T) {
	mockStrat := NewMockStrategy()
	mockStrat.enabled = true
	mockStrat.status = strategy.Status{State: "cooldown", CooldownLeft: 4}
	handler := NewStrategyHandler(mockStrat)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/strategy", nil)
	w := httptest.NewRecorder()

	handler.GetStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response strategy.Status
	if err := apiJSON.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !response.Enabled || response.State != "cooldown" || response.CooldownLeft != 4 {
		t.Errorf("unexpected status: %+v", response)
	}
}

func TestStrategyHandler_UpdateParams(t *testing.T) {
	t.Run("partial update keeps other fields", func(t *testing.T) {
		mockStrat := NewMockStrategy()
		handler := NewStrategyHandler(mockStrat)

		body := strings.NewReader(`{"min_correlation": 0.5}`)
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/strategy/params", body)
		w := httptest.NewRecorder()

		handler.UpdateParams(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
		}
		if mockStrat.params.MinCorrelation != 0.5 {
			t.Errorf("expected min_correlation 0.5, got %f", mockStrat.params.MinCorrelation)
		}
		if mockStrat.params.ImpulseZ != strategy.DefaultParams().ImpulseZ {
			t.Errorf("expected impulse_z unchanged, got %f", mockStrat.params.ImpulseZ)
		}
	})

	t.Run("rejects out-of-range values", func(t *testing.T) {
		mockStrat := NewMockStrategy()
		handler := NewStrategyHandler(mockStrat)

		body := strings.NewReader(`{"min_correlation": 1.5}`)
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/strategy/params", body)
		w := httptest.NewRecorder()

		handler.UpdateParams(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
		if mockStrat.params.MinCorrelation == 1.5 {
			t.Error("invalid params must not be applied")
		}
	})

	t.Run("rejects unknown source", func(t *testing.T) {
		handler := NewStrategyHandler(NewMockStrategy())

		body := strings.NewReader(`{"allowed_sources": ["KRAKEN"]}`)
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/strategy/params", body)
		w := httptest.NewRecorder()

		handler.UpdateParams(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})
}

func TestStrategyHandler_ClearExclusions(t *testing.T) {
	mockStrat := NewMockStrategy()
	handler := NewStrategyHandler(mockStrat)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/strategy/exclusions/clear", nil)
	w := httptest.NewRecorder()

	handler.ClearExclusions(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if mockStrat.cleared != 1 {
		t.Errorf("expected 1 clear call, got %d", mockStrat.cleared)
	}
}

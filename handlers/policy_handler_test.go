package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockPolicyAdmin is a mock implementation of PolicyAdmin
type MockPolicyAdmin struct {
	mock.Mock
}

func (m *MockPolicyAdmin) GetPolicyBundle(ctx context.Context) (map[string]any, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

func (m *MockPolicyAdmin) UpdatePolicy(ctx context.Context, name, module string) error {
	return m.Called(ctx, name, module).Error(0)
}

func (m *MockPolicyAdmin) TestPolicy(ctx context.Context, path string, input any) (map[string]any, error) {
	args := m.Called(ctx, path, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

func TestHandleGetBundle(t *testing.T) {
	logger := zap.NewNop()

	t.Run("returns bundle", func(t *testing.T) {
		admin := new(MockPolicyAdmin)
		admin.On("GetPolicyBundle", mock.Anything).Return(map[string]any{
			"result": []any{map[string]any{"id": "governance"}},
		}, nil)
		handler := NewPolicyHandler(admin, logger)

		w := httptest.NewRecorder()
		handler.HandleGetBundle(w, httptest.NewRequest(http.MethodGet, "/v1/policies", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "governance")
	})

	t.Run("policy service down", func(t *testing.T) {
		admin := new(MockPolicyAdmin)
		admin.On("GetPolicyBundle", mock.Anything).Return(nil, errors.New("dial tcp: connection refused"))
		handler := NewPolicyHandler(admin, logger)

		w := httptest.NewRecorder()
		handler.HandleGetBundle(w, httptest.NewRequest(http.MethodGet, "/v1/policies", nil))

		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestHandleUpdatePolicy(t *testing.T) {
	logger := zap.NewNop()
	module := "package governance\n\ndefault allow := false\n"

	t.Run("uploads module", func(t *testing.T) {
		admin := new(MockPolicyAdmin)
		admin.On("UpdatePolicy", mock.Anything, "governance", module).Return(nil)
		handler := NewPolicyHandler(admin, logger)

		req := withURLParam(httptest.NewRequest(http.MethodPut, "/v1/policies/governance", strings.NewReader(module)), "name", "governance")
		w := httptest.NewRecorder()
		handler.HandleUpdatePolicy(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"updated"`)
		admin.AssertExpectations(t)
	})

	t.Run("empty body", func(t *testing.T) {
		admin := new(MockPolicyAdmin)
		handler := NewPolicyHandler(admin, logger)

		req := withURLParam(httptest.NewRequest(http.MethodPut, "/v1/policies/governance", strings.NewReader("  \n")), "name", "governance")
		w := httptest.NewRecorder()
		handler.HandleUpdatePolicy(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		admin.AssertNotCalled(t, "UpdatePolicy", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rejected module", func(t *testing.T) {
		admin := new(MockPolicyAdmin)
		admin.On("UpdatePolicy", mock.Anything, "governance", module).Return(errors.New("rego_parse_error"))
		handler := NewPolicyHandler(admin, logger)

		req := withURLParam(httptest.NewRequest(http.MethodPut, "/v1/policies/governance", strings.NewReader(module)), "name", "governance")
		w := httptest.NewRecorder()
		handler.HandleUpdatePolicy(w, req)

		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestHandleTestPolicy(t *testing.T) {
	logger := zap.NewNop()

	t.Run("evaluates input", func(t *testing.T) {
		admin := new(MockPolicyAdmin)
		admin.On("TestPolicy", mock.Anything, "governance/allow", mock.MatchedBy(func(input any) bool {
			m, ok := input.(map[string]any)
			return ok && m["model"] == "gpt-4"
		})).Return(map[string]any{"result": true}, nil)
		handler := NewPolicyHandler(admin, logger)

		body, _ := json.Marshal(TestPolicyRequest{Path: "governance/allow", Input: map[string]any{"model": "gpt-4"}})
		w := httptest.NewRecorder()
		handler.HandleTestPolicy(w, httptest.NewRequest(http.MethodPost, "/v1/policies/test", bytes.NewReader(body)))

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, true, response["data"].(map[string]interface{})["result"])
		admin.AssertExpectations(t)
	})

	t.Run("missing path", func(t *testing.T) {
		admin := new(MockPolicyAdmin)
		handler := NewPolicyHandler(admin, logger)

		w := httptest.NewRecorder()
		handler.HandleTestPolicy(w, httptest.NewRequest(http.MethodPost, "/v1/policies/test", strings.NewReader(`{"input":{}}`)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "path")
	})

	t.Run("invalid JSON", func(t *testing.T) {
		handler := NewPolicyHandler(new(MockPolicyAdmin), logger)

		w := httptest.NewRecorder()
		handler.HandleTestPolicy(w, httptest.NewRequest(http.MethodPost, "/v1/policies/test", strings.NewReader("{")))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

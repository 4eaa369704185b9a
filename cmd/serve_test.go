package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTestMux builds the same mux shape as serve.go's handler for testing.
// We replicate the handler setup here because the serve command couples
// handler registration with server lifecycle (initStore, ListenAndServe).
func buildTestMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /projects/{id}/audit", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Provider string `json:"provider"`
		}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
				return
			}
		}

		// In the real handler, the pipeline runs asynchronously.
		// For testing we just verify the response format.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "accepted",
			"project": r.PathValue("id"),
		})
	})

	return mux
}

func TestHealthEndpoint(t *testing.T) {
	mux := buildTestMux()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAuditEndpoint_Accepted(t *testing.T) {
	mux := buildTestMux()

	payload := bytes.NewBufferString(`{"provider":"dashscope"}`)
	req := httptest.NewRequest(http.MethodPost, "/projects/p-1/audit", payload)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, "p-1", body["project"])
}

func TestAuditEndpoint_BadBody(t *testing.T) {
	mux := buildTestMux()

	payload := bytes.NewBufferString(`{not json`)
	req := httptest.NewRequest(http.MethodPost, "/projects/p-1/audit", payload)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAuditEndpoint_EmptyBodyAccepted(t *testing.T) {
	mux := buildTestMux()

	req := httptest.NewRequest(http.MethodPost, "/projects/p-2/audit", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/stargate/pkg/ledger"
	"github.com/platinummonkey/stargate/pkg/verification"
)

type fakeGate struct {
	syncErr    error
	syncAllRes map[string]error
	bindErr    error
	unbindErr  error
	statusRes  verification.StatusReport
	statusErr  error
	claims     []ledger.Binding
	claimsErr  error

	syncedRepos []string
	bindCalls   []string
}

func (f *fakeGate) SyncRepo(ctx context.Context, repo string) error {
	f.syncedRepos = append(f.syncedRepos, repo)
	return f.syncErr
}

func (f *fakeGate) SyncAll(ctx context.Context) map[string]error {
	return f.syncAllRes
}

func (f *fakeGate) BindUser(ctx context.Context, userID, login, repo string) error {
	f.bindCalls = append(f.bindCalls, userID+"/"+login+"/"+repo)
	return f.bindErr
}

func (f *fakeGate) UnbindUser(ctx context.Context, userID, repo string) (string, error) {
	if f.unbindErr != nil {
		return "", f.unbindErr
	}
	return "alice", nil
}

func (f *fakeGate) Status(ctx context.Context, repo string) (verification.StatusReport, error) {
	return f.statusRes, f.statusErr
}

func (f *fakeGate) ClaimsFor(ctx context.Context, userID string) ([]ledger.Binding, error) {
	return f.claims, f.claimsErr
}

func newAPITest(t *testing.T, gate *fakeGate) *mux.Router {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	router := mux.NewRouter()
	NewHandlers(gate, nil, logger).RegisterRoutes(router)
	return router
}

func doRequest(router *mux.Router, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSyncAllEndpoint(t *testing.T) {
	t.Run("all ok", func(t *testing.T) {
		gate := &fakeGate{syncAllRes: map[string]error{"octo/widgets": nil}}
		rec := doRequest(newAPITest(t, gate), "POST", "/api/v1/sync", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Repos  map[string]string `json:"repos"`
			Failed int               `json:"failed"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body.Repos["octo/widgets"])
		assert.Equal(t, 0, body.Failed)
	})

	t.Run("partial failure", func(t *testing.T) {
		gate := &fakeGate{syncAllRes: map[string]error{
			"octo/widgets": nil,
			"octo/broken":  errors.New("sync exploded"),
		}}
		rec := doRequest(newAPITest(t, gate), "POST", "/api/v1/sync", "")

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		var body struct {
			Repos  map[string]string `json:"repos"`
			Failed int               `json:"failed"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "sync exploded", body.Repos["octo/broken"])
		assert.Equal(t, 1, body.Failed)
	})
}

func TestSyncRepoEndpoint(t *testing.T) {
	gate := &fakeGate{}
	rec := doRequest(newAPITest(t, gate), "POST", "/api/v1/sync/octo/widgets", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"octo/widgets"}, gate.syncedRepos)

	gate = &fakeGate{syncErr: errors.New("ledger down")}
	rec = doRequest(newAPITest(t, gate), "POST", "/api/v1/sync/octo/widgets", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	gate := &fakeGate{statusRes: verification.StatusReport{
		Repo:           "octo/widgets",
		StargazerCount: 10,
		BoundCount:     3,
		PendingCount:   1,
	}}
	rec := doRequest(newAPITest(t, gate), "GET", "/api/v1/status/octo/widgets", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var report verification.StatusReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, gate.statusRes, report)
}

func TestUserClaimsEndpoint(t *testing.T) {
	gate := &fakeGate{claims: []ledger.Binding{{Repo: "octo/widgets", GithubLogin: "alice"}}}
	rec := doRequest(newAPITest(t, gate), "GET", "/api/v1/users/u1/claims", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		UserID string          `json:"user_id"`
		Claims []ledger.Binding `json:"claims"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "u1", body.UserID)
	require.Len(t, body.Claims, 1)
	assert.Equal(t, "alice", body.Claims[0].GithubLogin)
}

func TestUserClaimsEmptyList(t *testing.T) {
	rec := doRequest(newAPITest(t, &fakeGate{}), "GET", "/api/v1/users/u1/claims", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"claims":[]`)
}

func TestCreateBinding(t *testing.T) {
	gate := &fakeGate{}
	rec := doRequest(newAPITest(t, gate), "POST", "/api/v1/bindings",
		`{"user_id":"u1","github_login":"alice","repo":"octo/widgets"}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"u1/alice/octo/widgets"}, gate.bindCalls)
}

func TestCreateBindingValidation(t *testing.T) {
	rec := doRequest(newAPITest(t, &fakeGate{}), "POST", "/api/v1/bindings",
		`{"user_id":"u1","repo":"octo/widgets"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "github_login is required")
}

func TestCreateBindingErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{verification.ErrInvalidHandle, http.StatusBadRequest},
		{verification.ErrNotStargazer, http.StatusUnprocessableEntity},
		{verification.ErrAlreadyClaimed, http.StatusConflict},
		{verification.ErrAlreadyBound, http.StatusConflict},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := doRequest(newAPITest(t, &fakeGate{bindErr: tt.err}), "POST", "/api/v1/bindings",
			`{"user_id":"u1","github_login":"alice","repo":"octo/widgets"}`)
		assert.Equal(t, tt.status, rec.Code, "error %v", tt.err)
	}
}

func TestDeleteBinding(t *testing.T) {
	rec := doRequest(newAPITest(t, &fakeGate{}), "DELETE", "/api/v1/bindings/u1/octo/widgets", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"github_login":"alice"`)

	rec = doRequest(newAPITest(t, &fakeGate{unbindErr: verification.ErrNoBinding}),
		"DELETE", "/api/v1/bindings/u1/octo/widgets", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	rec := doRequest(newAPITest(t, &fakeGate{}), "GET", "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/famkit/famsync"
	"github.com/famkit/famsync/internal/domain"
	"github.com/famkit/famsync/internal/store"
)

// --- mocks ---

type mockStorage struct {
	state *famsync.FamilyState

	createdKey string
	updated    map[string]any
	updatedKey string
	deletedKey string
	events     chan famsync.ChangeEvent
}

func (m *mockStorage) Get(ctx context.Context, key string) (*famsync.FamilyState, error) {
	if m.state == nil || m.state.Key != key {
		return nil, famsync.ErrNotFound
	}
	return m.state, nil
}

func (m *mockStorage) Create(ctx context.Context, info famsync.FamilyInfo) (string, error) {
	m.createdKey = "fam-created"
	return m.createdKey, nil
}

func (m *mockStorage) Update(ctx context.Context, key string, patch map[string]any) error {
	if m.state == nil || m.state.Key != key {
		return famsync.ErrNotFound
	}
	m.updatedKey = key
	m.updated = patch
	return nil
}

func (m *mockStorage) Delete(ctx context.Context, key string) error {
	if m.state == nil || m.state.Key != key {
		return famsync.ErrNotFound
	}
	m.deletedKey = key
	return nil
}

func (m *mockStorage) ChangeListener(ctx context.Context) (<-chan famsync.ChangeEvent, error) {
	if m.events == nil {
		m.events = make(chan famsync.ChangeEvent)
	}
	return m.events, nil
}

type actionRecorder struct {
	actions []famsync.Action
}

func (r *actionRecorder) BeforeReduce(a famsync.Action) { r.actions = append(r.actions, a) }
func (r *actionRecorder) AfterReduce(famsync.Action)    {}

func newTestHandler(storage FamilyStorage) (*echo.Echo, *store.Store, *actionRecorder) {
	st := store.New(domain.ReduceFamily)
	rec := &actionRecorder{}
	st.Use(rec)

	h := NewHandler(st, storage)
	e := echo.New()
	h.RegisterRoutes(e)
	return e, st, rec
}

func do(e *echo.Echo, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

// --- tests ---

func TestHandleCreateDispatchesAction(t *testing.T) {
	e, _, rec := newTestHandler(&mockStorage{})

	res := do(e, http.MethodPost, "/api/v1/family", map[string]string{
		"displayName": "Smiths",
		"userId":      "u1",
	})
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}

	if len(rec.actions) != 1 {
		t.Fatalf("expected one action, got %v", rec.actions)
	}
	create, ok := rec.actions[0].(famsync.Create)
	if !ok || create.DisplayName != "Smiths" || create.InitiatingUserID != "u1" {
		t.Fatalf("expected Create action, got %#v", rec.actions[0])
	}
}

func TestHandleCreateRequiresFields(t *testing.T) {
	e, _, rec := newTestHandler(&mockStorage{})

	res := do(e, http.MethodPost, "/api/v1/family", map[string]string{"displayName": "Smiths"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if len(rec.actions) != 0 {
		t.Fatalf("expected no dispatch, got %v", rec.actions)
	}
}

func TestHandleRegisterBindsKey(t *testing.T) {
	e, st, rec := newTestHandler(&mockStorage{})

	res := do(e, http.MethodPost, "/api/v1/family/register", map[string]string{"key": "fam-1"})
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}
	if len(rec.actions) != 1 {
		t.Fatalf("expected one action, got %v", rec.actions)
	}
	if reg, ok := rec.actions[0].(famsync.Register); !ok || reg.Key != "fam-1" {
		t.Fatalf("expected Register(fam-1), got %#v", rec.actions[0])
	}
	if state := st.State(); state == nil || state.Key != "fam-1" {
		t.Fatalf("expected reduced state with fam-1, got %#v", state)
	}
}

func TestHandleUpdateParsesPatch(t *testing.T) {
	e, _, rec := newTestHandler(&mockStorage{})

	res := do(e, http.MethodPatch, "/api/v1/family", map[string]any{
		"displayName": "Smith-Jones",
	})
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	update, ok := rec.actions[0].(famsync.Update)
	if !ok {
		t.Fatalf("expected Update action, got %#v", rec.actions[0])
	}
	if update.Patch[famsync.FieldDisplayName] != famsync.DisplayNameValue("Smith-Jones") {
		t.Fatalf("expected typed patch, got %#v", update.Patch)
	}
}

func TestHandleUpdateRejectsUnknownField(t *testing.T) {
	e, _, rec := newTestHandler(&mockStorage{})

	res := do(e, http.MethodPatch, "/api/v1/family", map[string]any{"nickname": "x"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if len(rec.actions) != 0 {
		t.Fatalf("expected no dispatch, got %v", rec.actions)
	}
}

func TestHandleDeleteDispatches(t *testing.T) {
	e, _, rec := newTestHandler(&mockStorage{})

	res := do(e, http.MethodDelete, "/api/v1/family", nil)
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}
	if _, ok := rec.actions[0].(famsync.Delete); !ok {
		t.Fatalf("expected Delete action, got %#v", rec.actions[0])
	}
}

func TestHandleCurrentState(t *testing.T) {
	e, st, _ := newTestHandler(&mockStorage{})

	res := do(e, http.MethodGet, "/api/v1/family", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without state, got %d", res.Code)
	}

	st.Dispatch(famsync.StateChanged{State: &famsync.FamilyState{
		Key:   "fam-1",
		Value: famsync.FamilyInfo{DisplayName: "Smiths"},
	}})

	res = do(e, http.MethodGet, "/api/v1/family", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var state famsync.FamilyState
	if err := json.Unmarshal(res.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if state.Key != "fam-1" || state.Value.DisplayName != "Smiths" {
		t.Fatalf("unexpected state: %#v", state)
	}
}

func TestHandleGetByKey(t *testing.T) {
	reader := &mockStorage{state: &famsync.FamilyState{Key: "fam-1"}}
	e, _, _ := newTestHandler(reader)

	res := do(e, http.MethodGet, "/api/v1/family/fam-1", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	res = do(e, http.MethodGet, "/api/v1/family/fam-2", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestStorageCreateReturnsKey(t *testing.T) {
	storage := &mockStorage{}
	e, _, _ := newTestHandler(storage)

	res := do(e, http.MethodPost, "/storage/family", map[string]any{"displayName": "Smiths"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var body struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Key != storage.createdKey {
		t.Fatalf("expected key %q, got %q", storage.createdKey, body.Key)
	}
}

func TestStorageCreateRequiresDisplayName(t *testing.T) {
	e, _, _ := newTestHandler(&mockStorage{})

	res := do(e, http.MethodPost, "/storage/family", map[string]any{})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestStorageUpdate(t *testing.T) {
	storage := &mockStorage{state: &famsync.FamilyState{Key: "fam-1"}}
	e, _, _ := newTestHandler(storage)

	res := do(e, http.MethodPatch, "/storage/family/fam-1", map[string]any{"displayName": "Smith-Jones"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if storage.updatedKey != "fam-1" || storage.updated["displayName"] != "Smith-Jones" {
		t.Fatalf("unexpected update call: key=%q patch=%v", storage.updatedKey, storage.updated)
	}

	res = do(e, http.MethodPatch, "/storage/family/fam-2", map[string]any{"displayName": "x"})
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown key, got %d", res.Code)
	}
}

func TestStorageDelete(t *testing.T) {
	storage := &mockStorage{state: &famsync.FamilyState{Key: "fam-1"}}
	e, _, _ := newTestHandler(storage)

	res := do(e, http.MethodDelete, "/storage/family/fam-2", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}

	res = do(e, http.MethodDelete, "/storage/family/fam-1", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if storage.deletedKey != "fam-1" {
		t.Fatalf("expected delete of fam-1, got %q", storage.deletedKey)
	}
}

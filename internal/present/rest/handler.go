package rest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/famkit/famsync"
	"github.com/famkit/famsync/internal/present/rest/presenter"
	"github.com/famkit/famsync/internal/store"
)

// FamilyStorage is the backend surface exposed to remote mediators under
// /storage, and the read path behind keyed lookups.
type FamilyStorage interface {
	Create(ctx context.Context, info famsync.FamilyInfo) (string, error)
	Update(ctx context.Context, key string, patch map[string]any) error
	Delete(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (*famsync.FamilyState, error)
	ChangeListener(ctx context.Context) (<-chan famsync.ChangeEvent, error)
}

type Handler struct {
	store   *store.Store
	storage FamilyStorage
}

func NewHandler(st *store.Store, storage FamilyStorage) *Handler {
	return &Handler{
		store:   st,
		storage: storage,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Action surface: dispatches into this process's container.
	e.POST("/api/v1/family", h.handleCreate)
	e.POST("/api/v1/family/register", h.handleRegister)
	e.PATCH("/api/v1/family", h.handleUpdate)
	e.DELETE("/api/v1/family", h.handleDelete)
	e.GET("/api/v1/family", h.handleCurrent)
	e.GET("/api/v1/family/:key", h.handleGet)
	e.GET("/realtime", h.handleRealtime)

	// Storage surface: synchronous backend operations for remote mediators.
	e.POST("/storage/family", h.handleStorageCreate)
	e.PATCH("/storage/family/:key", h.handleStorageUpdate)
	e.DELETE("/storage/family/:key", h.handleStorageDelete)
	e.GET("/storage/changes", h.handleStorageChanges)
}

type createRequest struct {
	DisplayName string `json:"displayName"`
	UserID      string `json:"userId"`
}

func (h *Handler) handleCreate(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	if req.DisplayName == "" || req.UserID == "" {
		return presenter.BadRequestMessage(c, "displayName and userId are required")
	}

	h.store.Dispatch(famsync.Create{DisplayName: req.DisplayName, InitiatingUserID: req.UserID})
	return presenter.Accepted(c)
}

type registerRequest struct {
	Key string `json:"key"`
}

func (h *Handler) handleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	if req.Key == "" {
		return presenter.BadRequestMessage(c, "key is required")
	}

	h.store.Dispatch(famsync.Register{Key: req.Key})
	return presenter.Accepted(c)
}

func (h *Handler) handleUpdate(c echo.Context) error {
	var raw map[string]any
	if err := c.Bind(&raw); err != nil {
		return presenter.BadRequest(c, err)
	}
	if len(raw) == 0 {
		return presenter.BadRequestMessage(c, "empty patch")
	}

	patch, err := famsync.ParsePatch(raw)
	if err != nil {
		return presenter.BadRequest(c, err)
	}

	h.store.Dispatch(famsync.Update{Patch: patch})
	return presenter.Accepted(c)
}

func (h *Handler) handleDelete(c echo.Context) error {
	h.store.Dispatch(famsync.Delete{})
	return presenter.Accepted(c)
}

func (h *Handler) handleCurrent(c echo.Context) error {
	state := h.store.State()
	if state == nil {
		return presenter.NotFound(c, "no family registered")
	}
	return presenter.OK(c, state)
}

func (h *Handler) handleGet(c echo.Context) error {
	ctx := c.Request().Context()

	state, err := h.storage.Get(ctx, c.Param("key"))
	if err != nil {
		if errors.Is(err, famsync.ErrNotFound) {
			return presenter.NotFound(c, "family not found")
		}
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, state)
}

type storageCreateResponse struct {
	Key string `json:"key"`
}

func (h *Handler) handleStorageCreate(c echo.Context) error {
	ctx := c.Request().Context()

	var info famsync.FamilyInfo
	if err := c.Bind(&info); err != nil {
		return presenter.BadRequest(c, err)
	}
	if info.DisplayName == "" {
		return presenter.BadRequestMessage(c, "displayName is required")
	}

	key, err := h.storage.Create(ctx, info)
	if err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, storageCreateResponse{Key: key})
}

func (h *Handler) handleStorageUpdate(c echo.Context) error {
	ctx := c.Request().Context()

	var patch map[string]any
	if err := c.Bind(&patch); err != nil {
		return presenter.BadRequest(c, err)
	}

	err := h.storage.Update(ctx, c.Param("key"), patch)
	if err != nil {
		if errors.Is(err, famsync.ErrNotFound) {
			return presenter.NotFound(c, "family not found")
		}
		if errors.Is(err, famsync.ErrDecoding) {
			return presenter.BadRequest(c, err)
		}
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleStorageDelete(c echo.Context) error {
	ctx := c.Request().Context()

	err := h.storage.Delete(ctx, c.Param("key"))
	if err != nil {
		if errors.Is(err, famsync.ErrNotFound) {
			return presenter.NotFound(c, "family not found")
		}
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

// ChangeMessage is the wire form of one change-stream element on the
// /storage/changes socket.
type ChangeMessage struct {
	Key   string               `json:"key,omitempty"`
	State *famsync.FamilyState `json:"state,omitempty"`
	Error string               `json:"error,omitempty"`
}

func (h *Handler) handleStorageChanges(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"Failed to upgrade WebSocket",
			slog.String("error", err.Error()),
			slog.String("module", "socket"),
		)
		return err
	}
	defer func() {
		ws.Close()
	}()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	events, err := h.storage.ChangeListener(ctx)
	if err != nil {
		slog.ErrorContext(
			ctx, "Failed to open change listener",
			slog.String("error", err.Error()),
			slog.String("module", "socket"),
		)
		return nil
	}

	quit := make(chan struct{})
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				close(quit)
				return
			}
		}
	}()

	for {
		select {
		case <-quit:
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			msg := ChangeMessage{Key: ev.Key, State: ev.State}
			if ev.Err != nil {
				msg.Error = ev.Err.Error()
			}
			if err := ws.WriteJSON(msg); err != nil {
				return nil
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type realtimeRequest struct {
	Type string `json:"type"`
}

func (h *Handler) handleRealtime(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"Failed to upgrade WebSocket",
			slog.String("error", err.Error()),
			slog.String("module", "socket"),
		)
		return err
	}
	defer func() {
		ws.Close()
	}()

	ctx := c.Request().Context()

	states := h.store.Subscribe()
	defer h.store.Unsubscribe(states)

	quit := make(chan struct{})

	go func() {
		for {
			var req realtimeRequest
			err := ws.ReadJSON(&req)
			if err != nil {

				wsErr, ok := err.(*websocket.CloseError)
				if ok {
					if !(wsErr.Code == websocket.CloseNormalClosure || wsErr.Code == websocket.CloseGoingAway) {
						slog.DebugContext(
							ctx, "WebSocket closed",
							slog.String("error", wsErr.Error()),
							slog.String("module", "socket"),
						)
					}
				} else {
					slog.ErrorContext(
						ctx, "Error reading message",
						slog.String("error", err.Error()),
						slog.String("module", "socket"),
					)
				}

				quit <- struct{}{}
				break
			}

			switch req.Type {
			case "h": // heartbeat
				// do nothing
			default:
				slog.InfoContext(
					ctx, "Unknown request type",
					slog.String("type", req.Type),
					slog.String("module", "socket"),
				)
			}
		}
	}()

	for {
		select {
		case <-quit:
			return nil
		case state := <-states:
			err := ws.WriteJSON(state)
			if err != nil {
				slog.ErrorContext(
					ctx, "Error writing message",
					slog.String("error", err.Error()),
					slog.String("module", "socket"),
				)
				return nil
			}
		}
	}
}

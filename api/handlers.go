package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"boardsync/board"
	"boardsync/domain"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, b Board, auth Authenticator, logger *log.Logger) {
	e.GET("/api/tasks", getTasks(b, auth, logger))
	e.POST("/api/tasks", postTask(b, auth))
	e.PUT("/api/tasks/:id", putTask(b, auth))
	e.DELETE("/api/tasks/:id", deleteTask(b, auth))
	e.POST("/api/tasks/:id/move", moveTask(b, auth))
	e.POST("/api/tasks/reorder", reorderTasks(b, auth))
	e.POST("/api/tasks/:id/lock", acquireLock(b, auth))
	e.DELETE("/api/tasks/:id/lock", releaseLock(b, auth))
	e.GET("/api/users", getUsers(b, auth))
	e.GET("/api/activity", getActivity(b, auth))
	e.GET("/api/stream", streamEvents(b, auth, logger))
	e.POST("/api/events", postEvent(b, auth))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func connectionID(c echo.Context) string {
	return c.Request().Header.Get(connectionHeader)
}

func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeDomainError maps the coordination core's error taxonomy onto HTTP
// status codes. Unrecognized errors are internal.
func writeDomainError(c echo.Context, err error) error {
	var verr *domain.ValidationError
	var conflict *domain.LockConflictError
	var notFound *domain.NotFoundError
	var perm *domain.PermissionError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.As(err, &conflict):
		return c.JSON(http.StatusConflict, errorResponse{Error: conflict.Error(), Holder: conflict.Holder})
	case errors.As(err, &notFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: notFound.Error()})
	case errors.As(err, &perm):
		return c.JSON(http.StatusForbidden, errorResponse{Error: perm.Error()})
	case errors.Is(err, domain.ErrNoCandidates):
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	}
	c.Logger().Error(err)
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func getTasks(b Board, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newBoardRequestMetrics(ctx, logger)
		if spanCtx != nil {
			req := c.Request().WithContext(spanCtx)
			c.SetRequest(req)
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		_, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		fetchStart := time.Now()
		tasks, fetchErr := b.Tasks(ctx)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return err
		}
		metrics.SetTasksReturned(len(tasks))
		locked := 0
		for _, t := range tasks {
			if t.IsLocked {
				locked++
			}
		}
		metrics.SetLocksApplied(locked)

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func postTask(b Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		task, err := b.Create(c.Request().Context(), userID, connectionID(c), board.CreateRequest{
			Title:       req.Title,
			Description: req.Description,
			Status:      req.Status,
			Priority:    req.Priority,
			AssignedTo:  req.AssignedTo,
			Order:       req.Order,
		})
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusCreated, task)
	}
}

func putTask(b Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req updateTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		task, err := b.Update(c.Request().Context(), userID, connectionID(c), c.Param("id"), board.TaskChanges{
			Title:       req.Title,
			Description: req.Description,
			Status:      req.Status,
			Priority:    req.Priority,
			AssignedTo:  req.AssignedTo,
			Order:       req.Order,
		})
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func deleteTask(b Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if err := b.Delete(c.Request().Context(), userID, connectionID(c), c.Param("id")); err != nil {
			return writeDomainError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func moveTask(b Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req moveTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if !req.Status.Valid() {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown status", Field: "status"})
		}
		task, err := b.Move(c.Request().Context(), userID, connectionID(c), c.Param("id"), req.Status, req.Order)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func reorderTasks(b Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req reorderRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if err := b.Reorder(c.Request().Context(), userID, connectionID(c), req.Positions); err != nil {
			return writeDomainError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func acquireLock(b Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		session, err := b.AcquireLock(c.Request().Context(), userID, connectionID(c), c.Param("id"))
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusOK, lockResponse{
			TaskID:     session.TaskID,
			LockedBy:   session.UserID,
			AcquiredAt: session.AcquiredAt.UnixNano(),
		})
	}
}

func releaseLock(b Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		b.ReleaseLock(userID, connectionID(c), c.Param("id"))
		return c.NoContent(http.StatusNoContent)
	}
}

func getUsers(b Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		users, err := b.Users(c.Request().Context())
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return c.JSON(http.StatusOK, usersResponse{Users: users})
	}
}

const defaultActivityLimit = 50

func getActivity(b Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		limit := defaultActivityLimit
		if raw := c.QueryParam("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid limit", Field: "limit"})
			}
			limit = parsed
		}
		records, err := b.ActivityFeed(c.Request().Context(), limit)
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return c.JSON(http.StatusOK, activityResponse{Activity: records})
	}
}

func postEvent(b Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		connID := connectionID(c)
		if connID == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "missing connection id", Field: "connectionId"})
		}
		var req relayEventRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		ev := domain.Event{Type: req.Type, TaskID: req.TaskID}
		if len(req.Data) > 0 {
			data, err := sonic.Marshal(req.Data)
			if err != nil {
				return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
			}
			ev.Data = data
		}
		if err := b.Relay(connID, ev); err != nil {
			return writeDomainError(c, err)
		}
		return c.NoContent(http.StatusAccepted)
	}
}

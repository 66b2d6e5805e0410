package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

const streamHeartbeat = 30 * time.Second

type connectedFrame struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
}

// streamEvents is the server-to-client half of the broadcast channel: a
// long-lived SSE response carrying every board event. The first frame tells
// the client its connection id, which it echoes back on mutations via the
// X-Connection-ID header so it never receives its own changes.
func streamEvents(b Board, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.QueryParam("token")
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		userID, err := auth.UserIDFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		// Check flushability before committing the response status.
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().WriteHeader(http.StatusOK)

		user := resolveUser(c, b, userID)
		connID, ch := b.Connect(user)
		defer b.Disconnect(connID)

		frame, _ := sonic.Marshal(connectedFrame{Type: "connected", ConnectionID: connID})
		if err := writeFrame(c, flusher, frame); err != nil {
			return nil
		}

		logger.WithFields(log.Fields{"user": userID, "connection": connID}).Debug("stream opened")

		ctx := c.Request().Context()
		ticker := time.NewTicker(streamHeartbeat)
		defer ticker.Stop()
		for {
			select {
			case ev, open := <-ch:
				if !open {
					return nil
				}
				data, err := sonic.Marshal(ev)
				if err != nil {
					logger.WithError(err).Warn("event encode failed")
					continue
				}
				if err := writeFrame(c, flusher, data); err != nil {
					return nil
				}
			case <-ticker.C:
				// Comment frame as a heartbeat to keep the connection alive.
				if _, err := c.Response().Write([]byte(":keepalive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func writeFrame(c echo.Context, flusher http.Flusher, data []byte) error {
	if _, err := c.Response().Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := c.Response().Write(data); err != nil {
		return err
	}
	if _, err := c.Response().Write([]byte("\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// resolveUser fills in the display name from the directory when available.
func resolveUser(c echo.Context, b Board, userID string) domain.User {
	if users, err := b.Users(c.Request().Context()); err == nil {
		for _, u := range users {
			if u.ID == userID {
				return u
			}
		}
	}
	return domain.User{ID: userID, Name: userID}
}

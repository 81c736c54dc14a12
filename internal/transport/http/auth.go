package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/firsec/fir/internal/events"
	"github.com/firsec/fir/internal/oauth"
	"github.com/firsec/fir/internal/obs"
	"github.com/firsec/fir/internal/session"
)

// SignIn GET /ms_auth/signin starts the authorization-code flow and
// redirects the browser to the provider consent page.
func (h *Handler) SignIn(c echo.Context) error {
	sess, err := h.ensureSession(c)
	if err != nil {
		return internalError(c, err, "create session")
	}
	authURI, err := h.flow.SignIn(sess)
	if err != nil {
		return internalError(c, err, "start sign-in flow")
	}
	return c.Redirect(http.StatusFound, authURI)
}

// Redirect GET /ms_auth/redirect consumes the provider callback.
func (h *Handler) Redirect(c echo.Context) error {
	sess, ok := h.currentSession(c)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "no sign-in session")
	}

	result, err := h.flow.Callback(c.Request().Context(), sess, c.QueryParams())
	if err != nil {
		obs.RecordLogin("failure")
		if errors.Is(err, oauth.ErrNoPendingFlow) || errors.Is(err, oauth.ErrStateMismatch) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		log.Error().Err(err).Msg("sign-in callback failed")
		return echo.NewHTTPError(http.StatusBadGateway, "sign-in failed")
	}

	if !result.Established {
		obs.RecordLogin("inactive")
		return echo.NewHTTPError(http.StatusForbidden, "account is not active")
	}
	obs.RecordLogin("success")
	h.producer.Publish(c.Request().Context(), events.EventUserLogin,
		uuid.NewString(), result.User.Username, result.Report)

	return c.Redirect(http.StatusFound, "/")
}

// SignOut GET /ms_auth/signout terminates the browser session.
func (h *Handler) SignOut(c echo.Context) error {
	if sess, ok := h.currentSession(c); ok {
		username := ""
		if raw := sess.Get(oauth.KeyUserID); raw != "" {
			username = raw
		}
		h.flow.SignOut(sess)
		h.producer.Publish(c.Request().Context(), events.EventUserSignout,
			uuid.NewString(), username, nil)
	}
	h.clearCookie(c)
	return c.Redirect(http.StatusFound, "/")
}

// Home GET /ms_auth/home returns the signed-in session state the
// presentation layer renders after login.
func (h *Handler) Home(c echo.Context) error {
	sess, ok := h.currentSession(c)
	if !ok || sess.Get(oauth.KeyUserID) == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "not signed in")
	}

	var templates []string
	if raw := sess.Get(oauth.KeyTemplates); raw != "" {
		if err := json.Unmarshal([]byte(raw), &templates); err != nil {
			log.Warn().Err(err).Msg("corrupt template list in session")
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"user_id":            sess.Get(oauth.KeyUserID),
		"can_report":         sess.Get(oauth.KeyCanReport) == "true",
		"business_line":      sess.Get(oauth.KeyBusinessLine),
		"incident_templates": templates,
	})
}

// ensureSession loads the browser session or creates one, setting the
// cookie on the response.
func (h *Handler) ensureSession(c echo.Context) (*session.Session, error) {
	if sess, ok := h.currentSession(c); ok {
		return sess, nil
	}
	sess, err := h.store.New()
	if err != nil {
		return nil, err
	}
	c.SetCookie(&http.Cookie{
		Name:     h.cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess, nil
}

func (h *Handler) currentSession(c echo.Context) (*session.Session, bool) {
	cookie, err := c.Cookie(h.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, false
	}
	return h.store.Get(cookie.Value)
}

func (h *Handler) clearCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

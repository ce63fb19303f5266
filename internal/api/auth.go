// auth.go - Request-scoped authentication collaborator for intake operations
package api

import (
	"crypto/subtle"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
)

// Authenticator decides whether a request carries a valid session.
type Authenticator struct {
	Required bool
	Token    string
}

// SessionFor builds the session object threaded into the intake controller
// for one request.
func (a Authenticator) SessionFor(c echo.Context) *RequestSession {
	if !a.Required {
		return &RequestSession{authenticated: true}
	}

	header := c.Request().Header.Get(echo.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	authenticated := ok && a.Token != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(a.Token)) == 1
	return &RequestSession{authenticated: authenticated}
}

// RequestSession implements intake.Session for a single HTTP request. A login
// request is recorded and turned into a redirect in the error response.
type RequestSession struct {
	mu            sync.Mutex
	authenticated bool
	redirect      string
	logins        int
}

func (s *RequestSession) IsAuthenticated() bool {
	return s.authenticated
}

func (s *RequestSession) RequestLogin(redirectTarget string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redirect = redirectTarget
	s.logins++
}

// Redirect returns the login target requested during the operation.
func (s *RequestSession) Redirect() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redirect
}

// LoginRequests returns how many times the controller asked for a login.
func (s *RequestSession) LoginRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

package portal

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	sessionCookie = "commons_session"
	csrfCookie    = "csrf_token"
)

// widgetData holds data for the identity provider widget template
type widgetData struct {
	CSRFToken     string
	RedirectURI   string
	Email         string
	PasswordError string
	Error         string
}

// handleLoginPage renders the commons login page with the provider button
func (p *Portal) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	data := struct {
		AuthorizeURL string
		RedirectURI  string
	}{
		AuthorizeURL: p.idpURL.String() + "/authorize",
		RedirectURI:  p.baseURL.String() + "/login/callback",
	}
	p.render(w, r, "login", "Login", data)
}

// handleAuthorize renders the identity provider widget
func (p *Portal) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	redirectURI := r.URL.Query().Get("redirect_uri")
	if !p.allowedRedirect(redirectURI) {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	p.renderWidget(w, r, widgetData{RedirectURI: redirectURI})
}

// handleAuthorizeSubmit checks widget credentials and redirects back to the commons with a code
func (p *Portal) handleAuthorizeSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}

	redirectURI := r.FormValue("redirect_uri")
	if !p.allowedRedirect(redirectURI) {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	formToken := r.FormValue("csrf_token")
	cookieToken, err := r.Cookie(csrfCookie)
	if err != nil || formToken == "" || subtle.ConstantTimeCompare([]byte(formToken), []byte(cookieToken.Value)) != 1 {
		p.renderWidget(w, r, widgetData{RedirectURI: redirectURI, Error: "Your session has expired, please try again"})
		return
	}

	email := normalizeEmail(r.FormValue("username"))
	p.attemptsMu.Lock()
	p.attempts[email]++
	p.attemptsMu.Unlock()

	acc, ok := p.accounts[email]
	if !ok {
		// keep timing of unknown emails close to known ones
		_ = bcrypt.CompareHashAndPassword(p.dummyHash, []byte(r.FormValue("password")))
		log.Printf("[DEBUG] login rejected, unknown user")
		p.renderWidget(w, r, widgetData{RedirectURI: redirectURI, Email: r.FormValue("username"),
			PasswordError: "Wrong email or password"})
		return
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(r.FormValue("password"))); err != nil {
		log.Printf("[INFO] login rejected for %s", acc.userID)
		p.renderWidget(w, r, widgetData{RedirectURI: redirectURI, Email: r.FormValue("username"),
			PasswordError: "Wrong email or password"})
		return
	}

	code := uuid.NewString()
	sess := session{Email: email, UserID: acc.userID, Role: acc.role}
	if _, err := p.codes.Get(code, func() (session, error) { return sess, nil }); err != nil {
		http.Error(w, "failed to store authorization code", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: csrfCookie, Value: "", Path: "/", HttpOnly: true,
		Secure: isRequestSecure(r), MaxAge: -1})

	log.Printf("[INFO] %s (%s) authorized", acc.userID, acc.role)
	target, _ := url.Parse(redirectURI) // already validated
	q := target.Query()
	q.Set("code", code)
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusSeeOther)
}

// redeemCode returns the session of the code and invalidates it, only one caller gets it
func (p *Portal) redeemCode(code string) (session, bool) {
	if code == "" {
		return session{}, false
	}
	p.codesMu.Lock()
	defer p.codesMu.Unlock()
	sess, ok := p.codes.Peek(code)
	if !ok {
		return session{}, false
	}
	p.codes.Delete(code)
	return sess, true
}

// handleCallback exchanges the authorization code for a commons session
func (p *Portal) handleCallback(w http.ResponseWriter, r *http.Request) {
	sess, ok := p.redeemCode(r.URL.Query().Get("code"))
	if !ok {
		http.Error(w, "invalid or expired authorization code", http.StatusBadRequest)
		return
	}

	id := uuid.NewString()
	if _, err := p.sessions.Get(id, func() (session, error) { return sess, nil }); err != nil {
		http.Error(w, "failed to make session", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   isRequestSecure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(p.SessionTTL.Seconds()),
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleLogout drops the session and returns to the homepage
func (p *Portal) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		p.sessions.Delete(c.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   isRequestSecure(r),
		MaxAge:   -1,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// currentUser returns the session of the request, if any
func (p *Portal) currentUser(r *http.Request) (session, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return session{}, false
	}
	return p.sessions.Peek(c.Value)
}

// renderWidget renders the widget with a fresh CSRF token
func (p *Portal) renderWidget(w http.ResponseWriter, r *http.Request, data widgetData) {
	data.CSRFToken = generateCSRFToken()
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookie,
		Value:    data.CSRFToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   isRequestSecure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(10 * time.Minute.Seconds()),
	})
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := p.widget.Execute(w, data); err != nil {
		http.Error(w, fmt.Sprintf("failed to execute template: %v", err), http.StatusInternalServerError)
	}
}

// allowedRedirect accepts only redirects back to the commons callback
func (p *Portal) allowedRedirect(redirectURI string) bool {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return false
	}
	return u.Scheme == p.baseURL.Scheme && u.Host == p.baseURL.Host && u.Path == p.baseURL.Path+"/login/callback"
}

// generateCSRFToken creates a random token for CSRF protection
func generateCSRFToken() string {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		log.Printf("[WARN] failed to generate random CSRF token: %v, using UUID fallback", err)
		return uuid.NewString()
	}
	return fmt.Sprintf("%x", b)
}

// isRequestSecure checks TLS status and the forwarded proto header
func isRequestSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

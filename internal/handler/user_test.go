package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/user-registry/internal/auth"
	"github.com/sakif/user-registry/internal/handler"
	"github.com/sakif/user-registry/internal/repository/sqlite"
	"github.com/sakif/user-registry/internal/service"
)

const (
	templateDir   = "../../web/templates"
	browserAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

type testApp struct {
	router http.Handler
	users  *service.UserService
	tokens *auth.TokenService
}

func newTestApp(t *testing.T, maxUpload int64) *testApp {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := service.NewUserService(db, auth.NewPasswordServiceWithCost(4), logger)

	tokens, err := auth.NewTokenService("handler-test-secret-0123", time.Hour)
	require.NoError(t, err)

	pages, err := handler.NewRenderer(templateDir)
	require.NoError(t, err)

	h := handler.NewUserHandler(users, tokens, pages, handler.Options{MaxUploadBytes: maxUpload}, logger)

	r := chi.NewRouter()
	r.Use(auth.OptionalAuth(tokens))
	r.Get("/", h.HandleLoginPage)
	r.Post("/", h.HandleLogin)
	r.Get("/register/", h.HandleRegisterPage)
	r.Post("/user_registeration/", h.HandleRegister)
	r.Get("/user/{user_id}", h.HandleGetUser)
	r.Get("/home/", h.HandleHome)
	r.Post("/logout/", h.HandleLogout)

	return &testApp{router: r, users: users, tokens: tokens}
}

func (a *testApp) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

type registration struct {
	fullName, email, password, phone, picture string
}

func alice() registration {
	return registration{
		fullName: "Alice Smith",
		email:    "alice@example.com",
		password: "correct horse",
		phone:    "5550001",
		picture:  "alice.png",
	}
}

// multipartBody builds the registration form. Empty fields are left out so
// tests can exercise missing values.
func multipartBody(t *testing.T, reg registration, fileSize int) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := []struct{ name, value string }{
		{"full_name", reg.fullName},
		{"email", reg.email},
		{"password", reg.password},
		{"phone", reg.phone},
	}
	for _, f := range fields {
		if f.value != "" {
			require.NoError(t, mw.WriteField(f.name, f.value))
		}
	}

	if reg.picture != "" {
		fw, err := mw.CreateFormFile("profile_picture", reg.picture)
		require.NoError(t, err)
		_, err = fw.Write(bytes.Repeat([]byte{0x89}, fileSize))
		require.NoError(t, err)
	}

	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func registerRequest(t *testing.T, reg registration, accept string) *http.Request {
	t.Helper()
	body, contentType := multipartBody(t, reg, 64)
	req := httptest.NewRequest(http.MethodPost, "/user_registeration/", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", accept)
	return req
}

func loginRequest(username, password, accept string) *http.Request {
	form := url.Values{"username": {username}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", accept)
	return req
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func loginCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.LoginCookieName {
			return c
		}
	}
	return nil
}

func TestRegisterPage(t *testing.T) {
	app := newTestApp(t, 1<<20)

	rec := app.do(httptest.NewRequest(http.MethodGet, "/register/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, `enctype="multipart/form-data"`)
	assert.Contains(t, body, `name="profile_picture"`)
	assert.Contains(t, body, `action="/user_registeration/"`)
}

func TestRegister_BrowserRedirectsHome(t *testing.T) {
	app := newTestApp(t, 1<<20)

	rec := app.do(registerRequest(t, alice(), browserAccept))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, handler.HomePath, rec.Header().Get("Location"))
}

func TestRegister_ThenGetUser(t *testing.T) {
	app := newTestApp(t, 1<<20)

	rec := app.do(registerRequest(t, alice(), "application/json"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeJSON(t, rec)
	assert.Equal(t, "Registration successful", created["message"])
	require.EqualValues(t, 1, created["id"])

	rec = app.do(httptest.NewRequest(http.MethodGet, "/user/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	got := decodeJSON(t, rec)
	assert.EqualValues(t, 1, got["id"])
	assert.Equal(t, "Alice Smith", got["full_name"])
	assert.Equal(t, "alice@example.com", got["email"])
	assert.Equal(t, "5550001", got["phone"])
	assert.Equal(t, "alice.png", got["profile_picture"])
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestRegister_Duplicates(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*registration)
	}{
		{"same email", func(r *registration) { r.phone = "5559999" }},
		{"same phone", func(r *registration) { r.email = "other@example.com" }},
		{"same both", func(r *registration) {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, 1<<20)
			require.Equal(t, http.StatusCreated, app.do(registerRequest(t, alice(), "application/json")).Code)

			dup := alice()
			dup.fullName = "Someone Else"
			tt.mutate(&dup)
			rec := app.do(registerRequest(t, dup, "application/json"))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeJSON(t, rec)
			assert.Equal(t, "duplicate_registration", body["error"])
			assert.Equal(t, "Email or phone already registered", body["message"])
		})
	}
}

func TestRegister_DuplicateIsJSONForBrowsersToo(t *testing.T) {
	app := newTestApp(t, 1<<20)
	require.Equal(t, http.StatusFound, app.do(registerRequest(t, alice(), browserAccept)).Code)

	rec := app.do(registerRequest(t, alice(), browserAccept))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestRegister_MissingFields(t *testing.T) {
	tests := []struct {
		field  string
		mutate func(*registration)
	}{
		{"full_name", func(r *registration) { r.fullName = "" }},
		{"email", func(r *registration) { r.email = "" }},
		{"password", func(r *registration) { r.password = "" }},
		{"phone", func(r *registration) { r.phone = "" }},
		{"profile_picture", func(r *registration) { r.picture = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			app := newTestApp(t, 1<<20)
			reg := alice()
			tt.mutate(&reg)

			rec := app.do(registerRequest(t, reg, "application/json"))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeJSON(t, rec)
			assert.Equal(t, "validation_error", body["error"])
			assert.Equal(t, tt.field, body["field"])
		})
	}
}

func TestRegister_URLEncodedFormHasNoPicture(t *testing.T) {
	app := newTestApp(t, 1<<20)

	form := url.Values{
		"full_name": {"Alice Smith"},
		"email":     {"alice@example.com"},
		"password":  {"correct horse"},
		"phone":     {"5550001"},
	}
	req := httptest.NewRequest(http.MethodPost, "/user_registeration/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := app.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "profile_picture", decodeJSON(t, rec)["field"])
}

func TestRegister_UploadTooLarge(t *testing.T) {
	app := newTestApp(t, 1024)

	body, contentType := multipartBody(t, alice(), 8192)
	req := httptest.NewRequest(http.MethodPost, "/user_registeration/", body)
	req.Header.Set("Content-Type", contentType)
	rec := app.do(req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "request_too_large", decodeJSON(t, rec)["error"])

	// nothing was stored
	rec = app.do(httptest.NewRequest(http.MethodGet, "/user/1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoginPage(t *testing.T) {
	app := newTestApp(t, 1<<20)

	rec := app.do(httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `name="username"`)
	assert.Contains(t, body, `name="password"`)
	assert.NotContains(t, body, "Logged in as")
}

func TestLoginPage_ShowsErrorMessage(t *testing.T) {
	app := newTestApp(t, 1<<20)

	rec := app.do(httptest.NewRequest(http.MethodGet, "/?error_message=Session%20expired", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Session expired")
}

func TestLoginPage_EscapesErrorMessage(t *testing.T) {
	app := newTestApp(t, 1<<20)

	rec := app.do(httptest.NewRequest(http.MethodGet, "/?error_message=%3Cscript%3Ealert(1)%3C/script%3E", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<script>alert(1)</script>")
	assert.Contains(t, rec.Body.String(), "&lt;script&gt;")
}

func TestLoginPage_ShowsLoggedInUser(t *testing.T) {
	app := newTestApp(t, 1<<20)
	token, err := app.tokens.Generate("alice@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: auth.LoginCookieName, Value: token})
	rec := app.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Logged in as")
	assert.Contains(t, rec.Body.String(), "alice@example.com")
}

func TestLoginPage_IgnoresForgedCookie(t *testing.T) {
	app := newTestApp(t, 1<<20)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: auth.LoginCookieName, Value: "alice@example.com"})
	rec := app.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "Logged in as")
}

func TestLogin_Success(t *testing.T) {
	app := newTestApp(t, 1<<20)
	require.Equal(t, http.StatusCreated, app.do(registerRequest(t, alice(), "application/json")).Code)

	rec := app.do(loginRequest("alice@example.com", "correct horse", browserAccept))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, handler.HomePath, rec.Header().Get("Location"))

	cookie := loginCookie(rec)
	require.NotNil(t, cookie, "login cookie not set")
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/", cookie.Path)

	username, err := app.tokens.Validate(cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", username)
}

func TestLogin_SuccessJSON(t *testing.T) {
	app := newTestApp(t, 1<<20)
	require.Equal(t, http.StatusCreated, app.do(registerRequest(t, alice(), "application/json")).Code)

	rec := app.do(loginRequest("alice@example.com", "correct horse", "application/json"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Login successful", decodeJSON(t, rec)["message"])
	assert.NotNil(t, loginCookie(rec))
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "alice@example.com", "wrong horse"},
		{"unknown email", "nobody@example.com", "correct horse"},
		{"empty password", "alice@example.com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, 1<<20)
			require.Equal(t, http.StatusCreated, app.do(registerRequest(t, alice(), "application/json")).Code)

			rec := app.do(loginRequest(tt.username, tt.password, browserAccept))

			assert.Equal(t, http.StatusOK, rec.Code)
			body := rec.Body.String()
			assert.Contains(t, body, "Invalid username or password. Please try again.")
			assert.Contains(t, body, `value="`+tt.username+`"`)
			assert.Nil(t, loginCookie(rec))
		})
	}
}

func TestLogout_JSON(t *testing.T) {
	app := newTestApp(t, 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/logout/", nil)
	req.Header.Set("Accept", "application/json")
	rec := app.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Logged out", decodeJSON(t, rec)["message"])
}

func TestGetUser_NotFound(t *testing.T) {
	app := newTestApp(t, 1<<20)

	rec := app.do(httptest.NewRequest(http.MethodGet, "/user/999", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, "not_found", body["error"])
	assert.Equal(t, "User not found", body["message"])
}

func TestGetUser_InvalidID(t *testing.T) {
	app := newTestApp(t, 1<<20)

	rec := app.do(httptest.NewRequest(http.MethodGet, "/user/abc", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, "validation_error", body["error"])
	assert.Equal(t, "user_id", body["field"])
}

func TestGetUser_WithoutProfile(t *testing.T) {
	app := newTestApp(t, 1<<20)
	user, err := app.users.Register(context.Background(), service.RegisterInput{
		FullName: "Bob Jones",
		Email:    "bob@example.com",
		Password: "hunter22",
		Phone:    "5550002",
	})
	require.NoError(t, err)

	rec := app.do(httptest.NewRequest(http.MethodGet, "/user/1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeJSON(t, rec)
	assert.EqualValues(t, user.ID, got["id"])
	assert.Equal(t, "", got["profile_picture"])
}

func TestHome_ListsOnlyUsersWithProfile(t *testing.T) {
	app := newTestApp(t, 1<<20)
	require.Equal(t, http.StatusCreated, app.do(registerRequest(t, alice(), "application/json")).Code)
	_, err := app.users.Register(context.Background(), service.RegisterInput{
		FullName: "Bob Jones",
		Email:    "bob@example.com",
		Password: "hunter22",
		Phone:    "5550002",
	})
	require.NoError(t, err)

	rec := app.do(httptest.NewRequest(http.MethodGet, "/home/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "alice@example.com")
	assert.Contains(t, body, "alice.png")
	assert.NotContains(t, body, "bob@example.com")
}

func TestHome_Empty(t *testing.T) {
	app := newTestApp(t, 1<<20)

	rec := app.do(httptest.NewRequest(http.MethodGet, "/home/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No users yet.")
}

func TestLogout(t *testing.T) {
	app := newTestApp(t, 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/logout/", nil)
	req.Header.Set("Accept", browserAccept)
	rec := app.do(req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	cookie := loginCookie(rec)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)
}

package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/user-registry/internal/apperror"
	"github.com/sakif/user-registry/internal/auth"
	"github.com/sakif/user-registry/internal/service"
)

// HomePath is where a successful login or registration lands.
const HomePath = "/home/"

// Options are the handler settings that come from configuration.
type Options struct {
	CookieSecure   bool
	MaxUploadBytes int64
}

// UserHandler serves the register, login and home pages and the user JSON
// endpoint.
type UserHandler struct {
	users  *service.UserService
	tokens *auth.TokenService
	pages  *Renderer
	opts   Options
	logger *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(
	users *service.UserService,
	tokens *auth.TokenService,
	pages *Renderer,
	opts Options,
	logger *slog.Logger,
) *UserHandler {
	return &UserHandler{
		users:  users,
		tokens: tokens,
		pages:  pages,
		opts:   opts,
		logger: logger,
	}
}

// HandleRegisterPage renders the registration form.
//
// HTTP: GET /register/
func (h *UserHandler) HandleRegisterPage(w http.ResponseWriter, r *http.Request) {
	loggedInAs, _ := auth.UsernameFromContext(r.Context())
	h.render(w, http.StatusOK, PageRegister, PageData{
		Title:      "Register",
		LoggedInAs: loggedInAs,
	})
}

// HandleRegister creates a user and profile from the multipart registration
// form.
//
// HTTP: POST /user_registeration/
// FORM: full_name, email, password, phone, profile_picture (file)
//
// Only the uploaded file's name is kept. On success a browser is redirected
// to the home page; a JSON client gets 201 with the new id. Duplicate email
// or phone is a 400.
func (h *UserHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)

	err := r.ParseMultipartForm(h.opts.MaxUploadBytes)
	switch {
	case err == nil:
		defer r.MultipartForm.RemoveAll()
	case errors.Is(err, http.ErrNotMultipart):
		// urlencoded forms carry no file; field checks below still apply
		if err := r.ParseForm(); err != nil {
			writeError(w, h.logger, apperror.ValidationFailed("", "invalid form body"))
			return
		}
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:   "request_too_large",
				Message: "upload exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes",
			})
			return
		}
		h.logger.Warn("invalid registration form", slog.String("error", err.Error()))
		writeError(w, h.logger, apperror.ValidationFailed("", "invalid form body"))
		return
	}

	picture := uploadedFileName(r, "profile_picture")
	if picture == "" {
		writeError(w, h.logger, apperror.ValidationFailed("profile_picture", "profile_picture is required"))
		return
	}

	user, err := h.users.Register(r.Context(), service.RegisterInput{
		FullName:       r.PostFormValue("full_name"),
		Email:          r.PostFormValue("email"),
		Password:       r.PostFormValue("password"),
		Phone:          r.PostFormValue("phone"),
		ProfilePicture: picture,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusCreated, MessageResponse{Message: "Registration successful", ID: user.ID})
		return
	}
	http.Redirect(w, r, HomePath, http.StatusFound)
}

// HandleLoginPage renders the login form.
//
// HTTP: GET /?error_message=...
//
// A valid login cookie shows who is logged in; error_message is shown inline.
func (h *UserHandler) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	loggedInAs, _ := auth.UsernameFromContext(r.Context())
	errMsg := r.URL.Query().Get("error_message")
	if errMsg != "" {
		h.logger.Debug("login page error message", slog.String("error_message", errMsg))
	}

	h.render(w, http.StatusOK, PageLogin, PageData{
		Title:        "Login",
		LoggedInAs:   loggedInAs,
		Username:     loggedInAs,
		ErrorMessage: errMsg,
	})
}

// HandleLogin checks credentials.
//
// HTTP: POST /
// FORM: username (the email), password
//
// Success sets the login cookie and redirects to the home page (a JSON
// client gets {"message":"Login successful"}). Failure re-renders the login
// page with 200, the error message and the submitted username.
func (h *UserHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	user, err := h.users.Authenticate(r.Context(), username, password)
	if err != nil {
		var appErr *apperror.AppError
		if errors.Is(err, apperror.ErrInvalidCredentials) && errors.As(err, &appErr) {
			loggedInAs, _ := auth.UsernameFromContext(r.Context())
			h.render(w, http.StatusOK, PageLogin, PageData{
				Title:        "Login",
				LoggedInAs:   loggedInAs,
				Username:     username,
				ErrorMessage: appErr.Message,
			})
			return
		}
		h.logger.Error("login failed", slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if err := auth.SetLoginCookie(w, h.tokens, user.Email, h.opts.CookieSecure); err != nil {
		h.logger.Error("issuing login cookie", slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, MessageResponse{Message: "Login successful"})
		return
	}
	http.Redirect(w, r, HomePath, http.StatusFound)
}

// HandleLogout clears the login cookie and returns to the login page.
//
// HTTP: POST /logout/
func (h *UserHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearLoginCookie(w, h.opts.CookieSecure)

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out"})
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// HandleGetUser returns one user as JSON. The password hash is never part of
// the response.
//
// HTTP: GET /user/{user_id}
func (h *UserHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "user_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, h.logger, apperror.ValidationFailed("user_id", "user_id must be an integer"))
		return
	}

	user, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "User not found"})
			return
		}
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// HandleHome renders the table of users that have a profile.
//
// HTTP: GET /home/
func (h *UserHandler) HandleHome(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListWithProfiles(r.Context())
	if err != nil {
		h.logger.Error("listing users for home page", slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	loggedInAs, _ := auth.UsernameFromContext(r.Context())
	h.render(w, http.StatusOK, PageHome, PageData{
		Title:      "Registered users",
		LoggedInAs: loggedInAs,
		Users:      users,
	})
}

func (h *UserHandler) render(w http.ResponseWriter, status int, page string, data PageData) {
	if err := h.pages.Render(w, status, page, data); err != nil {
		h.logger.Error("failed to render template",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// uploadedFileName returns the base name of the first file sent under field,
// or "" if none was sent. The file itself is not read.
func uploadedFileName(r *http.Request, field string) string {
	if r.MultipartForm == nil {
		return ""
	}
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		return ""
	}
	return files[0].Filename
}

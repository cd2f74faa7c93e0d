package httpapp

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alphabot-ai/slashnews/internal/apperror"
	"github.com/alphabot-ai/slashnews/internal/auth"
	"github.com/alphabot-ai/slashnews/internal/comment"
	"github.com/alphabot-ai/slashnews/internal/config"
	"github.com/alphabot-ai/slashnews/internal/model"
	"github.com/alphabot-ai/slashnews/internal/news"
	"github.com/alphabot-ai/slashnews/internal/rate"
	"github.com/alphabot-ai/slashnews/internal/store"
)

// AuthCookie and AuthHeader carry the session token.
const (
	AuthCookie = "auth"
	AuthHeader = "X-Auth-Token"
)

type Server struct {
	router   chi.Router
	users    *auth.Service
	news     *news.Service
	comments *comment.Service
	limiter  rate.Limiter
	opts     config.Options
}

func NewServer(users *auth.Service, newsSvc *news.Service, comments *comment.Service, limiter rate.Limiter, opts config.Options) *Server {
	s := &Server{
		users:    users,
		news:     newsSvc,
		comments: comments,
		limiter:  limiter,
		opts:     opts,
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.opts.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": "err", "error": "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"status": "err", "error": "method not allowed"})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.identify)

		r.Get("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Post("/create_account", s.handleCreateAccount)
		r.Post("/updateprofile", s.handleUpdateProfile)

		r.Post("/submit", s.handleSubmit)
		r.Post("/delnews", s.handleDeleteNews)
		r.Post("/votenews", s.handleVoteNews)
		r.Get("/getnews/{sort}/{start}/{count}", s.handleGetNews)
		r.Get("/saved/{start}/{count}", s.handleSaved)

		r.Post("/postcomment", s.handlePostComment)
		r.Post("/votecomment", s.handleVoteComment)
		r.Get("/getcomments/{newsID}", s.handleGetComments)
		r.Get("/replies", s.handleReplies)

		r.Get("/user/{username}", s.handleGetUser)
		r.Get("/user/{username}/news/{start}/{count}", s.handleUserNews)
		r.Get("/user/{username}/comments/{start}/{count}", s.handleUserComments)
	})
	return r
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	username, password := r.FormValue("username"), r.FormValue("password")
	if strings.TrimSpace(username) == "" || strings.TrimSpace(password) == "" {
		s.writeError(w, r, apperror.ErrMissingCredentials)
		return
	}
	token, secret, err := s.users.VerifyCredentials(r.Context(), username, password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"auth": token, "apisecret": secret})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if _, err := s.users.RotateAuthToken(r.Context(), user.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	username, password := r.FormValue("username"), r.FormValue("password")
	if strings.TrimSpace(username) == "" || strings.TrimSpace(password) == "" {
		s.writeError(w, r, apperror.ErrMissingCredentials)
		return
	}
	limited, err := s.limiter.Limited(r.Context(), s.opts.CreateAccountDelay, "create_user", clientIP(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if limited {
		s.writeError(w, r, apperror.ErrRateLimited.With("please wait some time before creating a new user"))
		return
	}
	token, err := s.users.CreateAccount(r.Context(), username, password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"auth": token})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	updated, err := s.users.UpdateProfile(r.Context(), user, r.FormValue("about"), r.FormValue("email"), r.FormValue("password"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"user": toUserView(updated, true)})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	newsID, err := formInt64(r, "news_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	title, link, text := r.FormValue("title"), r.FormValue("url"), r.FormValue("text")
	if newsID == -1 {
		newsID, err = s.news.Submit(r.Context(), user, title, link, text)
	} else {
		newsID, err = s.news.Edit(r.Context(), user, newsID, title, link, text)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"news_id": newsID})
}

func (s *Server) handleDeleteNews(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	newsID, err := formInt64(r, "news_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.news.Delete(r.Context(), user, newsID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"news_id": -1})
}

func (s *Server) handleVoteNews(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	newsID, err := formInt64(r, "news_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rank, err := s.news.Vote(r.Context(), newsID, user.ID, model.VoteType(r.FormValue("vote_type")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"news_id": newsID, "rank": rank})
}

func (s *Server) handleGetNews(w http.ResponseWriter, r *http.Request) {
	view, err := news.ParseView(chi.URLParam(r, "sort"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	start, count, err := s.pageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.news.List(r.Context(), view, currentUser(r.Context()), start, count)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"news": toNewsViews(page.News), "count": page.Count})
}

func (s *Server) handleSaved(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	if user == nil {
		s.writeError(w, r, apperror.ErrNotAuthenticated)
		return
	}
	start, count, err := s.pageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.news.Saved(r.Context(), *user, start, count)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"news": toNewsViews(page.News), "count": page.Count})
}

func (s *Server) handlePostComment(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var ids [3]int64
	for i, name := range []string{"news_id", "comment_id", "parent_id"} {
		id, err := formInt64(r, name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ids[i] = id
	}
	if _, ok := r.Form["comment"]; !ok {
		s.writeError(w, r, apperror.ErrMissingParameters.OnField("comment"))
		return
	}
	newsID, commentID, parentID := ids[0], ids[1], ids[2]
	res, err := s.comments.Handle(r.Context(), user, newsID, commentID, parentID, r.FormValue("comment"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{
		"op":         res.Op,
		"comment_id": res.CommentID,
		"parent_id":  parentID,
		"news_id":    res.NewsID,
	})
}

func (s *Server) handleVoteComment(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	compositeID := r.FormValue("comment_id")
	newsID, commentID, err := comment.ParseID(compositeID)
	if err != nil {
		s.writeError(w, r, apperror.ErrMissingParameters.OnField("comment_id"))
		return
	}
	if err := s.comments.Vote(r.Context(), user, newsID, commentID, model.VoteType(r.FormValue("vote_type"))); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"comment_id": compositeID})
}

func (s *Server) handleGetComments(w http.ResponseWriter, r *http.Request) {
	newsID, err := strconv.ParseInt(chi.URLParam(r, "newsID"), 10, 64)
	if err != nil {
		s.writeError(w, r, apperror.ErrNewsNotFound)
		return
	}
	viewer := currentUser(r.Context())
	item, err := s.news.GetByID(r.Context(), viewer, newsID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tree, err := s.comments.Tree(r.Context(), viewer, item.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{
		"news":     toNewsView(item),
		"comments": toCommentViews(tree[model.NoParent]),
	})
}

func (s *Server) handleReplies(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	if user == nil {
		s.writeError(w, r, apperror.ErrNotAuthenticated)
		return
	}
	threads, err := s.comments.Replies(r.Context(), *user, s.opts.SubthreadsInRepliesPage, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"threads": toThreadViews(threads)})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.GetUserByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	counters, err := s.users.UserCounters(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	viewer := currentUser(r.Context())
	self := viewer != nil && viewer.ID == user.ID
	writeOK(w, map[string]any{
		"user":            toUserView(user, self),
		"posted_news":     counters.PostedNews,
		"posted_comments": counters.PostedComments,
	})
}

func (s *Server) handleUserNews(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.GetUserByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	start, count, err := s.pageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.news.Submitted(r.Context(), currentUser(r.Context()), user.ID, start, count)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"news": toNewsViews(page.News), "count": page.Count})
}

func (s *Server) handleUserComments(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.GetUserByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	start, count, err := s.pageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.comments.UserComments(r.Context(), user, start, count)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]commentView, 0, len(page.Comments))
	for i := range page.Comments {
		views = append(views, toCommentView(&page.Comments[i]))
	}
	writeOK(w, map[string]any{"comments": views, "count": page.Count})
}

type ctxKey struct{}

// identify resolves the session token and drips karma to the user at most
// once per increment interval.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(AuthHeader)
		if c, err := r.Cookie(AuthCookie); err == nil && c.Value != "" {
			token = c.Value
		}
		user, err := s.users.Authenticate(r.Context(), token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if user != nil {
			updated, _, err := s.users.IncrementKarma(r.Context(), *user, s.opts.KarmaIncrementAmount, s.opts.KarmaIncrementInterval)
			if err != nil {
				slog.Warn("karma increment failed", "user_id", user.ID, "error", err)
			} else {
				user = &updated
			}
			r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, user))
		}
		next.ServeHTTP(w, r)
	})
}

func currentUser(ctx context.Context) *model.User {
	user, _ := ctx.Value(ctxKey{}).(*model.User)
	return user
}

// requireUser checks that the request is authenticated and carries the
// user's api secret.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (model.User, bool) {
	user := currentUser(r.Context())
	if user == nil {
		s.writeError(w, r, apperror.ErrNotAuthenticated)
		return model.User{}, false
	}
	secret := r.FormValue("apisecret")
	if secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(user.APISecret)) != 1 {
		s.writeError(w, r, apperror.ErrWrongAPISecret)
		return model.User{}, false
	}
	return *user, true
}

func (s *Server) pageParams(r *http.Request) (int, int, error) {
	start, err := strconv.Atoi(chi.URLParam(r, "start"))
	if err != nil {
		return 0, 0, apperror.ErrMissingParameters.OnField("start")
	}
	count, err := strconv.Atoi(chi.URLParam(r, "count"))
	if err != nil || count < 1 {
		return 0, 0, apperror.ErrMissingParameters.OnField("count")
	}
	if count > s.opts.APIMaxNewsCount {
		return 0, 0, apperror.ErrCountTooBig
	}
	if start < 0 {
		start = 0
	}
	return start, count, nil
}

func formInt64(r *http.Request, name string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(r.FormValue(name)), 10, 64)
	if err != nil {
		return 0, apperror.ErrMissingParameters.OnField(name)
	}
	return n, nil
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// statusFor maps a failure to its HTTP status. Store outages are the only
// 5xx besides programming errors.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperror.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperror.ErrNotAuthenticated), errors.Is(err, apperror.ErrNoMatch):
		return http.StatusUnauthorized
	}
	switch apperror.Kind(err) {
	case apperror.ErrValidation:
		return http.StatusBadRequest
	case apperror.ErrUnauthorized:
		return http.StatusForbidden
	case apperror.ErrConflict:
		return http.StatusConflict
	case apperror.ErrNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	payload := map[string]any{"status": "err", "error": err.Error()}
	switch status {
	case http.StatusServiceUnavailable:
		slog.Error("store unavailable", "method", r.Method, "path", r.URL.Path, "error", err)
		payload["error"] = "service temporarily unavailable"
	case http.StatusInternalServerError:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		payload["error"] = "internal error"
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		payload["code"] = appErr.Code
		if appErr.Field != "" {
			payload["field"] = appErr.Field
		}
	}
	writeJSON(w, status, payload)
}

func writeOK(w http.ResponseWriter, fields map[string]any) {
	payload := map[string]any{"status": "ok"}
	for k, v := range fields {
		payload[k] = v
	}
	writeJSON(w, http.StatusOK, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

package httpapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphabot-ai/slashnews/internal/apperror"
	"github.com/alphabot-ai/slashnews/internal/auth"
	"github.com/alphabot-ai/slashnews/internal/client"
	"github.com/alphabot-ai/slashnews/internal/comment"
	"github.com/alphabot-ai/slashnews/internal/config"
	"github.com/alphabot-ai/slashnews/internal/news"
	"github.com/alphabot-ai/slashnews/internal/rate"
	"github.com/alphabot-ai/slashnews/internal/store"
	"github.com/alphabot-ai/slashnews/internal/store/redis/redistest"
)

type testEnv struct {
	server *Server
	clock  *clockwork.FakeClock
	mr     *miniredis.Miniredis
	opts   config.Options
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithOptions(t, config.DefaultOptions())
}

func newTestEnvWithOptions(t *testing.T, opts config.Options) *testEnv {
	t.Helper()
	st, mr := redistest.New(t)
	clock := clockwork.NewFakeClock()
	users, err := auth.NewService(st, clock, opts)
	require.NoError(t, err)
	newsSvc := news.NewService(st, users, clock, opts)
	comments := comment.NewService(st, users, newsSvc, clock, opts)
	return &testEnv{
		server: NewServer(users, newsSvc, comments, rate.NewStoreLimiter(st), opts),
		clock:  clock,
		mr:     mr,
		opts:   opts,
	}
}

type session struct {
	token        string
	secret       string
	ip           string
	forwardedFor string
}

type response struct {
	code int
	body []byte
}

func (r response) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.body, v), string(r.body))
}

func (r response) errCode(t *testing.T) string {
	t.Helper()
	var payload struct {
		Status string `json:"status"`
		Code   string `json:"code"`
	}
	r.decode(t, &payload)
	assert.Equal(t, "err", payload.Status)
	return payload.Code
}

func (e *testEnv) do(t *testing.T, s session, method, path string, form url.Values) response {
	t.Helper()
	var req *http.Request
	if method == http.MethodPost {
		if form == nil {
			form = url.Values{}
		}
		if s.secret != "" {
			form.Set("apisecret", s.secret)
		}
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		if len(form) > 0 {
			path += "?" + form.Encode()
		}
		req = httptest.NewRequest(method, path, nil)
	}
	if s.token != "" {
		req.Header.Set(AuthHeader, s.token)
	}
	if s.ip != "" {
		req.RemoteAddr = s.ip + ":4242"
	}
	if s.forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", s.forwardedFor)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return response{code: rec.Code, body: rec.Body.Bytes()}
}

// signup creates an account from its own address and logs in.
func (e *testEnv) signup(t *testing.T, username string) session {
	t.Helper()
	s := session{ip: "host-" + username}
	resp := e.do(t, s, http.MethodPost, "/api/create_account", url.Values{
		"username": {username},
		"password": {"password-" + username},
	})
	require.Equal(t, http.StatusOK, resp.code, string(resp.body))

	resp = e.do(t, s, http.MethodGet, "/api/login", url.Values{
		"username": {username},
		"password": {"password-" + username},
	})
	require.Equal(t, http.StatusOK, resp.code, string(resp.body))
	var creds struct {
		Auth      string `json:"auth"`
		APISecret string `json:"apisecret"`
	}
	resp.decode(t, &creds)
	s.token, s.secret = creds.Auth, creds.APISecret
	return s
}

func (e *testEnv) submit(t *testing.T, s session, title, link string) int64 {
	t.Helper()
	resp := e.do(t, s, http.MethodPost, "/api/submit", url.Values{
		"news_id": {"-1"},
		"title":   {title},
		"url":     {link},
	})
	require.Equal(t, http.StatusOK, resp.code, string(resp.body))
	var payload struct {
		NewsID int64 `json:"news_id"`
	}
	resp.decode(t, &payload)
	return payload.NewsID
}

func TestAccountLifecycle(t *testing.T) {
	env := newTestEnv(t)
	anon := session{ip: "192.0.2.1"}

	resp := env.do(t, anon, http.MethodPost, "/api/create_account", url.Values{"username": {"alice"}, "password": {"short"}})
	assert.Equal(t, http.StatusBadRequest, resp.code)
	assert.Equal(t, "password_too_short", resp.errCode(t))

	// The failed attempt armed the per-address limit.
	resp = env.do(t, anon, http.MethodPost, "/api/create_account", url.Values{"username": {"alice"}, "password": {"long-enough"}})
	assert.Equal(t, http.StatusTooManyRequests, resp.code)
	assert.Equal(t, "rate_limited", resp.errCode(t))

	alice := env.signup(t, "alice")
	assert.NotEmpty(t, alice.token)
	assert.NotEmpty(t, alice.secret)

	resp = env.do(t, session{ip: "192.0.2.2"}, http.MethodPost, "/api/create_account", url.Values{"username": {"ALICE"}, "password": {"long-enough"}})
	assert.Equal(t, http.StatusConflict, resp.code)
	assert.Equal(t, "username_taken", resp.errCode(t))

	resp = env.do(t, anon, http.MethodGet, "/api/login", url.Values{"username": {"alice"}, "password": {"wrong-password"}})
	assert.Equal(t, http.StatusUnauthorized, resp.code)
	assert.Equal(t, "no_match", resp.errCode(t))

	resp = env.do(t, anon, http.MethodGet, "/api/login", nil)
	assert.Equal(t, http.StatusBadRequest, resp.code)
	assert.Equal(t, "missing_credentials", resp.errCode(t))

	resp = env.do(t, alice, http.MethodPost, "/api/logout", nil)
	require.Equal(t, http.StatusOK, resp.code, string(resp.body))

	// The old token no longer authenticates.
	resp = env.do(t, alice, http.MethodPost, "/api/logout", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.code)
	assert.Equal(t, "not_authenticated", resp.errCode(t))
}

func TestCreateAccountLimitIgnoresForwardedFor(t *testing.T) {
	env := newTestEnv(t)

	var codes []int
	for i, name := range []string{"alice", "bob", "carol"} {
		s := session{ip: "10.0.0.1", forwardedFor: fmt.Sprintf("198.51.100.%d", i+1)}
		resp := env.do(t, s, http.MethodPost, "/api/create_account", url.Values{
			"username": {name},
			"password": {"password-" + name},
		})
		codes = append(codes, resp.code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

func TestCreateAccountLimitBehindTrustedProxy(t *testing.T) {
	opts := config.DefaultOptions()
	opts.TrustProxyHeaders = true
	env := newTestEnvWithOptions(t, opts)

	for i, name := range []string{"alice", "bob"} {
		s := session{ip: "10.0.0.1", forwardedFor: fmt.Sprintf("198.51.100.%d", i+1)}
		resp := env.do(t, s, http.MethodPost, "/api/create_account", url.Values{
			"username": {name},
			"password": {"password-" + name},
		})
		assert.Equal(t, http.StatusOK, resp.code, string(resp.body))
	}

	s := session{ip: "10.0.0.2", forwardedFor: "198.51.100.1"}
	resp := env.do(t, s, http.MethodPost, "/api/create_account", url.Values{
		"username": {"carol"},
		"password": {"password-carol"},
	})
	assert.Equal(t, http.StatusTooManyRequests, resp.code)
}

func TestMutationsRequireAPISecret(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice")

	noSecret := alice
	noSecret.secret = ""
	resp := env.do(t, noSecret, http.MethodPost, "/api/submit", url.Values{"news_id": {"-1"}, "title": {"t"}, "url": {"https://example.com"}})
	assert.Equal(t, http.StatusForbidden, resp.code)
	assert.Equal(t, "wrong_api_secret", resp.errCode(t))

	wrong := alice
	wrong.secret = "deadbeef"
	resp = env.do(t, wrong, http.MethodPost, "/api/submit", url.Values{"news_id": {"-1"}, "title": {"t"}, "url": {"https://example.com"}})
	assert.Equal(t, http.StatusForbidden, resp.code)

	resp = env.do(t, session{}, http.MethodPost, "/api/submit", url.Values{"news_id": {"-1"}, "title": {"t"}, "url": {"https://example.com"}})
	assert.Equal(t, http.StatusUnauthorized, resp.code)
}

func TestSubmitVoteAndList(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice")
	bob := env.signup(t, "bob")

	id := env.submit(t, alice, "Hello Slashnews", "https://example.com/hello")
	assert.Equal(t, int64(1), id)

	resp := env.do(t, alice, http.MethodPost, "/api/submit", url.Values{"news_id": {"-1"}, "title": {"Again"}, "url": {"https://example.com/again"}})
	assert.Equal(t, http.StatusConflict, resp.code)
	assert.Contains(t, string(resp.body), "please wait 900 seconds")

	resp = env.do(t, bob, http.MethodPost, "/api/votenews", url.Values{"news_id": {"1"}, "vote_type": {"sideways"}})
	assert.Equal(t, http.StatusBadRequest, resp.code)
	assert.Equal(t, "invalid_vote_type", resp.errCode(t))

	resp = env.do(t, bob, http.MethodPost, "/api/votenews", url.Values{"news_id": {"1"}, "vote_type": {"up"}})
	require.Equal(t, http.StatusOK, resp.code, string(resp.body))

	resp = env.do(t, bob, http.MethodPost, "/api/votenews", url.Values{"news_id": {"1"}, "vote_type": {"up"}})
	assert.Equal(t, http.StatusConflict, resp.code)
	assert.Equal(t, "duplicate_vote", resp.errCode(t))

	resp = env.do(t, bob, http.MethodPost, "/api/votenews", url.Values{"news_id": {"42"}, "vote_type": {"up"}})
	assert.Equal(t, http.StatusNotFound, resp.code)

	resp = env.do(t, bob, http.MethodGet, "/api/getnews/top/0/10", nil)
	require.Equal(t, http.StatusOK, resp.code, string(resp.body))
	var page struct {
		News  []client.News `json:"news"`
		Count int64         `json:"count"`
	}
	resp.decode(t, &page)
	assert.Equal(t, int64(1), page.Count)
	require.Len(t, page.News, 1)
	assert.Equal(t, "Hello Slashnews", page.News[0].Title)
	assert.Equal(t, "alice", page.News[0].Username)
	assert.Equal(t, "example.com", page.News[0].Domain)
	assert.Equal(t, int64(2), page.News[0].Up)
	assert.Equal(t, "up", page.News[0].Voted)
	assert.NotContains(t, string(resp.body), `"rank"`)

	resp = env.do(t, session{}, http.MethodGet, "/api/getnews/latest/0/10", nil)
	require.Equal(t, http.StatusOK, resp.code)
	var latest struct {
		News []client.News `json:"news"`
	}
	resp.decode(t, &latest)
	require.Len(t, latest.News, 1)
	assert.Empty(t, latest.News[0].Voted)

	resp = env.do(t, bob, http.MethodGet, "/api/saved/0/10", nil)
	require.Equal(t, http.StatusOK, resp.code)
	var saved struct {
		Count int64 `json:"count"`
	}
	resp.decode(t, &saved)
	assert.Equal(t, int64(1), saved.Count)

	resp = env.do(t, session{}, http.MethodGet, "/api/getnews/top/0/33", nil)
	assert.Equal(t, http.StatusBadRequest, resp.code)
	assert.Equal(t, "count_too_big", resp.errCode(t))

	resp = env.do(t, session{}, http.MethodGet, "/api/getnews/best/0/10", nil)
	assert.Equal(t, http.StatusBadRequest, resp.code)
	assert.Equal(t, "unknown_view", resp.errCode(t))
}

func TestEditAndDeleteNews(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice")
	bob := env.signup(t, "bob")
	env.submit(t, alice, "Original", "https://example.com/original")

	resp := env.do(t, alice, http.MethodPost, "/api/submit", url.Values{"news_id": {"1"}, "title": {"Edited"}, "url": {"https://example.com/original"}})
	require.Equal(t, http.StatusOK, resp.code, string(resp.body))

	resp = env.do(t, bob, http.MethodPost, "/api/delnews", url.Values{"news_id": {"1"}})
	assert.Equal(t, http.StatusForbidden, resp.code)
	assert.Equal(t, "not_author", resp.errCode(t))

	resp = env.do(t, alice, http.MethodPost, "/api/delnews", url.Values{"news_id": {"1"}})
	require.Equal(t, http.StatusOK, resp.code, string(resp.body))

	resp = env.do(t, session{}, http.MethodGet, "/api/getnews/top/0/10", nil)
	var page struct {
		News []client.News `json:"news"`
	}
	resp.decode(t, &page)
	assert.Empty(t, page.News)

	resp = env.do(t, alice, http.MethodPost, "/api/delnews", url.Values{"news_id": {"x"}})
	assert.Equal(t, http.StatusBadRequest, resp.code)
}

func TestCommentThread(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice")
	bob := env.signup(t, "bob")
	id := env.submit(t, alice, "Discuss", "https://example.com/discuss")
	newsID := strconv.FormatInt(id, 10)

	resp := env.do(t, alice, http.MethodPost, "/api/postcomment", url.Values{
		"news_id": {newsID}, "comment_id": {"-1"}, "parent_id": {"-1"}, "comment": {"top level"},
	})
	require.Equal(t, http.StatusOK, resp.code, string(resp.body))
	var result client.CommentResult
	resp.decode(t, &result)
	assert.Equal(t, client.CommentResult{Op: "insert", CommentID: 1, ParentID: -1, NewsID: id}, result)

	resp = env.do(t, bob, http.MethodPost, "/api/postcomment", url.Values{
		"news_id": {newsID}, "comment_id": {"-1"}, "parent_id": {"1"}, "comment": {"a reply"},
	})
	require.Equal(t, http.StatusOK, resp.code, string(resp.body))

	resp = env.do(t, bob, http.MethodPost, "/api/postcomment", url.Values{
		"news_id": {newsID}, "comment_id": {"-1"}, "parent_id": {"-1"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.code)
	assert.Equal(t, "missing_parameters", resp.errCode(t))

	resp = env.do(t, bob, http.MethodPost, "/api/votecomment", url.Values{"comment_id": {"1-1"}, "vote_type": {"up"}})
	require.Equal(t, http.StatusOK, resp.code, string(resp.body))
	resp = env.do(t, bob, http.MethodPost, "/api/votecomment", url.Values{"comment_id": {"1-1"}, "vote_type": {"down"}})
	assert.Equal(t, http.StatusConflict, resp.code)
	assert.Equal(t, "invalid_or_duplicate", resp.errCode(t))
	resp = env.do(t, bob, http.MethodPost, "/api/votecomment", url.Values{"comment_id": {"one"}, "vote_type": {"up"}})
	assert.Equal(t, http.StatusBadRequest, resp.code)

	resp = env.do(t, bob, http.MethodGet, "/api/getcomments/1", nil)
	require.Equal(t, http.StatusOK, resp.code, string(resp.body))
	var thread struct {
		News     client.News      `json:"news"`
		Comments []client.Comment `json:"comments"`
	}
	resp.decode(t, &thread)
	assert.Equal(t, int64(2), thread.News.Comments)
	require.Len(t, thread.Comments, 1)
	top := thread.Comments[0]
	assert.Equal(t, "1-1", top.ID)
	assert.Equal(t, "alice", top.Username)
	assert.Equal(t, 2, top.Up)
	assert.Equal(t, "up", top.Voted)
	require.Len(t, top.Replies, 1)
	assert.Equal(t, "a reply", top.Replies[0].Body)
	assert.Equal(t, "bob", top.Replies[0].Username)

	resp = env.do(t, session{}, http.MethodGet, "/api/getcomments/99", nil)
	assert.Equal(t, http.StatusNotFound, resp.code)

	resp = env.do(t, alice, http.MethodGet, "/api/replies", nil)
	require.Equal(t, http.StatusOK, resp.code, string(resp.body))
	var replies struct {
		Threads []struct {
			News    client.News    `json:"news"`
			Comment client.Comment `json:"comment"`
		} `json:"threads"`
	}
	resp.decode(t, &replies)
	require.Len(t, replies.Threads, 1)
	require.Len(t, replies.Threads[0].Comment.Replies, 1)
	assert.Equal(t, "a reply", replies.Threads[0].Comment.Replies[0].Body)

	resp = env.do(t, session{}, http.MethodGet, "/api/user/bob/comments/0/10", nil)
	require.Equal(t, http.StatusOK, resp.code, string(resp.body))
	var userComments struct {
		Comments []client.Comment `json:"comments"`
		Count    int64            `json:"count"`
	}
	resp.decode(t, &userComments)
	assert.Equal(t, int64(1), userComments.Count)
	require.Len(t, userComments.Comments, 1)
	assert.Equal(t, "1-2", userComments.Comments[0].ID)
}

func TestProfileAndKarmaDrip(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice")
	env.submit(t, alice, "Mine", "https://example.com/mine")

	resp := env.do(t, alice, http.MethodPost, "/api/updateprofile", url.Values{"about": {"hi there"}, "email": {"alice@example.com"}})
	require.Equal(t, http.StatusOK, resp.code, string(resp.body))

	resp = env.do(t, alice, http.MethodPost, "/api/updateprofile", url.Values{"password": {"short"}})
	assert.Equal(t, http.StatusBadRequest, resp.code)

	env.clock.Advance(env.opts.KarmaIncrementInterval + time.Second)

	resp = env.do(t, alice, http.MethodGet, "/api/user/alice", nil)
	require.Equal(t, http.StatusOK, resp.code, string(resp.body))
	var profile client.Profile
	resp.decode(t, &profile)
	assert.Equal(t, "hi there", profile.User.About)
	assert.Equal(t, "alice@example.com", profile.User.Email)
	assert.Equal(t, env.opts.UserInitialKarma+env.opts.KarmaIncrementAmount, profile.User.Karma)
	assert.Equal(t, int64(1), profile.PostedNews)

	// Only one increment per interval.
	resp = env.do(t, alice, http.MethodGet, "/api/user/alice", nil)
	var again client.Profile
	resp.decode(t, &again)
	assert.Equal(t, env.opts.UserInitialKarma+env.opts.KarmaIncrementAmount, again.User.Karma)

	resp = env.do(t, session{}, http.MethodGet, "/api/user/alice", nil)
	var public client.Profile
	resp.decode(t, &public)
	assert.Empty(t, public.User.Email, "email is private")

	resp = env.do(t, session{}, http.MethodGet, "/api/user/alice/news/0/10", nil)
	require.Equal(t, http.StatusOK, resp.code, string(resp.body))
	var submitted struct {
		News []client.News `json:"news"`
	}
	resp.decode(t, &submitted)
	require.Len(t, submitted.News, 1)
	assert.Equal(t, "Mine", submitted.News[0].Title)

	resp = env.do(t, session{}, http.MethodGet, "/api/user/nobody", nil)
	assert.Equal(t, http.StatusNotFound, resp.code)
}

func TestStoreOutageIsServiceUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.mr.Close()

	resp := env.do(t, session{}, http.MethodGet, "/api/getnews/top/0/10", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.code)
	assert.Contains(t, string(resp.body), "service temporarily unavailable")
}

func TestMetricsAndUnknownRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, session{}, http.MethodGet, "/api/getnews/top/0/10", nil)

	resp := env.do(t, session{}, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.code)
	assert.Contains(t, string(resp.body), "slashnews_store_operations_total")

	resp = env.do(t, session{}, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.code)
	resp = env.do(t, session{}, http.MethodDelete, "/api/login", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperror.ErrEmptyComment, http.StatusBadRequest},
		{apperror.ErrNotAuthenticated, http.StatusUnauthorized},
		{apperror.ErrNotAuthor, http.StatusForbidden},
		{apperror.ErrInsufficientKarma.With("custom"), http.StatusForbidden},
		{apperror.ErrDuplicateVote, http.StatusConflict},
		{apperror.ErrRateLimited, http.StatusTooManyRequests},
		{apperror.ErrCommentNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: zrevrange: %w", store.ErrUnavailable, context.DeadlineExceeded), http.StatusServiceUnavailable},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

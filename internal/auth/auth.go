package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alphabot-ai/slashnews/internal/apperror"
	"github.com/alphabot-ai/slashnews/internal/config"
	"github.com/alphabot-ai/slashnews/internal/model"
	"github.com/alphabot-ai/slashnews/internal/store"
	"github.com/jonboulle/clockwork"
)

const (
	tokenBytes     = 20
	maxAboutLength = 4095
	maxEmailLength = 255
)

// Service owns user accounts, sessions and karma.
type Service struct {
	store  store.Store
	clock  clockwork.Clock
	opts   config.Options
	hasher Hasher
}

func NewService(st store.Store, clock clockwork.Clock, opts config.Options) (*Service, error) {
	hasher, err := NewHasher(opts.PasswordHash, opts.PasswordIterations, opts.PasswordKeyLength)
	if err != nil {
		return nil, err
	}
	return &Service{store: st, clock: clock, opts: opts, hasher: hasher}, nil
}

// CreateAccount registers username and returns the new session token.
func (s *Service) CreateAccount(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", apperror.ErrMissingCredentials
	}
	if err := s.checkPassword(password); err != nil {
		return "", err
	}
	taken, err := s.store.Exists(ctx, store.UsernameKey(username))
	if err != nil {
		return "", err
	}
	if taken {
		return "", apperror.ErrUsernameTaken
	}

	id, err := s.store.Incr(ctx, store.UsersCountKey)
	if err != nil {
		return "", err
	}
	claimed, err := s.store.SetNX(ctx, store.UsernameKey(username), strconv.FormatInt(id, 10), 0)
	if err != nil {
		return "", err
	}
	if !claimed {
		return "", apperror.ErrUsernameTaken
	}

	salt, err := RandomHex(tokenBytes)
	if err != nil {
		return "", err
	}
	token, err := RandomHex(tokenBytes)
	if err != nil {
		return "", err
	}
	secret, err := RandomHex(tokenBytes)
	if err != nil {
		return "", err
	}
	now := s.clock.Now()
	user := model.User{
		ID:            id,
		Username:      username,
		Salt:          salt,
		Password:      s.hasher.Derive(password, salt),
		CreatedAt:     now,
		Karma:         s.opts.UserInitialKarma,
		KarmaIncrTime: now,
		Auth:          token,
		APISecret:     secret,
	}
	if err := s.store.HSet(ctx, store.UserKey(id), userHash(user)); err != nil {
		return "", err
	}
	if err := s.store.Set(ctx, store.AuthKey(token), strconv.FormatInt(id, 10)); err != nil {
		return "", err
	}
	slog.Info("account created", "user_id", id, "username", username)
	return token, nil
}

// VerifyCredentials checks a username/password pair and returns the user's
// session token and api secret.
func (s *Service) VerifyCredentials(ctx context.Context, username, password string) (string, string, error) {
	user, err := s.GetUserByUsername(ctx, username)
	if errors.Is(err, apperror.ErrUserNotFound) {
		return "", "", apperror.ErrNoMatch
	}
	if err != nil {
		return "", "", err
	}
	if !s.hasher.Verify(password, user.Salt, user.Password) {
		return "", "", apperror.ErrNoMatch
	}
	return user.Auth, user.APISecret, nil
}

// Authenticate resolves a session token. An empty or unknown token is not an
// error: it returns a nil user.
func (s *Service) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := s.store.Get(ctx, store.AuthKey(token))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, nil
	}
	user, err := s.GetUserByID(ctx, id)
	if errors.Is(err, apperror.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// RotateAuthToken invalidates the current session token and issues a new one.
func (s *Service) RotateAuthToken(ctx context.Context, userID int64) (string, error) {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	token, err := RandomHex(tokenBytes)
	if err != nil {
		return "", err
	}
	if err := s.store.Del(ctx, store.AuthKey(user.Auth)); err != nil {
		return "", err
	}
	if err := s.store.HSet(ctx, store.UserKey(userID), map[string]string{"auth": token}); err != nil {
		return "", err
	}
	if err := s.store.Set(ctx, store.AuthKey(token), strconv.FormatInt(userID, 10)); err != nil {
		return "", err
	}
	return token, nil
}

// IncrementKarma adds delta to the user's karma. With a positive interval the
// change applies at most once per interval. It returns the updated record and
// whether the change applied.
func (s *Service) IncrementKarma(ctx context.Context, user model.User, delta int64, interval time.Duration) (model.User, bool, error) {
	if interval > 0 {
		now := s.clock.Now()
		if !user.KarmaIncrTime.Before(now.Add(-interval)) {
			return user, false, nil
		}
		if err := s.store.HSet(ctx, store.UserKey(user.ID), map[string]string{
			"karma_incr_time": unix(now),
		}); err != nil {
			return user, false, err
		}
		user.KarmaIncrTime = now
	}
	karma, err := s.AdjustKarma(ctx, user.ID, delta)
	if err != nil {
		return user, false, err
	}
	user.Karma = karma
	return user, true, nil
}

// AdjustKarma applies delta unconditionally and returns the new balance.
func (s *Service) AdjustKarma(ctx context.Context, userID, delta int64) (int64, error) {
	return s.store.HIncrBy(ctx, store.UserKey(userID), "karma", delta)
}

func (s *Service) GetUserByID(ctx context.Context, id int64) (model.User, error) {
	h, err := s.store.HGetAll(ctx, store.UserKey(id))
	if err != nil {
		return model.User{}, err
	}
	if len(h) == 0 {
		return model.User{}, apperror.ErrUserNotFound
	}
	return parseUser(h), nil
}

func (s *Service) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	raw, err := s.store.Get(ctx, store.UsernameKey(username))
	if errors.Is(err, store.ErrNotFound) {
		return model.User{}, apperror.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return model.User{}, apperror.ErrUserNotFound
	}
	return s.GetUserByID(ctx, id)
}

// GetUsers loads several users in one round trip. Missing users are absent
// from the result.
func (s *Service) GetUsers(ctx context.Context, ids []int64) (map[int64]model.User, error) {
	users := make(map[int64]model.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	ops := make([]store.Op, len(ids))
	for i, id := range ids {
		ops[i] = store.HGetAllOp(store.UserKey(id))
	}
	results, err := s.store.Batch(ctx, ops)
	if err != nil {
		return nil, err
	}
	for i, r := range results {
		if r.Err != nil || !r.Found {
			continue
		}
		users[ids[i]] = parseUser(r.Hash)
	}
	return users, nil
}

// UpdateProfile stores about and email, truncated to their limits, and
// changes the password when one is given.
func (s *Service) UpdateProfile(ctx context.Context, user model.User, about, email, password string) (model.User, error) {
	fields := map[string]string{
		"about": truncate(about, maxAboutLength),
		"email": truncate(email, maxEmailLength),
	}
	if password != "" {
		if err := s.checkPassword(password); err != nil {
			return user, err
		}
		fields["password"] = s.hasher.Derive(password, user.Salt)
	}
	if err := s.store.HSet(ctx, store.UserKey(user.ID), fields); err != nil {
		return user, err
	}
	user.About = fields["about"]
	user.Email = fields["email"]
	if p, ok := fields["password"]; ok {
		user.Password = p
	}
	return user, nil
}

// AddFlags sets flag letters on the user, keeping the ones already set.
func (s *Service) AddFlags(ctx context.Context, userID int64, flags string) (model.User, error) {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return model.User{}, err
	}
	for _, f := range flags {
		if !strings.ContainsRune(user.Flags, f) {
			user.Flags += string(f)
		}
	}
	if err := s.store.HSet(ctx, store.UserKey(userID), map[string]string{"flags": user.Flags}); err != nil {
		return model.User{}, err
	}
	return user, nil
}

// UserCounters returns how many news and comments the user posted.
func (s *Service) UserCounters(ctx context.Context, userID int64) (model.UserCounters, error) {
	results, err := s.store.Batch(ctx, []store.Op{
		store.ZCardOp(store.PostedKey(userID)),
		store.ZCardOp(store.UserCommentsKey(userID)),
	})
	if err != nil {
		return model.UserCounters{}, err
	}
	return model.UserCounters{PostedNews: results[0].Int, PostedComments: results[1].Int}, nil
}

// ResetReplies zeroes the unread replies counter.
func (s *Service) ResetReplies(ctx context.Context, userID int64) error {
	if err := s.store.HSet(ctx, store.UserKey(userID), map[string]string{"replies": "0"}); err != nil {
		return fmt.Errorf("reset replies: %w", err)
	}
	return nil
}

func (s *Service) checkPassword(password string) error {
	if len(password) < s.opts.PasswordMinLength {
		return apperror.ErrPasswordTooShort.
			With("password is too short. Min length: %d", s.opts.PasswordMinLength).
			OnField("password")
	}
	return nil
}

func userHash(u model.User) map[string]string {
	return map[string]string{
		"id":              strconv.FormatInt(u.ID, 10),
		"username":        u.Username,
		"salt":            u.Salt,
		"password":        u.Password,
		"ctime":           unix(u.CreatedAt),
		"karma":           strconv.FormatInt(u.Karma, 10),
		"about":           u.About,
		"email":           u.Email,
		"auth":            u.Auth,
		"apisecret":       u.APISecret,
		"flags":           u.Flags,
		"karma_incr_time": unix(u.KarmaIncrTime),
	}
}

func parseUser(h map[string]string) model.User {
	return model.User{
		ID:            parseInt(h["id"]),
		Username:      h["username"],
		Salt:          h["salt"],
		Password:      h["password"],
		CreatedAt:     time.Unix(parseInt(h["ctime"]), 0),
		Karma:         parseInt(h["karma"]),
		KarmaIncrTime: time.Unix(parseInt(h["karma_incr_time"]), 0),
		About:         h["about"],
		Email:         h["email"],
		Auth:          h["auth"],
		APISecret:     h["apisecret"],
		Flags:         h["flags"],
		Replies:       parseInt(h["replies"]),
	}
}

func unix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

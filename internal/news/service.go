package news

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alphabot-ai/slashnews/internal/apperror"
	"github.com/alphabot-ai/slashnews/internal/auth"
	"github.com/alphabot-ai/slashnews/internal/config"
	"github.com/alphabot-ai/slashnews/internal/metrics"
	"github.com/alphabot-ai/slashnews/internal/model"
	"github.com/alphabot-ai/slashnews/internal/rank"
	"github.com/alphabot-ai/slashnews/internal/store"
	"github.com/jonboulle/clockwork"
)

// Service stores news items and keeps their votes, scores and ranks.
type Service struct {
	store  store.Store
	users  *auth.Service
	clock  clockwork.Clock
	opts   config.Options
	params rank.Params
}

func NewService(st store.Store, users *auth.Service, clock clockwork.Clock, opts config.Options) *Service {
	return &Service{
		store:  st,
		users:  users,
		clock:  clock,
		opts:   opts,
		params: rank.ParamsFrom(opts),
	}
}

// Submit posts a link (or, with an empty link, a text post) on behalf of
// author. A link posted again within the repost window returns the id of the
// existing item instead of creating a new one.
func (s *Service) Submit(ctx context.Context, author model.User, title, link, text string) (int64, error) {
	id, err := s.submit(ctx, author, title, link, text)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
	}
	return id, err
}

func (s *Service) submit(ctx context.Context, author model.User, title, link, text string) (int64, error) {
	title, link, isText, err := s.normalize(title, link, text)
	if err != nil {
		return 0, err
	}
	eta, err := s.NewPostETA(ctx, author)
	if err != nil {
		return 0, err
	}
	if eta > 0 {
		return 0, apperror.ErrSubmittedTooRecently.With(
			"you have submitted a story too recently, please wait %d seconds", int64(eta.Seconds()))
	}
	if !isText {
		if id, ok, err := s.lockedBy(ctx, link); err != nil || ok {
			if ok {
				metrics.SubmissionsTotal.WithLabelValues("repost").Inc()
			}
			return id, err
		}
	}

	id, err := s.store.Incr(ctx, store.NewsCountKey)
	if err != nil {
		return 0, err
	}
	if !isText {
		locked, err := s.store.SetNX(ctx, store.URLKey(link), strconv.FormatInt(id, 10), s.opts.PreventRepostTime)
		if err != nil {
			return 0, err
		}
		if !locked {
			// Lost a race with a concurrent submission of the same link.
			existing, _, err := s.lockedBy(ctx, link)
			metrics.SubmissionsTotal.WithLabelValues("repost").Inc()
			return existing, err
		}
	}

	now := s.clock.Now()
	if err := s.store.HSet(ctx, store.NewsKey(id), map[string]string{
		"id":       strconv.FormatInt(id, 10),
		"title":    title,
		"url":      link,
		"user_id":  strconv.FormatInt(author.ID, 10),
		"ctime":    strconv.FormatInt(now.Unix(), 10),
		"score":    "0",
		"rank":     "0",
		"up":       "0",
		"down":     "0",
		"comments": "0",
	}); err != nil {
		return 0, err
	}

	// The author upvotes their own item, which also computes its first rank
	// and places it in news.top.
	if _, err := s.Vote(ctx, id, author.ID, model.VoteUp); err != nil {
		return 0, err
	}
	member := strconv.FormatInt(id, 10)
	if _, err := s.store.Batch(ctx, []store.Op{
		store.ZAddOp(store.PostedKey(author.ID), float64(now.Unix()), member),
		store.ZAddOp(store.NewsCronKey, float64(now.Unix()), member),
	}); err != nil {
		return 0, err
	}
	if s.opts.NewsSubmissionBreak > 0 {
		if err := s.store.SetEx(ctx, store.SubmittedRecentlyKey(author.ID), "1", s.opts.NewsSubmissionBreak); err != nil {
			return 0, err
		}
	}
	metrics.SubmissionsTotal.WithLabelValues("created").Inc()
	slog.Info("news submitted", "news_id", id, "user_id", author.ID)
	return id, nil
}

// Edit changes the title and link or text of an item the user posted,
// within the edit window.
func (s *Service) Edit(ctx context.Context, user model.User, newsID int64, title, link, text string) (int64, error) {
	title, link, isText, err := s.normalize(title, link, text)
	if err != nil {
		return 0, err
	}
	item, err := s.GetByID(ctx, nil, newsID)
	if err != nil {
		return 0, err
	}
	if err := s.checkOwner(user, item); err != nil {
		return 0, err
	}
	if item.CreatedAt.Before(s.clock.Now().Add(-s.opts.NewsEditTime)) {
		return 0, apperror.ErrEditWindowExpired
	}

	if !isText && link != item.URL {
		taken, err := s.store.Exists(ctx, store.URLKey(link))
		if err != nil {
			return 0, err
		}
		if taken {
			return 0, apperror.ErrURLRecentlyPosted
		}
		if err := s.store.Del(ctx, store.URLKey(item.URL)); err != nil {
			return 0, err
		}
		if err := s.store.SetEx(ctx, store.URLKey(link), strconv.FormatInt(newsID, 10), s.opts.PreventRepostTime); err != nil {
			return 0, err
		}
	}
	if err := s.store.HSet(ctx, store.NewsKey(newsID), map[string]string{
		"title": title,
		"url":   link,
	}); err != nil {
		return 0, err
	}
	return newsID, nil
}

// Delete soft-deletes an item the user posted and takes it off the listings.
func (s *Service) Delete(ctx context.Context, user model.User, newsID int64) error {
	item, err := s.GetByID(ctx, nil, newsID)
	if err != nil {
		return err
	}
	if err := s.checkOwner(user, item); err != nil {
		return err
	}
	if !item.CreatedAt.After(s.clock.Now().Add(-s.opts.NewsEditTime)) {
		return apperror.ErrEditWindowExpired
	}
	member := strconv.FormatInt(newsID, 10)
	if err := s.store.HSet(ctx, store.NewsKey(newsID), map[string]string{"del": "1"}); err != nil {
		return err
	}
	if err := s.store.ZRem(ctx, store.NewsTopKey, member); err != nil {
		return err
	}
	if err := s.store.ZRem(ctx, store.NewsCronKey, member); err != nil {
		return err
	}
	slog.Info("news deleted", "news_id", newsID, "user_id", user.ID)
	return nil
}

// NewPostETA returns how long the user must wait before submitting again.
func (s *Service) NewPostETA(ctx context.Context, user model.User) (time.Duration, error) {
	return s.store.TTL(ctx, store.SubmittedRecentlyKey(user.ID))
}

func (s *Service) checkOwner(user model.User, item model.News) error {
	if item.Deleted {
		return apperror.ErrNewsNotFound
	}
	if item.UserID != user.ID {
		return apperror.ErrNotAuthor
	}
	return nil
}

// lockedBy returns the item holding the repost lock on link.
func (s *Service) lockedBy(ctx context.Context, link string) (int64, bool, error) {
	raw, err := s.store.Get(ctx, store.URLKey(link))
	if errors.Is(err, store.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return id, true, nil
}

// normalize validates a submission and returns the title and the value
// stored in the url field: the link itself, or the text under text://.
func (s *Service) normalize(title, link, text string) (string, string, bool, error) {
	title = strings.TrimSpace(title)
	link = strings.TrimSpace(link)
	if title == "" || (link == "" && strings.TrimSpace(text) == "") {
		return "", "", false, apperror.ErrInvalidSubmission
	}
	if link == "" {
		return title, model.TextScheme + truncate(text, s.opts.CommentMaxLength), true, nil
	}
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "", false, apperror.ErrInvalidURL.OnField("url")
	}
	return title, link, false, nil
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

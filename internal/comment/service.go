package comment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alphabot-ai/slashnews/internal/apperror"
	"github.com/alphabot-ai/slashnews/internal/auth"
	"github.com/alphabot-ai/slashnews/internal/config"
	"github.com/alphabot-ai/slashnews/internal/metrics"
	"github.com/alphabot-ai/slashnews/internal/model"
	"github.com/alphabot-ai/slashnews/internal/store"
	"github.com/jonboulle/clockwork"
)

// nextIDField holds the per-thread comment id counter.
const nextIDField = "nextid"

// record is the JSON form of a comment inside its thread hash.
type record struct {
	Score    int     `json:"score"`
	Body     string  `json:"body"`
	ParentID int64   `json:"parent_id"`
	UserID   int64   `json:"user_id"`
	CTime    int64   `json:"ctime"`
	Up       []int64 `json:"up,omitempty"`
	Down     []int64 `json:"down,omitempty"`
	Del      int     `json:"del,omitempty"`
}

// Service stores the comment thread of each news item. Comments of one item
// live as JSON values in a single hash; edits and votes rewrite the value, so
// concurrent writers to the same comment resolve as last writer wins.
type Service struct {
	store store.Store
	users *auth.Service
	news  NewsGetter
	clock clockwork.Clock
	opts  config.Options
}

// NewsGetter loads a news item for a viewer.
type NewsGetter interface {
	GetByID(ctx context.Context, viewer *model.User, id int64) (model.News, error)
}

func NewService(st store.Store, users *auth.Service, news NewsGetter, clock clockwork.Clock, opts config.Options) *Service {
	return &Service{store: st, users: users, news: news, clock: clock, opts: opts}
}

// Handle inserts (commentID -1), updates (non-empty body) or deletes (empty
// body) a comment. On any failure the result is nil and nothing was written.
func (s *Service) Handle(ctx context.Context, user model.User, newsID, commentID, parentID int64, body string) (*model.CommentResult, error) {
	if len(body) > s.opts.CommentMaxLength {
		return nil, apperror.ErrCommentTooLong.With("comment is too long, max %d bytes", s.opts.CommentMaxLength)
	}
	var (
		res *model.CommentResult
		err error
	)
	if commentID == -1 {
		res, err = s.insert(ctx, user, newsID, parentID, body)
	} else {
		res, err = s.edit(ctx, user, newsID, commentID, body)
	}
	if err != nil {
		return nil, err
	}
	metrics.CommentOpsTotal.WithLabelValues(string(res.Op)).Inc()
	return res, nil
}

func (s *Service) insert(ctx context.Context, user model.User, newsID, parentID int64, body string) (*model.CommentResult, error) {
	if strings.TrimSpace(body) == "" {
		return nil, apperror.ErrEmptyComment
	}
	if err := s.requireNews(ctx, newsID); err != nil {
		return nil, err
	}
	var (
		parent model.Comment
		err    error
	)
	if parentID != model.NoParent {
		parent, err = s.Get(ctx, newsID, parentID)
		if errors.Is(err, apperror.ErrCommentNotFound) {
			return nil, apperror.ErrParentNotFound
		}
		if err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	id, err := s.store.HIncrBy(ctx, store.ThreadKey(newsID), nextIDField, 1)
	if err != nil {
		return nil, err
	}
	// The author upvotes their own comment.
	rec := record{
		Score:    0,
		Body:     body,
		ParentID: parentID,
		UserID:   user.ID,
		CTime:    now.Unix(),
		Up:       []int64{user.ID},
	}
	if err := s.put(ctx, newsID, id, rec); err != nil {
		return nil, err
	}
	if _, err := s.store.HIncrBy(ctx, store.NewsKey(newsID), "comments", 1); err != nil {
		return nil, err
	}
	member := fmt.Sprintf("%d-%d", newsID, id)
	if _, err := s.store.ZAdd(ctx, store.UserCommentsKey(user.ID), float64(now.Unix()), member); err != nil {
		return nil, err
	}
	if parentID != model.NoParent {
		exists, err := s.store.Exists(ctx, store.UserKey(parent.UserID))
		if err != nil {
			return nil, err
		}
		if exists {
			if _, err := s.store.HIncrBy(ctx, store.UserKey(parent.UserID), "replies", 1); err != nil {
				return nil, err
			}
		}
	}
	slog.Debug("comment inserted", "news_id", newsID, "comment_id", id, "user_id", user.ID)
	return &model.CommentResult{Op: model.CommentInserted, NewsID: newsID, CommentID: id}, nil
}

func (s *Service) edit(ctx context.Context, user model.User, newsID, commentID int64, body string) (*model.CommentResult, error) {
	if err := s.requireNews(ctx, newsID); err != nil {
		return nil, err
	}
	rec, err := s.load(ctx, newsID, commentID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != user.ID {
		return nil, apperror.ErrNotAuthor
	}
	if !time.Unix(rec.CTime, 0).After(s.clock.Now().Add(-s.opts.CommentEditTime)) {
		return nil, apperror.ErrEditWindowExpired
	}

	res := &model.CommentResult{NewsID: newsID, CommentID: commentID}
	delta := int64(0)
	if body == "" {
		if rec.Del == 1 {
			return nil, apperror.ErrCommentDeleted
		}
		rec.Del = 1
		delta = -1
		res.Op = model.CommentDeleted
	} else {
		if rec.Del == 1 {
			rec.Del = 0
			delta = 1
		}
		rec.Body = body
		res.Op = model.CommentUpdated
	}
	if err := s.put(ctx, newsID, commentID, rec); err != nil {
		return nil, err
	}
	if delta != 0 {
		if _, err := s.store.HIncrBy(ctx, store.NewsKey(newsID), "comments", delta); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *Service) requireNews(ctx context.Context, newsID int64) error {
	ok, err := s.store.Exists(ctx, store.NewsKey(newsID))
	if err != nil {
		return err
	}
	if !ok {
		return apperror.ErrNewsNotFound
	}
	return nil
}

// Vote adds the user to the comment's up or down voters. A user votes once
// per comment; there is no karma gate or transfer.
func (s *Service) Vote(ctx context.Context, user model.User, newsID, commentID int64, direction model.VoteType) error {
	err := s.vote(ctx, user, newsID, commentID, direction)
	metrics.VotesTotal.WithLabelValues("comment", string(direction), metrics.Result(err)).Inc()
	return err
}

func (s *Service) vote(ctx context.Context, user model.User, newsID, commentID int64, direction model.VoteType) error {
	if !direction.Valid() {
		return apperror.ErrInvalidOrDuplicate
	}
	rec, err := s.load(ctx, newsID, commentID)
	if err != nil {
		return err
	}
	c := rec.toComment(newsID, commentID)
	if c.VotedBy(user.ID) != model.VoteNone {
		return apperror.ErrInvalidOrDuplicate
	}
	if direction == model.VoteUp {
		rec.Up = append(rec.Up, user.ID)
	} else {
		rec.Down = append(rec.Down, user.ID)
	}
	return s.put(ctx, newsID, commentID, rec)
}

// Get returns one comment, deleted or not.
func (s *Service) Get(ctx context.Context, newsID, commentID int64) (model.Comment, error) {
	rec, err := s.load(ctx, newsID, commentID)
	if err != nil {
		return model.Comment{}, err
	}
	return rec.toComment(newsID, commentID), nil
}

// Tree returns every comment of the item grouped by parent id. Each comment
// carries its author, the viewer's vote and its replies group. Groups are in
// display order.
func (s *Service) Tree(ctx context.Context, viewer *model.User, newsID int64) (model.CommentTree, error) {
	h, err := s.store.HGetAll(ctx, store.ThreadKey(newsID))
	if err != nil {
		return nil, err
	}
	tree := make(model.CommentTree)
	authorIDs := make(map[int64]struct{})
	var all []*model.Comment
	for field, value := range h {
		if field == nextIDField {
			continue
		}
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			slog.Warn("skipping unreadable comment", "news_id", newsID, "comment_id", id, "error", err)
			continue
		}
		c := rec.toComment(newsID, id)
		all = append(all, &c)
		authorIDs[c.UserID] = struct{}{}
	}

	ids := make([]int64, 0, len(authorIDs))
	for id := range authorIDs {
		ids = append(ids, id)
	}
	authors, err := s.users.GetUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, c := range all {
		if author, ok := authors[c.UserID]; ok {
			c.Author = &author
		}
		if viewer != nil {
			c.Voted = c.VotedBy(viewer.ID)
		}
		tree[c.ParentID] = append(tree[c.ParentID], c)
	}
	for _, c := range all {
		c.Replies = tree[c.ID]
	}
	for parent := range tree {
		Sort(tree[parent])
	}
	return tree, nil
}

// UserComments returns a page of the user's comments, newest first.
func (s *Service) UserComments(ctx context.Context, user model.User, start, count int) (model.CommentPage, error) {
	if start < 0 {
		start = 0
	}
	if count <= 0 {
		count = s.opts.UserCommentsPerPage
	}
	key := store.UserCommentsKey(user.ID)
	members, err := s.store.ZRevRange(ctx, key, int64(start), int64(start+count-1))
	if err != nil {
		return model.CommentPage{}, err
	}
	total, err := s.store.ZCard(ctx, key)
	if err != nil {
		return model.CommentPage{}, err
	}
	page := model.CommentPage{Count: total}
	for _, m := range members {
		newsID, commentID, ok := parseMember(m)
		if !ok {
			continue
		}
		c, err := s.Get(ctx, newsID, commentID)
		if errors.Is(err, apperror.ErrCommentNotFound) {
			continue
		}
		if err != nil {
			return model.CommentPage{}, err
		}
		author := user
		c.Author = &author
		c.Voted = c.VotedBy(user.ID)
		page.Comments = append(page.Comments, c)
	}
	return page, nil
}

// Replies returns up to maxThreads of the user's most recent comments, each
// with the discussion it belongs to. With reset the user's unread replies
// counter is cleared.
func (s *Service) Replies(ctx context.Context, user model.User, maxThreads int, reset bool) ([]model.Thread, error) {
	if maxThreads <= 0 {
		maxThreads = s.opts.SubthreadsInRepliesPage
	}
	page, err := s.UserComments(ctx, user, 0, maxThreads)
	if err != nil {
		return nil, err
	}
	threads := make([]model.Thread, 0, len(page.Comments))
	trees := make(map[int64]model.CommentTree)
	for _, c := range page.Comments {
		item, err := s.news.GetByID(ctx, &user, c.NewsID)
		if errors.Is(err, apperror.ErrNewsNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tree, ok := trees[c.NewsID]
		if !ok {
			if tree, err = s.Tree(ctx, &user, c.NewsID); err != nil {
				return nil, err
			}
			trees[c.NewsID] = tree
		}
		threads = append(threads, model.Thread{Comment: c, News: item, Tree: tree})
	}
	if reset {
		if err := s.users.ResetReplies(ctx, user.ID); err != nil {
			return nil, err
		}
	}
	return threads, nil
}

// Sort orders comments by score, then newest first.
func Sort(comments []*model.Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		a, b := comments[i], comments[j]
		if a.Score() != b.Score() {
			return a.Score() > b.Score()
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}

func (s *Service) load(ctx context.Context, newsID, commentID int64) (record, error) {
	raw, err := s.store.HGet(ctx, store.ThreadKey(newsID), strconv.FormatInt(commentID, 10))
	if errors.Is(err, store.ErrNotFound) {
		return record{}, apperror.ErrCommentNotFound
	}
	if err != nil {
		return record{}, err
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return record{}, fmt.Errorf("decode comment %d-%d: %w", newsID, commentID, err)
	}
	return rec, nil
}

func (s *Service) put(ctx context.Context, newsID, commentID int64, rec record) error {
	rec.Score = len(rec.Up) - len(rec.Down)
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.store.HSet(ctx, store.ThreadKey(newsID), map[string]string{
		strconv.FormatInt(commentID, 10): string(raw),
	})
}

func (r record) toComment(newsID, id int64) model.Comment {
	return model.Comment{
		ID:        id,
		NewsID:    newsID,
		ParentID:  r.ParentID,
		UserID:    r.UserID,
		Body:      r.Body,
		CreatedAt: time.Unix(r.CTime, 0),
		Up:        r.Up,
		Down:      r.Down,
		Deleted:   r.Del == 1,
	}
}

// parseMember splits a user.comments member "<newsID>-<commentID>".
func parseMember(m string) (int64, int64, bool) {
	newsPart, commentPart, ok := strings.Cut(m, "-")
	if !ok {
		return 0, 0, false
	}
	newsID, err := strconv.ParseInt(newsPart, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	commentID, err := strconv.ParseInt(commentPart, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return newsID, commentID, true
}

// ParseID parses the "<newsID>-<commentID>" form used to address a comment.
func ParseID(s string) (newsID, commentID int64, err error) {
	newsID, commentID, ok := parseMember(s)
	if !ok {
		return 0, 0, apperror.ErrCommentNotFound
	}
	return newsID, commentID, nil
}

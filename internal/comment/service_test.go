package comment

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alphabot-ai/slashnews/internal/apperror"
	"github.com/alphabot-ai/slashnews/internal/auth"
	"github.com/alphabot-ai/slashnews/internal/config"
	"github.com/alphabot-ai/slashnews/internal/model"
	"github.com/alphabot-ai/slashnews/internal/news"
	"github.com/alphabot-ai/slashnews/internal/store"
	"github.com/alphabot-ai/slashnews/internal/store/redis/redistest"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	comments *Service
	news     *news.Service
	users    *auth.Service
	store    store.Store
	clock    *clockwork.FakeClock
	opts     config.Options
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, _ := redistest.New(t)
	clock := clockwork.NewFakeClock()
	opts := config.DefaultOptions()
	users, err := auth.NewService(st, clock, opts)
	require.NoError(t, err)
	newsSvc := news.NewService(st, users, clock, opts)
	return &testEnv{
		comments: NewService(st, users, newsSvc, clock, opts),
		news:     newsSvc,
		users:    users,
		store:    st,
		clock:    clock,
		opts:     opts,
	}
}

func (e *testEnv) newUser(t *testing.T, name string) model.User {
	t.Helper()
	ctx := context.Background()
	_, err := e.users.CreateAccount(ctx, name, "password-"+name)
	require.NoError(t, err)
	user, err := e.users.GetUserByUsername(ctx, name)
	require.NoError(t, err)
	return user
}

func (e *testEnv) story(t *testing.T, author model.User) int64 {
	t.Helper()
	id, err := e.news.Submit(context.Background(), author, "Story by "+author.Username, "", "body")
	require.NoError(t, err)
	return id
}

func (e *testEnv) commentCount(t *testing.T, newsID int64) int64 {
	t.Helper()
	item, err := e.news.GetByID(context.Background(), nil, newsID)
	require.NoError(t, err)
	return item.Comments
}

func TestTreeOfReplies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.newUser(t, "alice")
	bob := env.newUser(t, "bob")
	newsID := env.story(t, alice)

	top, err := env.comments.Handle(ctx, alice, newsID, -1, model.NoParent, "first!")
	require.NoError(t, err)
	assert.Equal(t, &model.CommentResult{Op: model.CommentInserted, NewsID: newsID, CommentID: 1}, top)

	reply, err := env.comments.Handle(ctx, bob, newsID, -1, top.CommentID, "a reply")
	require.NoError(t, err)
	assert.Equal(t, int64(2), reply.CommentID)

	tree, err := env.comments.Tree(ctx, &bob, newsID)
	require.NoError(t, err)
	require.Len(t, tree[model.NoParent], 1)
	root := tree[model.NoParent][0]
	assert.Equal(t, "first!", root.Body)
	require.NotNil(t, root.Author)
	assert.Equal(t, "alice", root.Author.Username)
	assert.Equal(t, model.VoteNone, root.Voted)

	require.Len(t, root.Replies, 1)
	child := root.Replies[0]
	assert.Equal(t, "a reply", child.Body)
	assert.Equal(t, top.CommentID, child.ParentID)
	assert.Equal(t, model.VoteUp, child.Voted, "authors upvote their own comment")
	assert.Empty(t, child.Replies)
}

func TestInsertBookkeeping(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.newUser(t, "alice")
	bob := env.newUser(t, "bob")
	newsID := env.story(t, alice)

	top, err := env.comments.Handle(ctx, alice, newsID, -1, model.NoParent, "hello")
	require.NoError(t, err)
	_, err = env.comments.Handle(ctx, bob, newsID, -1, top.CommentID, "hi alice")
	require.NoError(t, err)

	assert.Equal(t, int64(2), env.commentCount(t, newsID))

	refreshed, err := env.users.GetUserByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), refreshed.Replies)

	page, err := env.comments.UserComments(ctx, bob, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Count)
	require.Len(t, page.Comments, 1)
	assert.Equal(t, "hi alice", page.Comments[0].Body)

	counters, err := env.users.UserCounters(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counters.PostedComments)
}

func TestInsertValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.newUser(t, "alice")
	newsID := env.story(t, alice)

	tests := []struct {
		name     string
		newsID   int64
		parentID int64
		body     string
		want     error
	}{
		{"empty body", newsID, model.NoParent, "   ", apperror.ErrEmptyComment},
		{"too long", newsID, model.NoParent, strings.Repeat("x", env.opts.CommentMaxLength+1), apperror.ErrCommentTooLong},
		{"missing news", 999, model.NoParent, "hello", apperror.ErrNewsNotFound},
		{"missing parent", newsID, 42, "hello", apperror.ErrParentNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := env.comments.Handle(ctx, alice, tc.newsID, -1, tc.parentID, tc.body)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, int64(0), env.commentCount(t, newsID))
}

func TestEditAndDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.newUser(t, "alice")
	bob := env.newUser(t, "bob")
	newsID := env.story(t, alice)

	c, err := env.comments.Handle(ctx, alice, newsID, -1, model.NoParent, "draft")
	require.NoError(t, err)

	res, err := env.comments.Handle(ctx, alice, newsID, c.CommentID, model.NoParent, "final")
	require.NoError(t, err)
	assert.Equal(t, model.CommentUpdated, res.Op)
	got, err := env.comments.Get(ctx, newsID, c.CommentID)
	require.NoError(t, err)
	assert.Equal(t, "final", got.Body)

	_, err = env.comments.Handle(ctx, bob, newsID, c.CommentID, model.NoParent, "hijack")
	assert.ErrorIs(t, err, apperror.ErrNotAuthor)
	_, err = env.comments.Handle(ctx, alice, newsID, 77, model.NoParent, "ghost")
	assert.ErrorIs(t, err, apperror.ErrCommentNotFound)

	res, err = env.comments.Handle(ctx, alice, newsID, c.CommentID, model.NoParent, "")
	require.NoError(t, err)
	assert.Equal(t, model.CommentDeleted, res.Op)
	assert.Equal(t, int64(0), env.commentCount(t, newsID))
	got, err = env.comments.Get(ctx, newsID, c.CommentID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.Equal(t, "final", got.Body, "deleted comments keep their body")

	_, err = env.comments.Handle(ctx, alice, newsID, c.CommentID, model.NoParent, "")
	assert.ErrorIs(t, err, apperror.ErrCommentDeleted)
	assert.Equal(t, int64(0), env.commentCount(t, newsID))

	res, err = env.comments.Handle(ctx, alice, newsID, c.CommentID, model.NoParent, "restored")
	require.NoError(t, err)
	assert.Equal(t, model.CommentUpdated, res.Op)
	assert.Equal(t, int64(1), env.commentCount(t, newsID))
	got, err = env.comments.Get(ctx, newsID, c.CommentID)
	require.NoError(t, err)
	assert.False(t, got.Deleted)

	env.clock.Advance(env.opts.CommentEditTime)
	_, err = env.comments.Handle(ctx, alice, newsID, c.CommentID, model.NoParent, "too late")
	assert.ErrorIs(t, err, apperror.ErrEditWindowExpired)
	_, err = env.comments.Handle(ctx, alice, newsID, c.CommentID, model.NoParent, "")
	assert.ErrorIs(t, err, apperror.ErrEditWindowExpired)
}

func TestEditRequiresNews(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.newUser(t, "alice")
	newsID := env.story(t, alice)

	c, err := env.comments.Handle(ctx, alice, newsID, -1, model.NoParent, "orphan soon")
	require.NoError(t, err)
	require.NoError(t, env.store.Del(ctx, store.NewsKey(newsID)))

	_, err = env.comments.Handle(ctx, alice, newsID, c.CommentID, model.NoParent, "edited")
	assert.ErrorIs(t, err, apperror.ErrNewsNotFound)
	_, err = env.comments.Handle(ctx, alice, newsID, c.CommentID, model.NoParent, "")
	assert.ErrorIs(t, err, apperror.ErrNewsNotFound)

	got, err := env.comments.Get(ctx, newsID, c.CommentID)
	require.NoError(t, err)
	assert.Equal(t, "orphan soon", got.Body)
	assert.False(t, got.Deleted)
}

func TestEditWindowUsesCommentTime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.newUser(t, "alice")
	newsID := env.story(t, alice)

	env.clock.Advance(3 * time.Hour)
	c, err := env.comments.Handle(ctx, alice, newsID, -1, model.NoParent, "late to the party")
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	_, err = env.comments.Handle(ctx, alice, newsID, c.CommentID, model.NoParent, "edited")
	assert.NoError(t, err)
}

func TestVote(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.newUser(t, "alice")
	bob := env.newUser(t, "bob")
	carol := env.newUser(t, "carol")
	newsID := env.story(t, alice)

	c, err := env.comments.Handle(ctx, alice, newsID, -1, model.NoParent, "vote on me")
	require.NoError(t, err)

	require.NoError(t, env.comments.Vote(ctx, bob, newsID, c.CommentID, model.VoteDown))
	require.NoError(t, env.comments.Vote(ctx, carol, newsID, c.CommentID, model.VoteUp))

	assert.ErrorIs(t, env.comments.Vote(ctx, bob, newsID, c.CommentID, model.VoteUp), apperror.ErrInvalidOrDuplicate)
	assert.ErrorIs(t, env.comments.Vote(ctx, alice, newsID, c.CommentID, model.VoteUp), apperror.ErrInvalidOrDuplicate)
	assert.ErrorIs(t, env.comments.Vote(ctx, carol, newsID, c.CommentID, "sideways"), apperror.ErrInvalidOrDuplicate)
	assert.ErrorIs(t, env.comments.Vote(ctx, carol, newsID, 99, model.VoteUp), apperror.ErrCommentNotFound)

	got, err := env.comments.Get(ctx, newsID, c.CommentID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{alice.ID, carol.ID}, got.Up)
	assert.Equal(t, []int64{bob.ID}, got.Down)
	assert.Equal(t, 1, got.Score())
	assert.Equal(t, model.VoteDown, got.VotedBy(bob.ID))

	// Comment votes never touch karma.
	refreshed, err := env.users.GetUserByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.Karma, refreshed.Karma)
}

func TestSort(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	low := &model.Comment{ID: 1, CreatedAt: now, Up: []int64{1}}
	high := &model.Comment{ID: 2, CreatedAt: now.Add(-time.Hour), Up: []int64{1, 2, 3}}
	newer := &model.Comment{ID: 3, CreatedAt: now.Add(time.Minute), Up: []int64{1}}
	buried := &model.Comment{ID: 4, CreatedAt: now, Down: []int64{5, 6}}

	comments := []*model.Comment{low, buried, newer, high}
	Sort(comments)

	var order []int64
	for _, c := range comments {
		order = append(order, c.ID)
	}
	assert.Equal(t, []int64{2, 3, 1, 4}, order)
}

func TestTreeOrdering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.newUser(t, "alice")
	bob := env.newUser(t, "bob")
	newsID := env.story(t, alice)

	older, err := env.comments.Handle(ctx, alice, newsID, -1, model.NoParent, "older")
	require.NoError(t, err)
	env.clock.Advance(time.Minute)
	_, err = env.comments.Handle(ctx, alice, newsID, -1, model.NoParent, "newer")
	require.NoError(t, err)
	env.clock.Advance(time.Minute)
	_, err = env.comments.Handle(ctx, alice, newsID, -1, model.NoParent, "popular")
	require.NoError(t, err)
	require.NoError(t, env.comments.Vote(ctx, bob, newsID, older.CommentID, model.VoteUp))

	tree, err := env.comments.Tree(ctx, nil, newsID)
	require.NoError(t, err)
	var bodies []string
	for _, c := range tree[model.NoParent] {
		bodies = append(bodies, c.Body)
		assert.Equal(t, model.VoteNone, c.Voted)
	}
	assert.Equal(t, []string{"older", "popular", "newer"}, bodies)
}

func TestRepliesResetsCounter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.newUser(t, "alice")
	bob := env.newUser(t, "bob")
	newsID := env.story(t, alice)

	c, err := env.comments.Handle(ctx, alice, newsID, -1, model.NoParent, "question")
	require.NoError(t, err)
	_, err = env.comments.Handle(ctx, bob, newsID, -1, c.CommentID, "answer")
	require.NoError(t, err)

	threads, err := env.comments.Replies(ctx, alice, 0, true)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "question", threads[0].Comment.Body)
	assert.Equal(t, newsID, threads[0].News.ID)
	require.Len(t, threads[0].Tree[c.CommentID], 1)
	assert.Equal(t, "answer", threads[0].Tree[c.CommentID][0].Body)

	refreshed, err := env.users.GetUserByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), refreshed.Replies)
}

func TestParseID(t *testing.T) {
	newsID, commentID, err := ParseID("12-3")
	require.NoError(t, err)
	assert.Equal(t, int64(12), newsID)
	assert.Equal(t, int64(3), commentID)

	for _, bad := range []string{"", "12", "a-3", "12-b"} {
		_, _, err := ParseID(bad)
		assert.ErrorIs(t, err, apperror.ErrCommentNotFound, bad)
	}
}

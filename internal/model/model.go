package model

import (
	"net/url"
	"strings"
	"time"
)

// VoteType is the direction of a vote. The zero value means no vote.
type VoteType string

const (
	VoteNone VoteType = ""
	VoteUp   VoteType = "up"
	VoteDown VoteType = "down"
)

func (v VoteType) Valid() bool {
	return v == VoteUp || v == VoteDown
}

type User struct {
	ID            int64
	Username      string
	Salt          string
	Password      string
	CreatedAt     time.Time
	Karma         int64
	KarmaIncrTime time.Time
	About         string
	Email         string
	Auth          string
	APISecret     string
	Flags         string
	Replies       int64
}

// HasFlags reports whether every flag letter in flags is set on the user.
func (u User) HasFlags(flags string) bool {
	for _, f := range flags {
		if !strings.ContainsRune(u.Flags, f) {
			return false
		}
	}
	return true
}

func (u User) IsAdmin() bool {
	return u.HasFlags("a")
}

// TextScheme marks a news item whose URL field carries inline text.
const TextScheme = "text://"

type News struct {
	ID        int64
	Title     string
	URL       string
	UserID    int64
	Username  string
	CreatedAt time.Time
	Score     float64
	Rank      float64
	Up        int64
	Down      int64
	Comments  int64
	Deleted   bool
	Voted     VoteType
}

func (n News) IsText() bool {
	return strings.HasPrefix(n.URL, TextScheme)
}

// Text returns the inline text of a text post.
func (n News) Text() string {
	if !n.IsText() {
		return ""
	}
	return strings.TrimPrefix(n.URL, TextScheme)
}

// Domain returns the host of the linked page, empty for text posts.
func (n News) Domain() string {
	if n.IsText() {
		return ""
	}
	u, err := url.Parse(n.URL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Host, "www.")
}

// NewsPage is one page of a ranked listing and the size of the whole listing.
type NewsPage struct {
	News  []News
	Count int64
}

type Comment struct {
	ID        int64
	NewsID    int64
	ParentID  int64
	UserID    int64
	Body      string
	CreatedAt time.Time
	Up        []int64
	Down      []int64
	Deleted   bool

	// Resolved on read. Author is nil when the account no longer exists.
	Author  *User
	Voted   VoteType
	Replies []*Comment
}

// NoParent is the parent id of a top level comment.
const NoParent int64 = -1

func (c Comment) Score() int {
	return len(c.Up) - len(c.Down)
}

// VotedBy returns how userID voted on the comment.
func (c Comment) VotedBy(userID int64) VoteType {
	for _, id := range c.Up {
		if id == userID {
			return VoteUp
		}
	}
	for _, id := range c.Down {
		if id == userID {
			return VoteDown
		}
	}
	return VoteNone
}

// CommentTree groups the comments of one news item by parent id.
type CommentTree map[int64][]*Comment

type CommentOp string

const (
	CommentInserted CommentOp = "insert"
	CommentUpdated  CommentOp = "update"
	CommentDeleted  CommentOp = "delete"
)

type CommentResult struct {
	Op        CommentOp
	NewsID    int64
	CommentID int64
}

// CommentPage is a page of a user's comments and the user's comment total.
type CommentPage struct {
	Comments []Comment
	Count    int64
}

// Thread is a user's comment together with the discussion it belongs to.
type Thread struct {
	Comment Comment
	News    News
	Tree    CommentTree
}

type UserCounters struct {
	PostedNews     int64
	PostedComments int64
}

package httpapp

import (
	"fmt"

	"github.com/alphabot-ai/slashnews/internal/model"
)

// deletedUsername stands in for authors whose account no longer exists.
const deletedUsername = "deleted_user"

type newsView struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Domain   string `json:"domain,omitempty"`
	Username string `json:"username"`
	CTime    int64  `json:"ctime"`
	Up       int64  `json:"up"`
	Down     int64  `json:"down"`
	Comments int64  `json:"comments"`
	Voted    string `json:"voted,omitempty"`
}

func toNewsView(n model.News) newsView {
	return newsView{
		ID:       n.ID,
		Title:    n.Title,
		URL:      n.URL,
		Domain:   n.Domain(),
		Username: n.Username,
		CTime:    n.CreatedAt.Unix(),
		Up:       n.Up,
		Down:     n.Down,
		Comments: n.Comments,
		Voted:    string(n.Voted),
	}
}

func toNewsViews(items []model.News) []newsView {
	views := make([]newsView, 0, len(items))
	for _, n := range items {
		views = append(views, toNewsView(n))
	}
	return views
}

type commentView struct {
	ID       string        `json:"id"`
	NewsID   int64         `json:"news_id"`
	Body     string        `json:"body"`
	Username string        `json:"username"`
	CTime    int64         `json:"ctime"`
	Up       int           `json:"up"`
	Down     int           `json:"down"`
	Voted    string        `json:"voted,omitempty"`
	Deleted  bool          `json:"del,omitempty"`
	Replies  []commentView `json:"replies"`
}

// toCommentView renders c and, recursively, its replies. Deleted comments
// keep their place in the thread but lose their body.
func toCommentView(c *model.Comment) commentView {
	v := commentView{
		ID:       fmt.Sprintf("%d-%d", c.NewsID, c.ID),
		NewsID:   c.NewsID,
		Body:     c.Body,
		Username: deletedUsername,
		CTime:    c.CreatedAt.Unix(),
		Up:       len(c.Up),
		Down:     len(c.Down),
		Voted:    string(c.Voted),
		Deleted:  c.Deleted,
		Replies:  toCommentViews(c.Replies),
	}
	if c.Author != nil {
		v.Username = c.Author.Username
	}
	if c.Deleted {
		v.Body = ""
	}
	return v
}

func toCommentViews(comments []*model.Comment) []commentView {
	views := make([]commentView, 0, len(comments))
	for _, c := range comments {
		views = append(views, toCommentView(c))
	}
	return views
}

type userView struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	CTime    int64  `json:"ctime"`
	Karma    int64  `json:"karma"`
	About    string `json:"about"`

	// Only shown to the user themselves.
	Email   string `json:"email,omitempty"`
	Replies int64  `json:"replies,omitempty"`
}

func toUserView(u model.User, self bool) userView {
	v := userView{
		ID:       u.ID,
		Username: u.Username,
		CTime:    u.CreatedAt.Unix(),
		Karma:    u.Karma,
		About:    u.About,
	}
	if self {
		v.Email = u.Email
		v.Replies = u.Replies
	}
	return v
}

type threadView struct {
	News    newsView    `json:"news"`
	Comment commentView `json:"comment"`
}

func toThreadViews(threads []model.Thread) []threadView {
	views := make([]threadView, 0, len(threads))
	for _, t := range threads {
		c := t.Comment
		c.Replies = t.Tree[c.ID]
		views = append(views, threadView{News: toNewsView(t.News), Comment: toCommentView(&c)})
	}
	return views
}

// Package client provides a Go client for the Slashnews API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a Slashnews API client. Token and APISecret are filled in by
// Login and CreateAccount.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      string
	APISecret  string
}

// Error is a failure reported by the server.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}

type News struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Domain   string `json:"domain"`
	Username string `json:"username"`
	CTime    int64  `json:"ctime"`
	Up       int64  `json:"up"`
	Down     int64  `json:"down"`
	Comments int64  `json:"comments"`
	Voted    string `json:"voted"`
}

type Comment struct {
	ID       string    `json:"id"`
	NewsID   int64     `json:"news_id"`
	Body     string    `json:"body"`
	Username string    `json:"username"`
	CTime    int64     `json:"ctime"`
	Up       int       `json:"up"`
	Down     int       `json:"down"`
	Voted    string    `json:"voted"`
	Deleted  bool      `json:"del"`
	Replies  []Comment `json:"replies"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	CTime    int64  `json:"ctime"`
	Karma    int64  `json:"karma"`
	About    string `json:"about"`
	Email    string `json:"email"`
	Replies  int64  `json:"replies"`
}

type Profile struct {
	User           User  `json:"user"`
	PostedNews     int64 `json:"posted_news"`
	PostedComments int64 `json:"posted_comments"`
}

// CommentResult reports what a postcomment call did.
type CommentResult struct {
	Op        string `json:"op"`
	CommentID int64  `json:"comment_id"`
	ParentID  int64  `json:"parent_id"`
	NewsID    int64  `json:"news_id"`
}

// New creates a new Slashnews client.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) IsAuthenticated() bool {
	return c.Token != ""
}

// CreateAccount registers a new user and logs in as that user.
func (c *Client) CreateAccount(ctx context.Context, username, password string) error {
	var result struct {
		Auth string `json:"auth"`
	}
	if err := c.post(ctx, "/api/create_account", url.Values{"username": {username}, "password": {password}}, &result); err != nil {
		return err
	}
	c.Token = result.Auth
	return c.Login(ctx, username, password)
}

// Login stores the session token and api secret of the user.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var result struct {
		Auth      string `json:"auth"`
		APISecret string `json:"apisecret"`
	}
	if err := c.get(ctx, "/api/login", url.Values{"username": {username}, "password": {password}}, &result); err != nil {
		return err
	}
	c.Token, c.APISecret = result.Auth, result.APISecret
	return nil
}

// Logout invalidates the session token on the server.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.post(ctx, "/api/logout", url.Values{}, nil); err != nil {
		return err
	}
	c.Token, c.APISecret = "", ""
	return nil
}

func (c *Client) UpdateProfile(ctx context.Context, about, email, password string) (User, error) {
	var result struct {
		User User `json:"user"`
	}
	form := url.Values{"about": {about}, "email": {email}, "password": {password}}
	err := c.post(ctx, "/api/updateprofile", form, &result)
	return result.User, err
}

// Submit posts a link, or a text post when link is empty, and returns its id.
// Submitting a recently posted link returns the existing item's id.
func (c *Client) Submit(ctx context.Context, title, link, text string) (int64, error) {
	return c.submit(ctx, -1, title, link, text)
}

func (c *Client) Edit(ctx context.Context, newsID int64, title, link, text string) (int64, error) {
	return c.submit(ctx, newsID, title, link, text)
}

func (c *Client) submit(ctx context.Context, newsID int64, title, link, text string) (int64, error) {
	var result struct {
		NewsID int64 `json:"news_id"`
	}
	form := url.Values{
		"news_id": {strconv.FormatInt(newsID, 10)},
		"title":   {title},
		"url":     {link},
		"text":    {text},
	}
	err := c.post(ctx, "/api/submit", form, &result)
	return result.NewsID, err
}

func (c *Client) DeleteNews(ctx context.Context, newsID int64) error {
	return c.post(ctx, "/api/delnews", url.Values{"news_id": {strconv.FormatInt(newsID, 10)}}, nil)
}

// VoteNews casts an "up" or "down" vote and returns the item's new rank.
func (c *Client) VoteNews(ctx context.Context, newsID int64, direction string) (float64, error) {
	var result struct {
		Rank float64 `json:"rank"`
	}
	form := url.Values{"news_id": {strconv.FormatInt(newsID, 10)}, "vote_type": {direction}}
	err := c.post(ctx, "/api/votenews", form, &result)
	return result.Rank, err
}

// GetNews lists news sorted by "top" or "latest" and returns the listing size.
func (c *Client) GetNews(ctx context.Context, sort string, start, count int) ([]News, int64, error) {
	var result struct {
		News  []News `json:"news"`
		Count int64  `json:"count"`
	}
	path := fmt.Sprintf("/api/getnews/%s/%d/%d", url.PathEscape(sort), start, count)
	err := c.get(ctx, path, nil, &result)
	return result.News, result.Count, err
}

func (c *Client) Saved(ctx context.Context, start, count int) ([]News, int64, error) {
	var result struct {
		News  []News `json:"news"`
		Count int64  `json:"count"`
	}
	err := c.get(ctx, fmt.Sprintf("/api/saved/%d/%d", start, count), nil, &result)
	return result.News, result.Count, err
}

// PostComment adds a comment; parentID is -1 for a top level comment.
func (c *Client) PostComment(ctx context.Context, newsID, parentID int64, body string) (CommentResult, error) {
	return c.handleComment(ctx, newsID, -1, parentID, body)
}

// EditComment replaces the body of a comment. An empty body deletes it.
func (c *Client) EditComment(ctx context.Context, newsID, commentID int64, body string) (CommentResult, error) {
	return c.handleComment(ctx, newsID, commentID, -1, body)
}

func (c *Client) handleComment(ctx context.Context, newsID, commentID, parentID int64, body string) (CommentResult, error) {
	var result CommentResult
	form := url.Values{
		"news_id":    {strconv.FormatInt(newsID, 10)},
		"comment_id": {strconv.FormatInt(commentID, 10)},
		"parent_id":  {strconv.FormatInt(parentID, 10)},
		"comment":    {body},
	}
	err := c.post(ctx, "/api/postcomment", form, &result)
	return result, err
}

// VoteComment votes on a comment addressed as "<newsID>-<commentID>".
func (c *Client) VoteComment(ctx context.Context, id, direction string) error {
	return c.post(ctx, "/api/votecomment", url.Values{"comment_id": {id}, "vote_type": {direction}}, nil)
}

// GetComments returns a news item and its top level comments with replies.
func (c *Client) GetComments(ctx context.Context, newsID int64) (News, []Comment, error) {
	var result struct {
		News     News      `json:"news"`
		Comments []Comment `json:"comments"`
	}
	err := c.get(ctx, fmt.Sprintf("/api/getcomments/%d", newsID), nil, &result)
	return result.News, result.Comments, err
}

func (c *Client) GetUser(ctx context.Context, username string) (Profile, error) {
	var result Profile
	err := c.get(ctx, "/api/user/"+url.PathEscape(username), nil, &result)
	return result, err
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	if c.APISecret != "" {
		form.Set("apisecret", c.APISecret)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("X-Auth-Token", c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var envelope struct {
		Status string `json:"status"`
		Error  string `json:"error"`
		Code   string `json:"code"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%s %s failed (%d): %s", req.Method, req.URL.Path, resp.StatusCode, string(raw))
	}
	if envelope.Status != "ok" {
		return &Error{StatusCode: resp.StatusCode, Code: envelope.Code, Message: envelope.Error}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

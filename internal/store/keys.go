package store

import (
	"strconv"
	"strings"
)

// Key layout shared by every backend.
const (
	UsersCountKey = "users.count"
	NewsCountKey  = "news.count"
	NewsTopKey    = "news.top"
	NewsCronKey   = "news.cron"
)

func id(n int64) string { return strconv.FormatInt(n, 10) }

func UserKey(userID int64) string { return "user:" + id(userID) }
func UsernameKey(username string) string { return "username.to.id:" + strings.ToLower(username) }
func AuthKey(token string) string { return "auth:" + token }
func NewsKey(newsID int64) string { return "news:" + id(newsID) }
func NewsUpKey(newsID int64) string { return "news.up:" + id(newsID) }
func NewsDownKey(newsID int64) string { return "news.down:" + id(newsID) }
func URLKey(url string) string { return "url:" + url }
func SavedKey(userID int64) string { return "user.saved:" + id(userID) }
func PostedKey(userID int64) string { return "user.posted:" + id(userID) }
func UserCommentsKey(userID int64) string { return "user.comments:" + id(userID) }
func ThreadKey(newsID int64) string { return "thread:comment:" + id(newsID) }
func SubmittedRecentlyKey(userID int64) string { return "user:" + id(userID) + ":submitted_recently" }

// LimitKey joins rate limit tags into a single lock key.
func LimitKey(tags ...string) string { return "limit:" + strings.Join(tags, ".") }

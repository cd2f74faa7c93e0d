package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr         string
	StoreBackend string
	RedisURL     string
	DBPath       string
	LogLevel     string
	LogFormat    string
	Options      Options
}

// Options are the tunables the engine reads. The zero value is not useful;
// start from DefaultOptions.
type Options struct {
	PasswordMinLength  int
	PasswordHash       string
	PasswordIterations int
	PasswordKeyLength  int

	CommentMaxLength        int
	CommentEditTime         time.Duration
	UserCommentsPerPage     int
	SubthreadsInRepliesPage int

	UserInitialKarma       int64
	KarmaIncrementInterval time.Duration
	KarmaIncrementAmount   int64

	NewsDownvoteMinKarma      int64
	NewsDownvoteKarmaCost     int64
	NewsUpvoteMinKarma        int64
	NewsUpvoteKarmaCost       int64
	NewsUpvoteKarmaTransfered int64

	NewsAgePadding      time.Duration
	TopNewsPerPage      int
	LatestNewsPerPage   int
	SavedNewsPerPage    int
	NewsEditTime        time.Duration
	NewsScoreLogStart   float64
	NewsScoreLogBooster float64
	RankAgingFactor     float64
	PreventRepostTime   time.Duration
	NewsSubmissionBreak time.Duration
	APIMaxNewsCount     int

	CreateAccountDelay time.Duration
	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool
}

func DefaultOptions() Options {
	return Options{
		PasswordMinLength:  8,
		PasswordHash:       "sha1",
		PasswordIterations: 1000,
		PasswordKeyLength:  20,

		CommentMaxLength:        4096,
		CommentEditTime:         2 * time.Hour,
		UserCommentsPerPage:     10,
		SubthreadsInRepliesPage: 10,

		UserInitialKarma:       1,
		KarmaIncrementInterval: 3 * time.Hour,
		KarmaIncrementAmount:   1,

		NewsDownvoteMinKarma:      30,
		NewsDownvoteKarmaCost:     6,
		NewsUpvoteMinKarma:        0,
		NewsUpvoteKarmaCost:       1,
		NewsUpvoteKarmaTransfered: 1,

		NewsAgePadding:      8 * time.Hour,
		TopNewsPerPage:      30,
		LatestNewsPerPage:   100,
		SavedNewsPerPage:    10,
		NewsEditTime:        15 * time.Minute,
		NewsScoreLogStart:   10,
		NewsScoreLogBooster: 2,
		RankAgingFactor:     2.2,
		PreventRepostTime:   48 * time.Hour,
		NewsSubmissionBreak: 15 * time.Minute,
		APIMaxNewsCount:     32,

		CreateAccountDelay: 15 * time.Hour,
	}
}

// Load reads the configuration from the environment, after loading a .env
// file from the working directory when one exists.
func Load() Config {
	_ = godotenv.Load()

	addr := envString("SLASHNEWS_ADDR", "")
	if addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			addr = ":" + port
		} else {
			addr = ":8080"
		}
	}
	return Config{
		Addr:         addr,
		StoreBackend: envString("SLASHNEWS_STORE", "redis"),
		RedisURL:     envString("SLASHNEWS_REDIS_URL", "redis://localhost:6379/0"),
		DBPath:       envString("SLASHNEWS_DB", "slashnews.db"),
		LogLevel:     envString("SLASHNEWS_LOG_LEVEL", "info"),
		LogFormat:    envString("SLASHNEWS_LOG_FORMAT", "text"),
		Options:      loadOptions(DefaultOptions()),
	}
}

func loadOptions(def Options) Options {
	return Options{
		PasswordMinLength:  envInt("SLASHNEWS_PASSWORD_MIN_LENGTH", def.PasswordMinLength),
		PasswordHash:       envString("SLASHNEWS_PASSWORD_HASH", def.PasswordHash),
		PasswordIterations: envInt("SLASHNEWS_PASSWORD_ITERATIONS", def.PasswordIterations),
		PasswordKeyLength:  envInt("SLASHNEWS_PASSWORD_KEY_LENGTH", def.PasswordKeyLength),

		CommentMaxLength:        envInt("SLASHNEWS_COMMENT_MAX_LENGTH", def.CommentMaxLength),
		CommentEditTime:         envDuration("SLASHNEWS_COMMENT_EDIT_TIME", def.CommentEditTime),
		UserCommentsPerPage:     envInt("SLASHNEWS_USER_COMMENTS_PER_PAGE", def.UserCommentsPerPage),
		SubthreadsInRepliesPage: envInt("SLASHNEWS_SUBTHREADS_IN_REPLIES_PAGE", def.SubthreadsInRepliesPage),

		UserInitialKarma:       envInt64("SLASHNEWS_USER_INITIAL_KARMA", def.UserInitialKarma),
		KarmaIncrementInterval: envDuration("SLASHNEWS_KARMA_INCREMENT_INTERVAL", def.KarmaIncrementInterval),
		KarmaIncrementAmount:   envInt64("SLASHNEWS_KARMA_INCREMENT_AMOUNT", def.KarmaIncrementAmount),

		NewsDownvoteMinKarma:      envInt64("SLASHNEWS_NEWS_DOWNVOTE_MIN_KARMA", def.NewsDownvoteMinKarma),
		NewsDownvoteKarmaCost:     envInt64("SLASHNEWS_NEWS_DOWNVOTE_KARMA_COST", def.NewsDownvoteKarmaCost),
		NewsUpvoteMinKarma:        envInt64("SLASHNEWS_NEWS_UPVOTE_MIN_KARMA", def.NewsUpvoteMinKarma),
		NewsUpvoteKarmaCost:       envInt64("SLASHNEWS_NEWS_UPVOTE_KARMA_COST", def.NewsUpvoteKarmaCost),
		NewsUpvoteKarmaTransfered: envInt64("SLASHNEWS_NEWS_UPVOTE_KARMA_TRANSFERED", def.NewsUpvoteKarmaTransfered),

		NewsAgePadding:      envDuration("SLASHNEWS_NEWS_AGE_PADDING", def.NewsAgePadding),
		TopNewsPerPage:      envInt("SLASHNEWS_TOP_NEWS_PER_PAGE", def.TopNewsPerPage),
		LatestNewsPerPage:   envInt("SLASHNEWS_LATEST_NEWS_PER_PAGE", def.LatestNewsPerPage),
		SavedNewsPerPage:    envInt("SLASHNEWS_SAVED_NEWS_PER_PAGE", def.SavedNewsPerPage),
		NewsEditTime:        envDuration("SLASHNEWS_NEWS_EDIT_TIME", def.NewsEditTime),
		NewsScoreLogStart:   envFloat("SLASHNEWS_NEWS_SCORE_LOG_START", def.NewsScoreLogStart),
		NewsScoreLogBooster: envFloat("SLASHNEWS_NEWS_SCORE_LOG_BOOSTER", def.NewsScoreLogBooster),
		RankAgingFactor:     envFloat("SLASHNEWS_RANK_AGING_FACTOR", def.RankAgingFactor),
		PreventRepostTime:   envDuration("SLASHNEWS_PREVENT_REPOST_TIME", def.PreventRepostTime),
		NewsSubmissionBreak: envDuration("SLASHNEWS_NEWS_SUBMISSION_BREAK", def.NewsSubmissionBreak),
		APIMaxNewsCount:     envInt("SLASHNEWS_API_MAX_NEWS_COUNT", def.APIMaxNewsCount),

		CreateAccountDelay: envDuration("SLASHNEWS_CREATE_ACCOUNT_DELAY", def.CreateAccountDelay),
		TrustProxyHeaders:  envBool("SLASHNEWS_TRUSTED_PROXY", def.TrustProxyHeaders),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

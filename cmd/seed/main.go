package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/alphabot-ai/slashnews/internal/auth"
	"github.com/alphabot-ai/slashnews/internal/comment"
	"github.com/alphabot-ai/slashnews/internal/config"
	"github.com/alphabot-ai/slashnews/internal/logging"
	"github.com/alphabot-ai/slashnews/internal/model"
	"github.com/alphabot-ai/slashnews/internal/news"
	"github.com/alphabot-ai/slashnews/internal/store"
	redisstore "github.com/alphabot-ai/slashnews/internal/store/redis"
	"github.com/alphabot-ai/slashnews/internal/store/sqlite"
)

const seedKarma = 50

var users = []struct {
	name  string
	about string
}{
	{"antirez", "Writes small programs that do one thing"},
	{"ada", "Analytical engines and other hobbies"},
	{"grace", "Compilers, mostly"},
	{"linus", "Just for fun"},
	{"margaret", "Software engineering before it had a name"},
}

var stories = []struct {
	title string
	url   string
}{
	{"Show SN: A news site that fits in a single process", "https://github.com/example/slashnews"},
	{"Ranking news with a gravity function", "https://example.com/ranking-gravity"},
	{"Why sorted sets are the best data structure you are not using", "https://example.com/sorted-sets"},
	{"Ask SN: How do you keep discussions civil?", ""},
	{"PBKDF2 in 2026: still good enough?", "https://example.com/pbkdf2"},
	{"How we scaled comment threads to a million replies", "https://example.com/scaling-threads"},
	{"The case for plain text on the web", "https://example.com/plain-text"},
	{"Rate limiting with nothing but expiring keys", "https://example.com/rate-limits"},
	{"Show SN: A terminal reader for your favorite news site", "https://example.com/terminal-reader"},
	{"Karma systems and their discontents", "https://example.com/karma"},
}

var comments = []string{
	"Great write-up, thanks for sharing.",
	"I disagree with the premise here.",
	"Has anyone benchmarked this? I'd love to see numbers.",
	"This reminds me of the early days of the web.",
	"Interesting take. I wonder how this scales.",
	"I've been working on something similar. Happy to compare notes.",
	"Can you share more details about the implementation?",
	"Upvoted for visibility.",
	"I tried this and it works great!",
	"Not sure I agree, but appreciate the perspective.",
	"Would love to see a follow-up post on this topic.",
	"The code looks clean. Nice work!",
}

func main() {
	span := flag.Duration("span", 24*time.Hour, "Spread submissions over this much past time")
	flag.Parse()

	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	st, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	opts := cfg.Options
	opts.NewsSubmissionBreak = 0

	step := *span / time.Duration(len(stories)+1)
	clock := clockwork.NewFakeClockAt(time.Now().Add(-*span))
	accounts, err := auth.NewService(st, clock, opts)
	if err != nil {
		slog.Error("failed to initialize accounts", "error", err)
		os.Exit(1)
	}
	newsSvc := news.NewService(st, accounts, clock, opts)
	commentSvc := comment.NewService(st, accounts, newsSvc, clock, opts)

	slog.Info("seeding store", "backend", cfg.StoreBackend)

	var members []model.User
	for _, u := range users {
		if _, err := accounts.CreateAccount(ctx, u.name, u.name+"-password"); err != nil {
			slog.Error("create account", "username", u.name, "error", err)
			os.Exit(1)
		}
		user, err := accounts.GetUserByUsername(ctx, u.name)
		if err != nil {
			slog.Error("load account", "username", u.name, "error", err)
			os.Exit(1)
		}
		if user, err = accounts.UpdateProfile(ctx, user, u.about, "", ""); err != nil {
			slog.Warn("update profile", "username", u.name, "error", err)
		}
		if _, err := accounts.AdjustKarma(ctx, user.ID, seedKarma); err != nil {
			slog.Warn("adjust karma", "username", u.name, "error", err)
		}
		slog.Info("created user", "username", u.name, "id", user.ID)
		members = append(members, user)
	}

	var newsIDs []int64
	for _, s := range stories {
		author := members[rand.Intn(len(members))]
		text := ""
		if s.url == "" {
			text = "A text post where people can share their thoughts and ask the community. What do you all think?"
		}
		id, err := newsSvc.Submit(ctx, author, s.title, s.url, text)
		if err != nil {
			slog.Warn("submit failed", "title", s.title, "error", err)
			continue
		}
		newsIDs = append(newsIDs, id)
		slog.Info("posted news", "id", id, "title", s.title, "by", author.Username)
		clock.Advance(step)
	}
	if len(newsIDs) == 0 {
		slog.Error("no news posted")
		os.Exit(1)
	}

	posted := 0
	for _, newsID := range newsIDs {
		for i := rand.Intn(4) + 1; i > 0; i-- {
			author := members[rand.Intn(len(members))]
			res, err := commentSvc.Handle(ctx, author, newsID, -1, -1, comments[rand.Intn(len(comments))])
			if err != nil {
				slog.Warn("comment failed", "news_id", newsID, "error", err)
				continue
			}
			posted++

			if rand.Float32() < 0.3 {
				replier := members[rand.Intn(len(members))]
				if _, err := commentSvc.Handle(ctx, replier, newsID, -1, res.CommentID, comments[rand.Intn(len(comments))]); err != nil {
					slog.Warn("reply failed", "news_id", newsID, "error", err)
					continue
				}
				posted++
			}
		}
	}
	slog.Info("posted comments", "count", posted)

	votes := 0
	for _, voter := range members {
		for i := rand.Intn(len(newsIDs)/2+1) + 1; i > 0; i-- {
			newsID := newsIDs[rand.Intn(len(newsIDs))]
			direction := model.VoteUp
			if rand.Float32() < 0.2 {
				direction = model.VoteDown
			}
			// Authors already upvoted their own news.
			if _, err := newsSvc.Vote(ctx, newsID, voter.ID, direction); err != nil {
				continue
			}
			votes++
		}
	}
	slog.Info("cast votes", "count", votes)

	fmt.Println("\n=== Seed Complete ===")
	fmt.Printf("Users:    %d\n", len(members))
	fmt.Printf("News:     %d\n", len(newsIDs))
	fmt.Printf("Comments: %d\n", posted)
	fmt.Printf("Votes:    %d\n", votes)
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "redis":
		st, err := redisstore.Open(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "sqlite":
		st, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

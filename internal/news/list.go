package news

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/alphabot-ai/slashnews/internal/apperror"
	"github.com/alphabot-ai/slashnews/internal/model"
	"github.com/alphabot-ai/slashnews/internal/rank"
	"github.com/alphabot-ai/slashnews/internal/store"
)

// View selects a ranked listing.
type View int

const (
	ViewTop View = iota
	ViewLatest
)

func (v View) String() string {
	switch v {
	case ViewTop:
		return "top"
	case ViewLatest:
		return "latest"
	default:
		return "unknown"
	}
}

func ParseView(s string) (View, error) {
	switch s {
	case "top":
		return ViewTop, nil
	case "latest":
		return ViewLatest, nil
	default:
		return 0, apperror.ErrUnknownView
	}
}

type listFunc func(s *Service, ctx context.Context, viewer *model.User, start, count int) (model.NewsPage, error)

var listings = map[View]listFunc{
	ViewTop:    (*Service).Top,
	ViewLatest: (*Service).Latest,
}

// List returns a page of the listing selected by view.
func (s *Service) List(ctx context.Context, view View, viewer *model.User, start, count int) (model.NewsPage, error) {
	list, ok := listings[view]
	if !ok {
		return model.NewsPage{}, apperror.ErrUnknownView
	}
	return list(s, ctx, viewer, start, count)
}

// Top returns news by rank. Ranks read on the way are refreshed, and the page
// is ordered by the refreshed values.
func (s *Service) Top(ctx context.Context, viewer *model.User, start, count int) (model.NewsPage, error) {
	page, err := s.page(ctx, viewer, store.NewsTopKey, start, count, s.opts.TopNewsPerPage, true)
	if err != nil {
		return page, err
	}
	sort.SliceStable(page.News, func(i, j int) bool {
		return page.News[i].Rank > page.News[j].Rank
	})
	return page, nil
}

// Latest returns news by submission time, newest first.
func (s *Service) Latest(ctx context.Context, viewer *model.User, start, count int) (model.NewsPage, error) {
	return s.page(ctx, viewer, store.NewsCronKey, start, count, s.opts.LatestNewsPerPage, true)
}

// Saved returns the news the user upvoted, most recent vote first.
func (s *Service) Saved(ctx context.Context, user model.User, start, count int) (model.NewsPage, error) {
	return s.page(ctx, &user, store.SavedKey(user.ID), start, count, s.opts.SavedNewsPerPage, false)
}

// Submitted returns the news posted by authorID, newest first.
func (s *Service) Submitted(ctx context.Context, viewer *model.User, authorID int64, start, count int) (model.NewsPage, error) {
	return s.page(ctx, viewer, store.PostedKey(authorID), start, count, s.opts.LatestNewsPerPage, false)
}

func (s *Service) page(ctx context.Context, viewer *model.User, key string, start, count, perPage int, refresh bool) (model.NewsPage, error) {
	if start < 0 {
		start = 0
	}
	if count <= 0 {
		count = perPage
	}
	members, err := s.store.ZRevRange(ctx, key, int64(start), int64(start+count-1))
	if err != nil {
		return model.NewsPage{}, err
	}
	total, err := s.store.ZCard(ctx, key)
	if err != nil {
		return model.NewsPage{}, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		if id, err := strconv.ParseInt(m, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	items, err := s.get(ctx, viewer, refresh, ids)
	if err != nil {
		return model.NewsPage{}, err
	}
	return model.NewsPage{News: items, Count: total}, nil
}

// Get loads news items in the given order, skipping ids that do not exist.
func (s *Service) Get(ctx context.Context, viewer *model.User, ids ...int64) ([]model.News, error) {
	return s.get(ctx, viewer, false, ids)
}

func (s *Service) GetByID(ctx context.Context, viewer *model.User, id int64) (model.News, error) {
	items, err := s.get(ctx, viewer, false, []int64{id})
	if err != nil {
		return model.News{}, err
	}
	if len(items) == 0 {
		return model.News{}, apperror.ErrNewsNotFound
	}
	return items[0], nil
}

func (s *Service) get(ctx context.Context, viewer *model.User, refresh bool, ids []int64) ([]model.News, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ops := make([]store.Op, len(ids))
	for i, id := range ids {
		ops[i] = store.HGetAllOp(store.NewsKey(id))
	}
	results, err := s.store.Batch(ctx, ops)
	if err != nil {
		return nil, err
	}
	items := make([]model.News, 0, len(ids))
	for _, r := range results {
		if r.Err != nil || !r.Found {
			continue
		}
		if item, ok := parseNews(r.Hash); ok {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return items, nil
	}

	if refresh {
		s.refreshRanks(ctx, items)
	}
	if err := s.annotate(ctx, viewer, items); err != nil {
		return nil, err
	}
	return items, nil
}

// refreshRanks recomputes the rank of each item and writes back the ones that
// drifted. A failed write leaves the cached rank in place.
func (s *Service) refreshRanks(ctx context.Context, items []model.News) {
	now := s.clock.Now()
	var ops []store.Op
	for i := range items {
		fresh := s.params.Rank(items[i].Score, items[i].CreatedAt, now)
		if !rank.Stale(items[i].Rank, fresh) {
			continue
		}
		items[i].Rank = fresh
		if items[i].Deleted {
			continue
		}
		ops = append(ops,
			store.HSetOp(store.NewsKey(items[i].ID), map[string]string{"rank": formatFloat(fresh)}),
			store.ZAddOp(store.NewsTopKey, fresh, strconv.FormatInt(items[i].ID, 10)),
		)
	}
	if len(ops) == 0 {
		return
	}
	if _, err := s.store.Batch(ctx, ops); err != nil {
		slog.Warn("rank refresh failed", "items", len(ops)/2, "error", err)
	}
}

// annotate fills in author names and, with a viewer, the viewer's votes.
func (s *Service) annotate(ctx context.Context, viewer *model.User, items []model.News) error {
	ops := make([]store.Op, 0, len(items)*3)
	for _, item := range items {
		ops = append(ops, store.HGetOp(store.UserKey(item.UserID), "username"))
	}
	if viewer != nil {
		member := strconv.FormatInt(viewer.ID, 10)
		for _, item := range items {
			ops = append(ops,
				store.ZScoreOp(store.NewsUpKey(item.ID), member),
				store.ZScoreOp(store.NewsDownKey(item.ID), member),
			)
		}
	}
	results, err := s.store.Batch(ctx, ops)
	if err != nil {
		return err
	}
	for i := range items {
		items[i].Username = results[i].Value
		if viewer == nil {
			continue
		}
		up, down := results[len(items)+2*i], results[len(items)+2*i+1]
		switch {
		case up.Found:
			items[i].Voted = model.VoteUp
		case down.Found:
			items[i].Voted = model.VoteDown
		}
	}
	return nil
}

func parseNews(h map[string]string) (model.News, bool) {
	id, err := strconv.ParseInt(h["id"], 10, 64)
	if err != nil {
		return model.News{}, false
	}
	return model.News{
		ID:        id,
		Title:     h["title"],
		URL:       h["url"],
		UserID:    parseInt(h["user_id"]),
		CreatedAt: time.Unix(parseInt(h["ctime"]), 0),
		Score:     parseFloat(h["score"]),
		Rank:      parseFloat(h["rank"]),
		Up:        parseInt(h["up"]),
		Down:      parseInt(h["down"]),
		Comments:  parseInt(h["comments"]),
		Deleted:   h["del"] == "1",
	}, true
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

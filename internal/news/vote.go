package news

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/alphabot-ai/slashnews/internal/apperror"
	"github.com/alphabot-ai/slashnews/internal/metrics"
	"github.com/alphabot-ai/slashnews/internal/model"
	"github.com/alphabot-ai/slashnews/internal/store"
)

// Vote records voterID's vote on a news item, moves karma between voter and
// author, and returns the item's new rank.
//
// The check, record and recompute steps are separate store calls. Concurrent
// votes on one item can leave the cached score briefly behind the vote sets;
// the next vote or rank refresh catches it up. A user can still only vote
// once, since the ZADD on the vote set is the deciding write.
func (s *Service) Vote(ctx context.Context, newsID, voterID int64, direction model.VoteType) (float64, error) {
	r, err := s.vote(ctx, newsID, voterID, direction)
	metrics.VotesTotal.WithLabelValues("news", string(direction), metrics.Result(err)).Inc()
	return r, err
}

func (s *Service) vote(ctx context.Context, newsID, voterID int64, direction model.VoteType) (float64, error) {
	if !direction.Valid() {
		return 0, apperror.ErrInvalidVoteType
	}
	voter, err := s.users.GetUserByID(ctx, voterID)
	if err != nil {
		return 0, err
	}
	h, err := s.store.HGetAll(ctx, store.NewsKey(newsID))
	if err != nil {
		return 0, err
	}
	item, ok := parseNews(h)
	if !ok || item.Deleted {
		return 0, apperror.ErrNewsNotFound
	}

	member := strconv.FormatInt(voter.ID, 10)
	cast, err := s.store.Batch(ctx, []store.Op{
		store.ZScoreOp(store.NewsUpKey(newsID), member),
		store.ZScoreOp(store.NewsDownKey(newsID), member),
	})
	if err != nil {
		return 0, err
	}
	if cast[0].Found || cast[1].Found {
		return 0, apperror.ErrDuplicateVote
	}

	selfVote := voter.ID == item.UserID
	if !selfVote {
		minKarma := s.opts.NewsUpvoteMinKarma
		if direction == model.VoteDown {
			minKarma = s.opts.NewsDownvoteMinKarma
		}
		if voter.Karma < minKarma {
			return 0, apperror.ErrInsufficientKarma.With("you don't have enough karma to vote %s", direction)
		}
	}

	now := s.clock.Now()
	setKey := store.NewsUpKey(newsID)
	if direction == model.VoteDown {
		setKey = store.NewsDownKey(newsID)
	}
	added, err := s.store.ZAdd(ctx, setKey, float64(now.Unix()), member)
	if err != nil {
		return 0, err
	}
	if !added {
		return 0, apperror.ErrDuplicateVote
	}
	if _, err := s.store.HIncrBy(ctx, store.NewsKey(newsID), string(direction), 1); err != nil {
		return 0, err
	}
	if direction == model.VoteUp {
		if _, err := s.store.ZAdd(ctx, store.SavedKey(voter.ID), float64(now.Unix()), strconv.FormatInt(newsID, 10)); err != nil {
			return 0, err
		}
	}

	r, err := s.rescore(ctx, item)
	if err != nil {
		return 0, err
	}

	if !selfVote {
		if err := s.transferKarma(ctx, voter.ID, item.UserID, direction); err != nil {
			return 0, err
		}
	}
	return r, nil
}

// rescore recomputes score and rank from the vote sets and persists both.
func (s *Service) rescore(ctx context.Context, item model.News) (float64, error) {
	counts, err := s.store.Batch(ctx, []store.Op{
		store.ZCardOp(store.NewsUpKey(item.ID)),
		store.ZCardOp(store.NewsDownKey(item.ID)),
	})
	if err != nil {
		return 0, err
	}
	for _, c := range counts {
		if c.Err != nil {
			return 0, c.Err
		}
	}
	score := s.params.Score(counts[0].Int, counts[1].Int)
	r := s.params.Rank(score, item.CreatedAt, s.clock.Now())
	results, err := s.store.Batch(ctx, []store.Op{
		store.HSetOp(store.NewsKey(item.ID), map[string]string{
			"score": formatFloat(score),
			"rank":  formatFloat(r),
		}),
		store.ZAddOp(store.NewsTopKey, r, strconv.FormatInt(item.ID, 10)),
	})
	if err != nil {
		return 0, err
	}
	for _, res := range results {
		if res.Err != nil {
			return 0, res.Err
		}
	}
	return r, nil
}

func (s *Service) transferKarma(ctx context.Context, voterID, authorID int64, direction model.VoteType) error {
	if direction == model.VoteUp {
		if _, err := s.users.AdjustKarma(ctx, voterID, -s.opts.NewsUpvoteKarmaCost); err != nil {
			return err
		}
		if _, err := s.users.AdjustKarma(ctx, authorID, s.opts.NewsUpvoteKarmaTransfered); err != nil {
			return err
		}
	} else {
		if _, err := s.users.AdjustKarma(ctx, voterID, -s.opts.NewsDownvoteKarmaCost); err != nil {
			return err
		}
	}
	slog.Debug("karma transferred", "voter_id", voterID, "author_id", authorID, "direction", direction)
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

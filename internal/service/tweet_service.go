package service

import (
	"context"
	"errors"

	"github.com/d60-Lab/ghostreply/internal/model"
	"github.com/d60-Lab/ghostreply/internal/repository"
)

type TweetService interface {
	List(ctx context.Context, page, pageSize int) ([]*model.Tweet, int64, error)
	Get(ctx context.Context, id string) (*model.Tweet, error)
}

type tweetService struct {
	tweets repository.TweetRepository
}

func NewTweetService(tweets repository.TweetRepository) TweetService {
	return &tweetService{tweets: tweets}
}

func (s *tweetService) List(ctx context.Context, page, pageSize int) ([]*model.Tweet, int64, error) {
	offset, limit := pagination(page, pageSize)
	items, err := s.tweets.List(ctx, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.tweets.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *tweetService) Get(ctx context.Context, id string) (*model.Tweet, error) {
	t, err := s.tweets.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTweetNotFound
	}
	return t, err
}

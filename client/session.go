package client

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/capstone/core"
	"github.com/trezcool/capstone/core/notification"
)

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = 30 * time.Second
)

type SessionOptions struct {
	Client *Client
	Cache  *Cache
	Logger core.Logger

	OnToast func(v notification.View) // optional; called once per newly surfaced record
	OnBadge func(unread int)          // optional; called whenever the unread count may have changed

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Session keeps one user's cache in line with the store: it reconciles through the list
// endpoint when it connects and after every reconnect, and merges pushes in between.
type Session struct {
	client     *Client
	cache      *Cache
	logger     core.Logger
	onToast    func(v notification.View)
	onBadge    func(unread int)
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewSession(opts SessionOptions) *Session {
	s := &Session{
		client:     opts.Client,
		cache:      opts.Cache,
		logger:     opts.Logger,
		onToast:    opts.OnToast,
		onBadge:    opts.OnBadge,
		minBackoff: opts.MinBackoff,
		maxBackoff: opts.MaxBackoff,
	}
	if s.minBackoff <= 0 {
		s.minBackoff = defaultMinBackoff
	}
	if s.maxBackoff < s.minBackoff {
		s.maxBackoff = defaultMaxBackoff
	}
	if s.maxBackoff < s.minBackoff {
		s.maxBackoff = s.minBackoff
	}
	return s
}

// Run keeps the session connected until ctx is done.
// The reconnection delay advertised by the server is the lowest backoff used, within MaxBackoff.
func (s *Session) Run(ctx context.Context) error {
	var retry time.Duration
	backoff := s.minBackoff
	for {
		connected, advertised, err := s.connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if advertised > 0 {
			retry = advertised
		}
		floor := s.floor(retry)
		if connected || backoff < floor {
			backoff = floor
		}
		s.logger.Warn(fmt.Sprintf("notification stream lost, reconnecting in %s", backoff), err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

func (s *Session) floor(retry time.Duration) time.Duration {
	switch {
	case retry > s.maxBackoff:
		return s.maxBackoff
	case retry > s.minBackoff:
		return retry
	}
	return s.minBackoff
}

// connect opens the stream, reconciles, then merges pushes until the stream breaks.
// It also returns the retry delay the server advertised, if any.
func (s *Session) connect(ctx context.Context) (bool, time.Duration, error) {
	stream, err := s.client.Stream(ctx)
	if err != nil {
		return false, 0, err
	}
	defer stream.Close()

	// the subscription is live before listing, so nothing falls between the two
	if err = s.Reconcile(ctx); err != nil {
		return false, 0, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = stream.Close()
		case <-done:
		}
	}()

	for {
		v, err := stream.Next()
		if err != nil {
			if err == io.EOF {
				err = errors.New("stream closed by server")
			}
			return true, stream.Retry(), err
		}
		s.merge(v)
	}
}

// Reconcile replaces the cached records with the authoritative listing.
func (s *Session) Reconcile(ctx context.Context) error {
	lst, err := s.client.List(ctx)
	if err != nil {
		return errors.Wrap(err, "reconciling notifications")
	}
	fresh, err := s.cache.Reconcile(lst)
	if err != nil {
		s.logger.Error("persisting notification cache", err)
	}
	s.surface(fresh)
	return nil
}

func (s *Session) merge(views ...notification.View) {
	fresh, err := s.cache.Merge(views...)
	if err != nil {
		s.logger.Error("persisting notification cache", err)
	}
	s.surface(fresh)
}

func (s *Session) surface(fresh []notification.View) {
	if s.onToast != nil {
		for _, v := range fresh {
			s.onToast(v)
		}
	}
	if s.onBadge != nil {
		s.onBadge(s.cache.UnreadCount())
	}
}

func (s *Session) UnreadCount() int {
	return s.cache.UnreadCount()
}

func (s *Session) Records() []notification.View {
	return s.cache.Records()
}

func (s *Session) MarkRead(ctx context.Context, id string) error {
	v, err := s.client.MarkRead(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			s.cache.Remove(id)
			s.surface(nil)
		}
		return err
	}
	s.merge(v)
	return nil
}

func (s *Session) MarkAllRead(ctx context.Context) error {
	lst, err := s.client.MarkAllRead(ctx)
	if err != nil {
		return err
	}
	fresh, err := s.cache.Reconcile(lst)
	if err != nil {
		s.logger.Error("persisting notification cache", err)
	}
	s.surface(fresh)
	return nil
}

func (s *Session) Delete(ctx context.Context, id string) error {
	if err := s.client.Delete(ctx, id); err != nil && !IsNotFound(err) {
		return err
	}
	s.cache.Remove(id)
	s.surface(nil)
	return nil
}

func (s *Session) DeleteAll(ctx context.Context) error {
	if err := s.client.DeleteAll(ctx); err != nil {
		return err
	}
	s.cache.Clear()
	s.surface(nil)
	return nil
}

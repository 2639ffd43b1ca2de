package collector

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/streamwatch/stream-service/internal/jobs"
)

// Self-rescheduling cadences for the periodic maintenance routines.
const (
	feedRefreshInterval   = 15 * time.Minute
	channelStatsInterval  = time.Hour
	exchangeRatesInterval = time.Hour
	pubsubRenewInterval   = 4 * 24 * time.Hour
)

// FeedRefresher discovers new and upcoming streams from channel feeds
type FeedRefresher interface {
	RefreshFeeds(ctx context.Context) error
}

// PubsubSubscriber renews push subscriptions for channel updates
type PubsubSubscriber interface {
	RenewSubscriptions(ctx context.Context) error
}

// ChannelStatsUpdater refreshes per-channel statistics
type ChannelStatsUpdater interface {
	UpdateChannelStats(ctx context.Context) error
}

// ExchangeRateUpdater refreshes currency conversion rates used to value
// paid chat events
type ExchangeRateUpdater interface {
	UpdateExchangeRates(ctx context.Context) error
}

// NotificationSender fans a stream update out to its subscribers
type NotificationSender interface {
	SendStreamUpdate(ctx context.Context, streamID string) error
}

// Collaborators are the external systems the maintenance routines delegate
// to. Any of them may be nil; the routine then only reschedules itself,
// which keeps the worker runnable in partial deployments.
type Collaborators struct {
	Feeds         FeedRefresher
	Pubsub        PubsubSubscriber
	ChannelStats  ChannelStatsUpdater
	ExchangeRates ExchangeRateUpdater
	Notifications NotificationSender
}

// Set is the full routine set handed to the job dispatcher. It satisfies
// the dispatcher's Routines interface.
type Set struct {
	pool    *pgxpool.Pool
	youtube *YouTubeCollector
	twitch  *TwitchCollector
	collab  Collaborators
}

// NewSet creates the routine set
func NewSet(pool *pgxpool.Pool, youtube *YouTubeCollector, twitch *TwitchCollector, collab Collaborators) *Set {
	return &Set{
		pool:    pool,
		youtube: youtube,
		twitch:  twitch,
		collab:  collab,
	}
}

// HealthCheck verifies database connectivity
func (s *Set) HealthCheck(ctx context.Context) (jobs.Result, error) {
	if err := s.pool.Ping(ctx); err != nil {
		return jobs.Result{}, err
	}
	return jobs.Completed(), nil
}

// RefreshFeed scans channel feeds for new streams, then reschedules itself
func (s *Set) RefreshFeed(ctx context.Context) (jobs.Result, error) {
	if s.collab.Feeds != nil {
		if err := s.collab.Feeds.RefreshFeeds(ctx); err != nil {
			return jobs.Result{}, err
		}
	} else {
		log.Debug().Msg("No feed refresher configured, rescheduling only")
	}
	return jobs.Next(time.Now().Add(feedRefreshInterval)), nil
}

// SubscribePubsub renews push subscriptions, then reschedules itself
func (s *Set) SubscribePubsub(ctx context.Context) (jobs.Result, error) {
	if s.collab.Pubsub != nil {
		if err := s.collab.Pubsub.RenewSubscriptions(ctx); err != nil {
			return jobs.Result{}, err
		}
	} else {
		log.Debug().Msg("No pubsub subscriber configured, rescheduling only")
	}
	return jobs.Next(time.Now().Add(pubsubRenewInterval)), nil
}

// UpdateChannelStats refreshes channel statistics, then reschedules itself
func (s *Set) UpdateChannelStats(ctx context.Context) (jobs.Result, error) {
	if s.collab.ChannelStats != nil {
		if err := s.collab.ChannelStats.UpdateChannelStats(ctx); err != nil {
			return jobs.Result{}, err
		}
	} else {
		log.Debug().Msg("No channel stats updater configured, rescheduling only")
	}
	return jobs.Next(time.Now().Add(channelStatsInterval)), nil
}

// UpdateExchangeRates refreshes currency rates, then reschedules itself
func (s *Set) UpdateExchangeRates(ctx context.Context) (jobs.Result, error) {
	if s.collab.ExchangeRates != nil {
		if err := s.collab.ExchangeRates.UpdateExchangeRates(ctx); err != nil {
			return jobs.Result{}, err
		}
	} else {
		log.Debug().Msg("No exchange rate updater configured, rescheduling only")
	}
	return jobs.Next(time.Now().Add(exchangeRatesInterval)), nil
}

// CollectYouTubeStream runs the YouTube collection race for one stream
func (s *Set) CollectYouTubeStream(ctx context.Context, payload jobs.CollectStreamPayload, continuation *string) (jobs.Result, error) {
	return s.youtube.Collect(ctx, payload.StreamID, continuation)
}

// CollectTwitchStream runs the Twitch viewer-count collector for one stream
func (s *Set) CollectTwitchStream(ctx context.Context, payload jobs.CollectStreamPayload, continuation *string) (jobs.Result, error) {
	return s.twitch.Collect(ctx, payload.StreamID, continuation)
}

// SendNotification fans one stream update out to subscribers
func (s *Set) SendNotification(ctx context.Context, payload jobs.SendNotificationPayload) (jobs.Result, error) {
	if s.collab.Notifications == nil {
		log.Debug().Str("stream_id", payload.StreamID).Msg("No notification sender configured, dropping")
		return jobs.Completed(), nil
	}
	if err := s.collab.Notifications.SendStreamUpdate(ctx, payload.StreamID); err != nil {
		return jobs.Result{}, err
	}
	return jobs.Completed(), nil
}

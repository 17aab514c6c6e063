package livechat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"vtuber-backend/pkg/logger"
)

// YouTubeConfig selects the broadcast whose live chat is read.
type YouTubeConfig struct {
	APIKey  string
	VideoID string
	// Endpoint overrides the API base URL.
	Endpoint string
}

// youtubeSource reads one live chat through the YouTube Data API. The
// first page is consumed without emitting so only messages posted after
// connecting are answered.
type youtubeSource struct {
	svc    *youtube.Service
	chatID string

	mu        sync.Mutex
	alive     bool
	primed    bool
	pageToken string
	nextPoll  time.Time
}

// NewYouTubeDialer returns a Dialer that resolves the broadcast's active
// live chat on every call.
func NewYouTubeDialer(cfg YouTubeConfig) Dialer {
	return func(ctx context.Context) (Source, error) {
		if cfg.VideoID == "" {
			return nil, fmt.Errorf("%w: no video id configured", ErrFeedDead)
		}

		opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
		if cfg.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		}
		svc, err := youtube.NewService(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create youtube service: %w", err)
		}

		resp, err := svc.Videos.List([]string{"liveStreamingDetails"}).Id(cfg.VideoID).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("look up video %s: %w", cfg.VideoID, err)
		}
		if len(resp.Items) == 0 || resp.Items[0].LiveStreamingDetails == nil ||
			resp.Items[0].LiveStreamingDetails.ActiveLiveChatId == "" {
			return nil, fmt.Errorf("%w: video %s has no active live chat", ErrFeedDead, cfg.VideoID)
		}

		chatID := resp.Items[0].LiveStreamingDetails.ActiveLiveChatId
		logger.Infof("Connected to YouTube live chat %s for video %s", chatID, cfg.VideoID)
		return &youtubeSource{svc: svc, chatID: chatID, alive: true}, nil
	}
}

func (s *youtubeSource) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

func (s *youtubeSource) Terminate() {
	s.mu.Lock()
	s.alive = false
	s.mu.Unlock()
}

func (s *youtubeSource) Poll(ctx context.Context) ([]Message, error) {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return nil, ErrFeedDead
	}
	// The API states how long to wait between requests.
	if time.Now().Before(s.nextPoll) {
		s.mu.Unlock()
		return nil, nil
	}
	token := s.pageToken
	s.mu.Unlock()

	call := s.svc.LiveChatMessages.List(s.chatID, []string{"snippet", "authorDetails"}).Context(ctx)
	if token != "" {
		call = call.PageToken(token)
	}
	resp, err := call.Do()
	if err != nil {
		if isChatGone(err) {
			s.Terminate()
		}
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pageToken = resp.NextPageToken
	s.nextPoll = time.Now().Add(time.Duration(resp.PollingIntervalMillis) * time.Millisecond)
	if resp.OfflineAt != "" {
		s.alive = false
	}
	if !s.primed {
		s.primed = true
		return nil, nil
	}

	msgs := make([]Message, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Snippet == nil || item.AuthorDetails == nil {
			continue
		}
		text := strings.TrimSpace(item.Snippet.DisplayMessage)
		if text == "" {
			continue
		}
		msgs = append(msgs, Message{Author: item.AuthorDetails.DisplayName, Text: text})
	}
	return msgs, nil
}

func isChatGone(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code == http.StatusForbidden || gerr.Code == http.StatusNotFound
}

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"fedi-tube-bot/internal/domain"
	"fedi-tube-bot/internal/infra/metrics"
)

// Границы повторной рассылки.
const (
	// ResendDefault — количество элементов по умолчанию.
	ResendDefault = 3
	// ResendMax — верхняя граница запрошенного количества.
	ResendMax = 10
)

// TTL ключа защиты от повторной отправки.
const sentGuardTTL = 48 * time.Hour

// Service рассылает уведомления о новых элементах подписчикам каналов.
// Отправки сериализованы с фиксированной задержкой, чтобы не упираться
// в лимиты шлюза уведомлений.
type Service struct {
	channels    domain.ChannelRepo
	subscribers domain.SubscriberRepo
	states      domain.PollStateRepo
	feed        domain.FeedSource
	directory   domain.InstanceDirectory
	messenger   domain.Messenger
	guard       domain.Cache
	limiter     *rate.Limiter
	feedMax     int
	pick        func(n int) int
	log         zerolog.Logger
}

// NewService создаёт движок рассылки. guard может быть nil — тогда защита
// от повторной отправки отключена.
func NewService(channels domain.ChannelRepo, subscribers domain.SubscriberRepo, states domain.PollStateRepo, feed domain.FeedSource, directory domain.InstanceDirectory, messenger domain.Messenger, guard domain.Cache, sendDelay time.Duration, feedMax int, log zerolog.Logger) *Service {
	if sendDelay <= 0 {
		sendDelay = time.Second
	}
	return &Service{
		channels:    channels,
		subscribers: subscribers,
		states:      states,
		feed:        feed,
		directory:   directory,
		messenger:   messenger,
		guard:       guard,
		limiter:     rate.NewLimiter(rate.Every(sendDelay), 1),
		feedMax:     feedMax,
		pick:        rand.Intn,
		log:         log,
	}
}

// Dispatch разворачивает новые элементы в уведомления подписчикам.
// Ошибка одной отправки логируется и не прерывает остальную рассылку.
func (s *Service) Dispatch(ctx context.Context, items []domain.FeedItem, state domain.PollState) {
	for _, item := range items {
		channel, err := s.channels.GetChannel(ctx, item.ChannelID)
		if errors.Is(err, domain.ErrNotFound) {
			// на канал никто не подписан — не ошибка
			continue
		}
		if err != nil {
			s.log.Error().Err(err).Str("channel", item.ChannelID).Msg("не удалось получить канал")
			continue
		}
		for _, ref := range channel.Subscribers {
			// подписчик не получает элементы, опубликованные до его подписки
			if item.Published <= ref.SubscribedAt {
				continue
			}
			s.notify(ctx, channel, item, ref.Handle, state, true)
		}
	}
}

// Resend повторно рассылает запрашивающему до count свежих элементов его
// каналов, в порядке убывания свежести. Возвращает число отправленных.
func (s *Service) Resend(ctx context.Context, handle string, count int) (int, error) {
	count = clampResendCount(count)
	subscriber, err := s.subscribers.GetSubscriber(ctx, handle)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("получение подписчика: %w", err)
	}

	items, state, err := s.recentItems(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, item := range items {
		if sent >= count {
			break
		}
		if !subscriber.HasChannel(item.ChannelID) {
			continue
		}
		channel, err := s.channels.GetChannel(ctx, item.ChannelID)
		if errors.Is(err, domain.ErrNotFound) {
			channel = domain.ChannelSubscription{ChannelID: item.ChannelID, ChannelName: item.ChannelName}
		} else if err != nil {
			s.log.Error().Err(err).Str("channel", item.ChannelID).Msg("не удалось получить канал")
			continue
		}
		if s.notify(ctx, channel, item, handle, state, false) {
			sent++
		}
	}
	return sent, nil
}

// ResendAll повторно рассылает до count свежих элементов всем подписчикам
// их каналов. Возвращает число охваченных элементов.
func (s *Service) ResendAll(ctx context.Context, count int) (int, error) {
	count = clampResendCount(count)
	items, state, err := s.recentItems(ctx)
	if err != nil {
		return 0, err
	}

	matched := 0
	for _, item := range items {
		if matched >= count {
			break
		}
		channel, err := s.channels.GetChannel(ctx, item.ChannelID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			s.log.Error().Err(err).Str("channel", item.ChannelID).Msg("не удалось получить канал")
			continue
		}
		matched++
		for _, ref := range channel.Subscribers {
			s.notify(ctx, channel, item, ref.Handle, state, false)
		}
	}
	return matched, nil
}

func clampResendCount(count int) int {
	if count <= 0 {
		return ResendDefault
	}
	if count > ResendMax {
		return ResendMax
	}
	return count
}

// recentItems получает свежий срез ленты без изменения состояния опроса.
func (s *Service) recentItems(ctx context.Context) ([]domain.FeedItem, domain.PollState, error) {
	items, err := s.feed.Feed(ctx, s.feedMax)
	if err != nil {
		return nil, domain.PollState{}, fmt.Errorf("получение ленты: %w", err)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Published > items[j].Published })
	state, _, err := s.states.GetPollState(ctx)
	if err != nil {
		return nil, domain.PollState{}, fmt.Errorf("чтение состояния опроса: %w", err)
	}
	return items, state, nil
}

// notify отправляет одно уведомление. При guarded=true повторная отправка
// того же элемента тому же адресату подавляется через Cache.
func (s *Service) notify(ctx context.Context, channel domain.ChannelSubscription, item domain.FeedItem, handle string, state domain.PollState, guarded bool) bool {
	subscriber, err := s.subscribers.GetSubscriber(ctx, handle)
	if errors.Is(err, domain.ErrNotFound) {
		// висячая ссылка после незавершённой двухшаговой записи
		s.log.Debug().Str("handle", handle).Msg("подписчик из списка канала не найден")
		return false
	}
	if err != nil {
		s.log.Error().Err(err).Str("handle", handle).Msg("не удалось получить подписчика")
		return false
	}

	host := s.resolveHost(ctx, subscriber.DeliveryInstance, state)
	text := buildMessage(channel, item, host)

	send := func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		return s.messenger.SendDirectMessage(ctx, handle, text, "")
	}

	if guarded && s.guard != nil {
		err = s.guard.Once("sent:"+item.ID+":"+handle, sentGuardTTL, send)
	} else {
		err = send()
	}
	if err != nil {
		metrics.DispatchSendErrors.Inc()
		s.log.Error().Err(err).Str("handle", handle).Str("item", item.ID).Msg("не удалось отправить уведомление")
		return false
	}
	metrics.DispatchSentTotal.Inc()
	return true
}

func (s *Service) resolveHost(ctx context.Context, preference string, state domain.PollState) string {
	var mirrors []string
	if preference == domain.InstanceRandom {
		list, err := s.directory.Instances(ctx)
		if err != nil {
			// каталог недоступен — откат к поведению fixed
			s.log.Warn().Err(err).Msg("каталог зеркал недоступен")
		} else {
			mirrors = list
		}
	}
	return Resolve(preference, state, s.feed.Host(), mirrors, s.pick)
}

func buildMessage(channel domain.ChannelSubscription, item domain.FeedItem, host string) string {
	name := channel.ChannelName
	if name == "" {
		name = item.ChannelName
	}
	return fmt.Sprintf("One of your subscriptions posted a new video\n\nChannel: %s\nTitle: %s\nVideo: https://%s/watch?v=%s", name, item.Title, host, item.ID)
}

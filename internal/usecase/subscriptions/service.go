package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fedi-tube-bot/internal/domain"
)

// Коды результата операции отписки, унаследованные от исходного протокола
// бота: клиентам они отдаются в тексте ответа как есть.
const (
	CodeOK                        = 0
	CodeUpstreamUnsubscribeFailed = 88
	CodeChannelUnknown            = 97
	CodeNotSubscribed             = 98
	CodeSubscriberUnknown         = 99
)

// Стабильный идентификатор канала видеоплатформы.
var channelIDRegex = regexp.MustCompile(`^UC[A-Za-z0-9_-]{22}$`)

// hostnameRegex — грубая проверка формы хоста для закреплённых зеркал.
var hostnameRegex = regexp.MustCompile(`(?i)^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)+$`)

// Service выполняет мутации реестра подписок. Запись канала — владеющая
// сторона связи и правится первой; пути чтения терпимы к висячим ссылкам.
type Service struct {
	channels    domain.ChannelRepo
	subscribers domain.SubscriberRepo
	states      domain.PollStateRepo
	feed        domain.FeedSource
	now         func() time.Time
	log         zerolog.Logger
}

// NewService создаёт сервис подписок.
func NewService(channels domain.ChannelRepo, subscribers domain.SubscriberRepo, states domain.PollStateRepo, feed domain.FeedSource, log zerolog.Logger) *Service {
	return &Service{
		channels:    channels,
		subscribers: subscribers,
		states:      states,
		feed:        feed,
		now:         time.Now,
		log:         log,
	}
}

// SubscribeResult — разрешённый канал после успешной подписки.
type SubscribeResult struct {
	ChannelID   string
	ChannelName string
}

// Subscribe разрешает ссылку на канал, оформляет подписку на
// видеоплатформе и идемпотентно обновляет обе записи реестра.
func (s *Service) Subscribe(ctx context.Context, handle, channelRef string) (SubscribeResult, error) {
	candidate, err := s.resolveRef(ctx, channelRef)
	if err != nil {
		return SubscribeResult{}, err
	}

	if err := s.feed.Subscribe(ctx, candidate.ID); err != nil {
		return SubscribeResult{}, fmt.Errorf("подписка на видеоплатформе: %w", err)
	}

	subscribedAt := s.now().Unix()

	channel, err := s.channels.GetChannel(ctx, candidate.ID)
	if errors.Is(err, domain.ErrNotFound) {
		channel = domain.ChannelSubscription{ChannelID: candidate.ID}
	} else if err != nil {
		return SubscribeResult{}, err
	}
	if candidate.Name != "" {
		// имя правится задним числом: ранние записи могли сохраниться без него
		channel.ChannelName = candidate.Name
	}
	channel.AddSubscriber(handle, subscribedAt)
	if err := s.channels.SaveChannel(ctx, channel); err != nil {
		return SubscribeResult{}, err
	}

	subscriber, err := s.subscribers.GetSubscriber(ctx, handle)
	if errors.Is(err, domain.ErrNotFound) {
		subscriber = domain.Subscriber{Handle: handle, DeliveryInstance: domain.InstanceFixed}
	} else if err != nil {
		return SubscribeResult{}, err
	}
	subscriber.AddChannel(candidate.ID)
	if err := s.subscribers.SaveSubscriber(ctx, subscriber); err != nil {
		return SubscribeResult{}, err
	}

	return SubscribeResult{ChannelID: candidate.ID, ChannelName: channel.ChannelName}, nil
}

// resolveRef превращает пользовательскую ссылку (стабильный идентификатор
// или человекочитаемый хэндл) в проверенного кандидата.
func (s *Service) resolveRef(ctx context.Context, channelRef string) (domain.ChannelCandidate, error) {
	ref := strings.TrimSpace(channelRef)
	if channelIDRegex.MatchString(ref) {
		meta, err := s.feed.Channel(ctx, ref)
		if err != nil {
			// имя необязательно: запись будет поправлена при следующей подписке
			s.log.Debug().Err(err).Str("channel", ref).Msg("не удалось получить имя канала")
			return domain.ChannelCandidate{ID: ref}, nil
		}
		return domain.ChannelCandidate{ID: ref, Name: meta.Name}, nil
	}

	query := strings.TrimPrefix(ref, "@")
	candidate, verified, err := s.searchOnce(ctx, query)
	if err != nil {
		return domain.ChannelCandidate{}, err
	}
	if verified {
		return candidate, nil
	}

	// Подставной кандидат: пробуем скорректировать поиск по хэндлу из его
	// отображаемого имени.
	corrected := extractHandle(candidate.Name)
	if corrected != "" && !strings.EqualFold(corrected, query) {
		fixed, verified, err := s.searchOnce(ctx, corrected)
		if err == nil && verified {
			return fixed, nil
		}
	}
	return domain.ChannelCandidate{}, domain.ErrAmbiguousChannel
}

// searchOnce ищет канал по имени и подтверждает первый результат
// проверочным запросом по идентификатору.
func (s *Service) searchOnce(ctx context.Context, query string) (domain.ChannelCandidate, bool, error) {
	results, err := s.feed.SearchChannel(ctx, query)
	if err != nil {
		return domain.ChannelCandidate{}, false, fmt.Errorf("поиск канала: %w", err)
	}
	if len(results) == 0 {
		return domain.ChannelCandidate{}, false, fmt.Errorf("канал по имени %q: %w", query, domain.ErrNotFound)
	}
	first := results[0]
	meta, err := s.feed.Channel(ctx, first.ID)
	if err != nil || meta.ID == "" || !strings.EqualFold(meta.Name, first.Name) {
		return first, false, nil
	}
	return first, true, nil
}

// extractHandle достаёт @-хэндл из отображаемого имени кандидата.
func extractHandle(displayName string) string {
	for _, token := range strings.Fields(displayName) {
		if strings.HasPrefix(token, "@") && len(token) > 1 {
			return strings.TrimPrefix(token, "@")
		}
	}
	return ""
}

// Unsubscribe убирает подписчика из канала и канал из подписчика.
// Возвращает код результата; ошибка означает сбой хранилища, а не
// нормальный исход вроде "не был подписан".
func (s *Service) Unsubscribe(ctx context.Context, handle, channelRef string) (int, error) {
	subscriber, err := s.subscribers.GetSubscriber(ctx, handle)
	haveSubscriber := true
	if errors.Is(err, domain.ErrNotFound) {
		haveSubscriber = false
	} else if err != nil {
		return 0, err
	}

	channelID, err := s.resolveLocalRef(ctx, channelRef, subscriber, haveSubscriber)
	if err != nil {
		return 0, err
	}
	if channelID == "" {
		return CodeChannelUnknown, nil
	}

	// сторона канала правится первой
	channelCode := CodeOK
	channel, err := s.channels.GetChannel(ctx, channelID)
	if errors.Is(err, domain.ErrNotFound) {
		channelCode = CodeChannelUnknown
	} else if err != nil {
		return 0, err
	} else if !channel.RemoveSubscriber(handle) {
		channelCode = CodeNotSubscribed
	} else if len(channel.Subscribers) == 0 {
		// последний подписчик ушёл: запись удаляется, подписка на
		// видеоплатформе снимается ровно один раз
		if err := s.channels.DeleteChannel(ctx, channelID); err != nil {
			return 0, err
		}
		if err := s.feed.Unsubscribe(ctx, channelID); err != nil {
			s.log.Error().Err(err).Str("channel", channelID).Msg("не удалось снять подписку на видеоплатформе")
			channelCode = CodeUpstreamUnsubscribeFailed
		}
	} else if err := s.channels.SaveChannel(ctx, channel); err != nil {
		return 0, err
	}

	subscriberCode := CodeOK
	if !haveSubscriber {
		subscriberCode = CodeSubscriberUnknown
	} else if !subscriber.RemoveChannel(channelID) {
		subscriberCode = CodeNotSubscribed
	} else if len(subscriber.Channels) == 0 {
		if err := s.subscribers.DeleteSubscriber(ctx, handle); err != nil {
			return 0, err
		}
	} else if err := s.subscribers.SaveSubscriber(ctx, subscriber); err != nil {
		return 0, err
	}

	if channelCode != CodeOK {
		return channelCode, nil
	}
	return subscriberCode, nil
}

// resolveLocalRef разрешает ссылку без обращения к поиску видеоплатформы:
// стабильный идентификатор берётся как есть, имя сверяется с каналами
// самого подписчика. Висячие ссылки пропускаются.
func (s *Service) resolveLocalRef(ctx context.Context, channelRef string, subscriber domain.Subscriber, haveSubscriber bool) (string, error) {
	ref := strings.TrimSpace(channelRef)
	if channelIDRegex.MatchString(ref) {
		return ref, nil
	}
	if !haveSubscriber {
		return "", nil
	}
	name := strings.TrimPrefix(ref, "@")
	for _, id := range subscriber.Channels {
		channel, err := s.channels.GetChannel(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		if strings.EqualFold(channel.ChannelName, name) {
			return id, nil
		}
	}
	return "", nil
}

// List возвращает каналы подписчика. Отсутствующий подписчик или висячая
// ссылка трактуются как "не подписан".
func (s *Service) List(ctx context.Context, handle string) ([]domain.ChannelSubscription, error) {
	subscriber, err := s.subscribers.GetSubscriber(ctx, handle)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	channels := make([]domain.ChannelSubscription, 0, len(subscriber.Channels))
	for _, id := range subscriber.Channels {
		channel, err := s.channels.GetChannel(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Debug().Str("channel", id).Str("handle", handle).Msg("висячая ссылка на канал пропущена")
			continue
		}
		if err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}
	return channels, nil
}

// ValidDeliveryInstance проверяет значение предпочтения инстанса:
// ключевые слова либо явный хост закреплённого зеркала.
func ValidDeliveryInstance(value string) bool {
	switch value {
	case domain.InstanceFixed, domain.InstanceRandom, domain.InstanceRedirect:
		return true
	}
	return hostnameRegex.MatchString(value)
}

// SetDeliveryInstance задаёт предпочтение инстанса для подписчика.
func (s *Service) SetDeliveryInstance(ctx context.Context, handle, value string) error {
	subscriber, err := s.subscribers.GetSubscriber(ctx, handle)
	if err != nil {
		return err
	}
	subscriber.DeliveryInstance = value
	return s.subscribers.SaveSubscriber(ctx, subscriber)
}

// SetFixedInstance задаёт общий для процесса инстанс доставки. Пишется
// только сама колонка: курсор опроса в этот момент может обновлять
// параллельный цикл рассылки.
func (s *Service) SetFixedInstance(ctx context.Context, host string) error {
	return s.states.SaveFixedInstanceHost(ctx, host)
}

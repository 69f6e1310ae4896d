package domain

import (
	"context"
	"time"
)

// ChannelRepo управляет записями каналов.
type ChannelRepo interface {
	GetChannel(ctx context.Context, channelID string) (ChannelSubscription, error)
	SaveChannel(ctx context.Context, channel ChannelSubscription) error
	DeleteChannel(ctx context.Context, channelID string) error
}

// SubscriberRepo управляет записями подписчиков.
type SubscriberRepo interface {
	GetSubscriber(ctx context.Context, handle string) (Subscriber, error)
	SaveSubscriber(ctx context.Context, subscriber Subscriber) error
	DeleteSubscriber(ctx context.Context, handle string) error
}

// PollStateRepo хранит единственную запись состояния опроса. Курсор опроса
// и закреплённый инстанс пишутся независимо: цикл опроса и административные
// команды работают в разных горутинах и не должны затирать чужие поля.
type PollStateRepo interface {
	// GetPollState возвращает состояние и признак его существования.
	GetPollState(ctx context.Context) (PollState, bool, error)
	// SavePollCursor сохраняет водяной знак и снимок ленты, не трогая
	// закреплённый инстанс.
	SavePollCursor(ctx context.Context, state PollState) error
	// SaveFixedInstanceHost сохраняет общий инстанс доставки, не трогая курсор.
	SaveFixedInstanceHost(ctx context.Context, host string) error
}

// FeedSource — API видеоплатформы: лента, подписки, поиск каналов.
type FeedSource interface {
	// Feed возвращает видео и уведомления одной страницей в порядке выдачи API.
	Feed(ctx context.Context, maxResults int) ([]FeedItem, error)
	Subscribe(ctx context.Context, channelID string) error
	Unsubscribe(ctx context.Context, channelID string) error
	SearchChannel(ctx context.Context, query string) ([]ChannelCandidate, error)
	// Channel — проверочный запрос метаданных канала по идентификатору.
	Channel(ctx context.Context, channelID string) (ChannelCandidate, error)
	// Host возвращает хост источника ленты по умолчанию.
	Host() string
}

// InstanceDirectory возвращает актуальный список зеркал видеоплатформы.
type InstanceDirectory interface {
	Instances(ctx context.Context) ([]string, error)
}

// Messenger — шлюз уведомлений: личные сообщения федеративной сети.
type Messenger interface {
	Conversations(ctx context.Context) ([]Conversation, error)
	// SendDirectMessage отправляет личное сообщение, при необходимости разбивая
	// текст на несколько сообщений.
	SendDirectMessage(ctx context.Context, recipient, text, inReplyToID string) error
	MarkRead(ctx context.Context, conversationID string) error
}

// Cache используется как best-effort защита от повторной отправки.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
}

package domain

// Значения предпочтения инстанса доставки.
const (
	// InstanceFixed — использовать общий для процесса инстанс.
	InstanceFixed = "fixed"
	// InstanceRandom — случайный инстанс из каталога зеркал.
	InstanceRandom = "random"
	// InstanceRedirect — инстанс-редиректор.
	InstanceRedirect = "redirect"
)

// SubscriberRef описывает вхождение подписчика в список канала.
type SubscriberRef struct {
	Handle       string `json:"handle"`
	SubscribedAt int64  `json:"subscribed_at"`
}

// ChannelSubscription описывает канал видеоплатформы и его подписчиков.
type ChannelSubscription struct {
	ChannelID   string
	ChannelName string
	Subscribers []SubscriberRef
}

// HasSubscriber проверяет, входит ли подписчик в список канала.
func (c *ChannelSubscription) HasSubscriber(handle string) bool {
	for _, ref := range c.Subscribers {
		if ref.Handle == handle {
			return true
		}
	}
	return false
}

// AddSubscriber идемпотентно добавляет подписчика в список канала.
func (c *ChannelSubscription) AddSubscriber(handle string, subscribedAt int64) bool {
	if c.HasSubscriber(handle) {
		return false
	}
	c.Subscribers = append(c.Subscribers, SubscriberRef{Handle: handle, SubscribedAt: subscribedAt})
	return true
}

// RemoveSubscriber удаляет подписчика из списка канала.
func (c *ChannelSubscription) RemoveSubscriber(handle string) bool {
	for i, ref := range c.Subscribers {
		if ref.Handle == handle {
			c.Subscribers = append(c.Subscribers[:i], c.Subscribers[i+1:]...)
			return true
		}
	}
	return false
}

// Subscriber описывает аккаунт федеративной сети, получающий уведомления.
type Subscriber struct {
	Handle           string
	Channels         []string
	DeliveryInstance string
}

// HasChannel проверяет, подписан ли аккаунт на канал.
func (s *Subscriber) HasChannel(channelID string) bool {
	for _, id := range s.Channels {
		if id == channelID {
			return true
		}
	}
	return false
}

// AddChannel идемпотентно добавляет канал в список подписок.
func (s *Subscriber) AddChannel(channelID string) bool {
	if s.HasChannel(channelID) {
		return false
	}
	s.Channels = append(s.Channels, channelID)
	return true
}

// RemoveChannel удаляет канал из списка подписок.
func (s *Subscriber) RemoveChannel(channelID string) bool {
	for i, id := range s.Channels {
		if id == channelID {
			s.Channels = append(s.Channels[:i], s.Channels[i+1:]...)
			return true
		}
	}
	return false
}

// PollState хранит состояние опроса ленты. В хранилище не более одной записи.
type PollState struct {
	LastCheckedPublishedAt int64
	RecentItemIDs          []string
	FixedInstanceHost      string
}

// Seen проверяет, попадал ли элемент в последний снимок ленты.
func (p *PollState) Seen(itemID string) bool {
	for _, id := range p.RecentItemIDs {
		if id == itemID {
			return true
		}
	}
	return false
}

// FeedItem — элемент агрегированной ленты (видео или платформенное уведомление).
type FeedItem struct {
	ID          string
	ChannelID   string
	ChannelName string
	Title       string
	Published   int64
}

// Conversation — диалог из шлюза уведомлений.
// Text уже приведён адаптером к плоскому тексту без HTML.
type Conversation struct {
	ID           string
	Unread       bool
	LastStatusID string
	Sender       string
	Text         string
}

// ChannelCandidate — результат поиска канала по имени.
type ChannelCandidate struct {
	ID       string
	Name     string
	Verified bool
}

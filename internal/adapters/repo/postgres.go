package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fedi-tube-bot/internal/domain"
	"fedi-tube-bot/internal/infra/metrics"
)

// Postgres реализует репозитории реестра подписок на основе pgxpool.
// Списки участников хранятся как JSONB внутри записи, как в документном
// хранилище: запись канала и запись подписчика обновляются раздельно.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.ChannelRepo = (*Postgres)(nil)
var _ domain.SubscriberRepo = (*Postgres)(nil)
var _ domain.PollStateRepo = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// GetChannel возвращает запись канала по идентификатору.
func (p *Postgres) GetChannel(ctx context.Context, channelID string) (domain.ChannelSubscription, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		channel domain.ChannelSubscription
		raw     []byte
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT channel_id, channel_name, subscribers FROM channels WHERE channel_id = $1
`, channelID).Scan(&channel.ChannelID, &channel.ChannelName, &raw)
	metrics.ObserveNetworkRequest("postgres", "channel_select", "channels", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ChannelSubscription{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ChannelSubscription{}, fmt.Errorf("чтение канала: %w", err)
	}
	if err := json.Unmarshal(raw, &channel.Subscribers); err != nil {
		return domain.ChannelSubscription{}, fmt.Errorf("декодирование подписчиков: %w", err)
	}
	return channel, nil
}

// SaveChannel сохраняет запись канала (upsert).
func (p *Postgres) SaveChannel(ctx context.Context, channel domain.ChannelSubscription) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	subscribers := channel.Subscribers
	if subscribers == nil {
		subscribers = []domain.SubscriberRef{}
	}
	raw, err := json.Marshal(subscribers)
	if err != nil {
		return fmt.Errorf("кодирование подписчиков: %w", err)
	}

	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO channels (channel_id, channel_name, subscribers, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (channel_id) DO UPDATE
SET channel_name = EXCLUDED.channel_name,
    subscribers  = EXCLUDED.subscribers,
    updated_at   = now()
`, channel.ChannelID, channel.ChannelName, raw)
	metrics.ObserveNetworkRequest("postgres", "channel_upsert", "channels", start, err)
	if err != nil {
		return fmt.Errorf("сохранение канала: %w", err)
	}
	return nil
}

// DeleteChannel удаляет запись канала.
func (p *Postgres) DeleteChannel(ctx context.Context, channelID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM channels WHERE channel_id = $1`, channelID)
	metrics.ObserveNetworkRequest("postgres", "channel_delete", "channels", start, err)
	if err != nil {
		return fmt.Errorf("удаление канала: %w", err)
	}
	return nil
}

// GetSubscriber возвращает запись подписчика по адресу.
func (p *Postgres) GetSubscriber(ctx context.Context, handle string) (domain.Subscriber, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		subscriber domain.Subscriber
		raw        []byte
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT handle, channels, delivery_instance FROM subscribers WHERE handle = $1
`, handle).Scan(&subscriber.Handle, &raw, &subscriber.DeliveryInstance)
	metrics.ObserveNetworkRequest("postgres", "subscriber_select", "subscribers", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Subscriber{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Subscriber{}, fmt.Errorf("чтение подписчика: %w", err)
	}
	if err := json.Unmarshal(raw, &subscriber.Channels); err != nil {
		return domain.Subscriber{}, fmt.Errorf("декодирование каналов: %w", err)
	}
	return subscriber, nil
}

// SaveSubscriber сохраняет запись подписчика (upsert).
func (p *Postgres) SaveSubscriber(ctx context.Context, subscriber domain.Subscriber) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	channels := subscriber.Channels
	if channels == nil {
		channels = []string{}
	}
	raw, err := json.Marshal(channels)
	if err != nil {
		return fmt.Errorf("кодирование каналов: %w", err)
	}
	instance := subscriber.DeliveryInstance
	if instance == "" {
		instance = domain.InstanceFixed
	}

	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO subscribers (handle, channels, delivery_instance, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (handle) DO UPDATE
SET channels          = EXCLUDED.channels,
    delivery_instance = EXCLUDED.delivery_instance,
    updated_at        = now()
`, subscriber.Handle, raw, instance)
	metrics.ObserveNetworkRequest("postgres", "subscriber_upsert", "subscribers", start, err)
	if err != nil {
		return fmt.Errorf("сохранение подписчика: %w", err)
	}
	return nil
}

// DeleteSubscriber удаляет запись подписчика.
func (p *Postgres) DeleteSubscriber(ctx context.Context, handle string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM subscribers WHERE handle = $1`, handle)
	metrics.ObserveNetworkRequest("postgres", "subscriber_delete", "subscribers", start, err)
	if err != nil {
		return fmt.Errorf("удаление подписчика: %w", err)
	}
	return nil
}

// GetPollState возвращает состояние опроса и признак его существования.
func (p *Postgres) GetPollState(ctx context.Context) (domain.PollState, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		state domain.PollState
		raw   []byte
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT last_checked, recent_item_ids, fixed_instance_host FROM poll_state WHERE id = 1
`).Scan(&state.LastCheckedPublishedAt, &raw, &state.FixedInstanceHost)
	metrics.ObserveNetworkRequest("postgres", "poll_state_select", "poll_state", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PollState{}, false, nil
	}
	if err != nil {
		return domain.PollState{}, false, fmt.Errorf("чтение состояния опроса: %w", err)
	}
	if err := json.Unmarshal(raw, &state.RecentItemIDs); err != nil {
		return domain.PollState{}, false, fmt.Errorf("декодирование снимка ленты: %w", err)
	}
	return state, true, nil
}

// SavePollCursor сохраняет водяной знак и снимок ленты. Колонка
// fixed_instance_host не трогается: её конкурентно пишет административная
// команда, и затянувшийся цикл рассылки не должен откатывать её значение.
func (p *Postgres) SavePollCursor(ctx context.Context, state domain.PollState) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	recent := state.RecentItemIDs
	if recent == nil {
		recent = []string{}
	}
	raw, err := json.Marshal(recent)
	if err != nil {
		return fmt.Errorf("кодирование снимка ленты: %w", err)
	}

	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO poll_state (id, last_checked, recent_item_ids, updated_at)
VALUES (1, $1, $2, now())
ON CONFLICT (id) DO UPDATE
SET last_checked    = EXCLUDED.last_checked,
    recent_item_ids = EXCLUDED.recent_item_ids,
    updated_at      = now()
`, state.LastCheckedPublishedAt, raw)
	metrics.ObserveNetworkRequest("postgres", "poll_cursor_upsert", "poll_state", start, err)
	if err != nil {
		return fmt.Errorf("сохранение курсора опроса: %w", err)
	}
	return nil
}

// SaveFixedInstanceHost сохраняет общий инстанс доставки, не трогая курсор
// опроса.
func (p *Postgres) SaveFixedInstanceHost(ctx context.Context, host string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO poll_state (id, fixed_instance_host, updated_at)
VALUES (1, $1, now())
ON CONFLICT (id) DO UPDATE
SET fixed_instance_host = EXCLUDED.fixed_instance_host,
    updated_at          = now()
`, host)
	metrics.ObserveNetworkRequest("postgres", "fixed_instance_upsert", "poll_state", start, err)
	if err != nil {
		return fmt.Errorf("сохранение закреплённого инстанса: %w", err)
	}
	return nil
}

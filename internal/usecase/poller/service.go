package poller

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"fedi-tube-bot/internal/domain"
)

// Параметры дедупликации. Значения подбирались опытным путём и могут
// меняться независимо друг от друга.
const (
	// recentKeep — размер снимка идентификаторов последних элементов.
	recentKeep = 20
	// reorderWindow — сколько свежих элементов перепроверяется по снимку,
	// чтобы поймать опоздавшие или пришедшие не по порядку публикации.
	reorderWindow = 10
)

// Service опрашивает агрегированную ленту и вычисляет новые элементы
// относительно водяного знака и снимка последних идентификаторов.
type Service struct {
	feed       domain.FeedSource
	states     domain.PollStateRepo
	maxResults int
	log        zerolog.Logger
}

// NewService создаёт сервис опроса ленты.
func NewService(feed domain.FeedSource, states domain.PollStateRepo, maxResults int, log zerolog.Logger) *Service {
	return &Service{feed: feed, states: states, maxResults: maxResults, log: log}
}

// Result — итог одного опроса ленты.
type Result struct {
	// Items — все полученные элементы по убыванию времени публикации.
	Items []domain.FeedItem
	// NewItems — элементы, подлежащие рассылке.
	NewItems []domain.FeedItem
	// State — следующее состояние опроса; сохраняется вызывающей стороной
	// после рассылки через Commit.
	State domain.PollState
}

// Poll получает ленту и вычисляет новые элементы. Состояние опроса не
// мутируется: при любой ошибке следующий цикл начнёт с прежнего водяного
// знака.
func (s *Service) Poll(ctx context.Context) (Result, error) {
	items, err := s.feed.Feed(ctx, s.maxResults)
	if err != nil {
		return Result{}, fmt.Errorf("получение ленты: %w", err)
	}
	if len(items) == 0 {
		s.log.Debug().Msg("лента пуста, цикл пропущен")
		return Result{}, nil
	}

	prev, found, err := s.states.GetPollState(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("чтение состояния опроса: %w", err)
	}

	// Стабильная сортировка: при равном времени публикации сохраняется
	// порядок выдачи API.
	sort.SliceStable(items, func(i, j int) bool { return items[i].Published > items[j].Published })

	watermark := items[0].Published
	if found {
		watermark = prev.LastCheckedPublishedAt
	}

	var newItems []domain.FeedItem
	for _, item := range items {
		if item.Published > watermark {
			newItems = append(newItems, item)
		}
	}

	// Перепроверка окна свежих элементов по прежнему снимку: элемент со
	// старым временем публикации, которого ещё не было в ленте, тоже
	// рассылается. В патологическом случае переупорядочивания элемент
	// может уйти дважды, но никогда не теряется молча.
	if found {
		for i := 0; i < reorderWindow && i < len(items); i++ {
			item := items[i]
			if item.Published > watermark || prev.Seen(item.ID) {
				continue
			}
			newItems = append(newItems, item)
		}
	}

	next := domain.PollState{
		LastCheckedPublishedAt: items[0].Published,
		FixedInstanceHost:      prev.FixedInstanceHost,
	}
	if found && prev.LastCheckedPublishedAt > next.LastCheckedPublishedAt {
		next.LastCheckedPublishedAt = prev.LastCheckedPublishedAt
	}
	keep := recentKeep
	if keep > len(items) {
		keep = len(items)
	}
	next.RecentItemIDs = make([]string, 0, keep)
	for _, item := range items[:keep] {
		next.RecentItemIDs = append(next.RecentItemIDs, item.ID)
	}

	s.log.Info().Int("items", len(items)).Int("new", len(newItems)).Msg("лента получена")
	return Result{Items: items, NewItems: newItems, State: next}, nil
}

// Commit сохраняет курсор опроса после рассылки. Закреплённый инстанс не
// пишется: рассылка может идти минуты, и выполненная в это время смена
// инстанса не должна откатываться снимком с начала цикла.
func (s *Service) Commit(ctx context.Context, state domain.PollState) error {
	if err := s.states.SavePollCursor(ctx, state); err != nil {
		return fmt.Errorf("сохранение состояния опроса: %w", err)
	}
	return nil
}

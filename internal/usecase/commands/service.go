package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"fedi-tube-bot/internal/domain"
	"fedi-tube-bot/internal/infra/metrics"
	"fedi-tube-bot/internal/usecase/dispatch"
	"fedi-tube-bot/internal/usecase/subscriptions"
)

// Service обрабатывает команды из личных сообщений: разбор, выполнение,
// ответ, отметка о прочтении.
type Service struct {
	messenger  domain.Messenger
	subs       *subscriptions.Service
	dispatcher *dispatch.Service
	admin      string
	log        zerolog.Logger
}

// NewService создаёт обработчик команд. admin — привилегированный адрес
// для административных команд.
func NewService(messenger domain.Messenger, subs *subscriptions.Service, dispatcher *dispatch.Service, admin string, log zerolog.Logger) *Service {
	return &Service{messenger: messenger, subs: subs, dispatcher: dispatcher, admin: admin, log: log}
}

// ProcessConversations обрабатывает все непрочитанные диалоги. Сбой
// получения списка прерывает цикл; сбой одного диалога — нет. Каждый
// обработанный диалог помечается прочитанным ровно один раз.
func (s *Service) ProcessConversations(ctx context.Context) error {
	conversations, err := s.messenger.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("получение диалогов: %w", err)
	}
	for _, conv := range conversations {
		if !conv.Unread {
			continue
		}
		s.handleConversation(ctx, conv)
		if err := s.messenger.MarkRead(ctx, conv.ID); err != nil {
			s.log.Error().Err(err).Str("conversation", conv.ID).Msg("не удалось пометить диалог прочитанным")
		}
	}
	return nil
}

func (s *Service) handleConversation(ctx context.Context, conv domain.Conversation) {
	command, args := parseCommand(conv.Text)
	if command == "" {
		return
	}
	s.log.Info().Str("sender", conv.Sender).Str("command", command).Msg("команда получена")

	switch command {
	case "ping":
		metrics.IncCommand(command)
		s.reply(ctx, conv, "pong")
	case "subscribe":
		metrics.IncCommand(command)
		s.handleSubscribe(ctx, conv, args)
	case "unsubscribe":
		metrics.IncCommand(command)
		s.handleUnsubscribe(ctx, conv, args)
	case "list":
		metrics.IncCommand(command)
		s.handleList(ctx, conv)
	case "instance":
		metrics.IncCommand(command)
		s.handleInstance(ctx, conv, args)
	case "setfixedtoinstance":
		metrics.IncCommand(command)
		s.handleSetFixedInstance(ctx, conv, args)
	case "resend":
		metrics.IncCommand(command)
		s.handleResend(ctx, conv, args)
	case "resendall":
		metrics.IncCommand(command)
		s.handleResendAll(ctx, conv, args)
	default:
		s.log.Info().Str("sender", conv.Sender).Str("command", command).Msg("неизвестная команда проигнорирована")
	}
}

// parseCommand отрезает ведущее упоминание бота и делит остаток по
// пробелам: первый токен — имя команды, остальные — аргументы.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) > 0 && strings.HasPrefix(fields[0], "@") {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

func (s *Service) handleSubscribe(ctx context.Context, conv domain.Conversation, args []string) {
	if len(args) == 0 {
		s.log.Info().Str("sender", conv.Sender).Msg("subscribe без аргумента проигнорирован")
		return
	}
	ref := args[0]
	result, err := s.subs.Subscribe(ctx, conv.Sender, ref)
	if err != nil {
		metrics.CommandErrors.Inc()
		var upstream *domain.UpstreamStatusError
		switch {
		case errors.Is(err, domain.ErrAmbiguousChannel):
			s.reply(ctx, conv, fmt.Sprintf("Unable to subscribe to %s (code %d): the name resolved to a probable fake identifier.\n\nPlease retry with the stable channel id.", ref, subscriptions.CodeSubscriberUnknown))
		case errors.As(err, &upstream):
			s.reply(ctx, conv, fmt.Sprintf("Unable to subscribe to %s.\n\nThe video platform responded with status %d.", ref, upstream.Status))
		default:
			s.log.Error().Err(err).Str("sender", conv.Sender).Msg("сбой подписки")
			s.reply(ctx, conv, fmt.Sprintf("Unable to subscribe to %s. Please try again later.", ref))
		}
		return
	}
	s.reply(ctx, conv, fmt.Sprintf("Successfully subscribed to\n\n%s (%s)", result.ChannelID, result.ChannelName))
}

func (s *Service) handleUnsubscribe(ctx context.Context, conv domain.Conversation, args []string) {
	if len(args) == 0 {
		s.log.Info().Str("sender", conv.Sender).Msg("unsubscribe без аргумента проигнорирован")
		return
	}
	ref := args[0]
	code, err := s.subs.Unsubscribe(ctx, conv.Sender, ref)
	if err != nil {
		metrics.CommandErrors.Inc()
		s.log.Error().Err(err).Str("sender", conv.Sender).Msg("сбой отписки")
		s.reply(ctx, conv, fmt.Sprintf("Unable to unsubscribe from %s. Please try again later.", ref))
		return
	}
	if code != subscriptions.CodeOK {
		s.reply(ctx, conv, fmt.Sprintf("Error unsubscribing from %s: %d", ref, code))
		return
	}
	s.reply(ctx, conv, fmt.Sprintf("Successfully unsubscribed from\n\n%s", ref))
}

func (s *Service) handleList(ctx context.Context, conv domain.Conversation) {
	channels, err := s.subs.List(ctx, conv.Sender)
	if err != nil {
		metrics.CommandErrors.Inc()
		s.log.Error().Err(err).Str("sender", conv.Sender).Msg("сбой получения списка подписок")
		s.reply(ctx, conv, "Unable to list your subscriptions. Please try again later.")
		return
	}
	if len(channels) == 0 {
		s.reply(ctx, conv, "You are currently not subscribed to any channel.")
		return
	}
	var b strings.Builder
	b.WriteString("You are currently subscribed to\n\n")
	for _, channel := range channels {
		b.WriteString(channel.ChannelID)
		b.WriteString("\n")
		b.WriteString(channel.ChannelName)
		b.WriteString("\n\n")
	}
	s.reply(ctx, conv, b.String())
}

func (s *Service) handleInstance(ctx context.Context, conv domain.Conversation, args []string) {
	if len(args) == 0 || !subscriptions.ValidDeliveryInstance(args[0]) {
		s.log.Info().Str("sender", conv.Sender).Strs("args", args).Msg("instance с некорректным значением проигнорирован")
		return
	}
	value := args[0]
	err := s.subs.SetDeliveryInstance(ctx, conv.Sender, value)
	if errors.Is(err, domain.ErrNotFound) {
		s.reply(ctx, conv, "You are currently not subscribed to any channel.")
		return
	}
	if err != nil {
		metrics.CommandErrors.Inc()
		s.log.Error().Err(err).Str("sender", conv.Sender).Msg("сбой смены инстанса")
		s.reply(ctx, conv, "Unable to update your delivery instance. Please try again later.")
		return
	}
	s.reply(ctx, conv, fmt.Sprintf("Delivery instance set to %s", value))
}

func (s *Service) handleSetFixedInstance(ctx context.Context, conv domain.Conversation, args []string) {
	if conv.Sender != s.admin {
		// без ответа: отправитель не должен узнать о существовании команды
		s.log.Warn().Str("sender", conv.Sender).Msg("setfixedtoinstance от непривилегированного адреса")
		return
	}
	if len(args) == 0 || !subscriptions.ValidDeliveryInstance(args[0]) {
		s.log.Info().Strs("args", args).Msg("setfixedtoinstance с некорректным значением проигнорирован")
		return
	}
	host := args[0]
	if err := s.subs.SetFixedInstance(ctx, host); err != nil {
		metrics.CommandErrors.Inc()
		s.log.Error().Err(err).Msg("сбой смены общего инстанса")
		s.reply(ctx, conv, "Unable to update the fixed instance. Please try again later.")
		return
	}
	s.reply(ctx, conv, fmt.Sprintf("Fixed instance set to %s", host))
}

func (s *Service) handleResend(ctx context.Context, conv domain.Conversation, args []string) {
	count, ok := parseResendCount(args)
	if !ok {
		s.log.Info().Str("sender", conv.Sender).Strs("args", args).Msg("resend с некорректным количеством проигнорирован")
		return
	}
	sent, err := s.dispatcher.Resend(ctx, conv.Sender, count)
	if err != nil {
		metrics.CommandErrors.Inc()
		s.log.Error().Err(err).Str("sender", conv.Sender).Msg("сбой повторной рассылки")
		return
	}
	s.log.Info().Str("sender", conv.Sender).Int("sent", sent).Msg("повторная рассылка выполнена")
}

func (s *Service) handleResendAll(ctx context.Context, conv domain.Conversation, args []string) {
	if conv.Sender != s.admin {
		s.log.Warn().Str("sender", conv.Sender).Msg("resendall от непривилегированного адреса")
		return
	}
	count, ok := parseResendCount(args)
	if !ok {
		s.log.Info().Strs("args", args).Msg("resendall с некорректным количеством проигнорирован")
		return
	}
	matched, err := s.dispatcher.ResendAll(ctx, count)
	if err != nil {
		metrics.CommandErrors.Inc()
		s.log.Error().Err(err).Msg("сбой общей повторной рассылки")
		return
	}
	s.log.Info().Int("items", matched).Msg("общая повторная рассылка выполнена")
}

func parseResendCount(args []string) (int, bool) {
	if len(args) == 0 {
		return dispatch.ResendDefault, true
	}
	count, err := strconv.Atoi(args[0])
	if err != nil || count <= 0 {
		return 0, false
	}
	return count, true
}

func (s *Service) reply(ctx context.Context, conv domain.Conversation, text string) {
	if err := s.messenger.SendDirectMessage(ctx, conv.Sender, text, conv.LastStatusID); err != nil {
		metrics.CommandErrors.Inc()
		s.log.Error().Err(err).Str("sender", conv.Sender).Msg("не удалось отправить ответ")
	}
}

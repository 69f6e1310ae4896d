package dispatch

import "fedi-tube-bot/internal/domain"

// RedirectHost — инстанс-редиректор, сам выбирающий зеркало при переходе.
const RedirectHost = "redirect.invidious.io"

// Resolve выбирает хост для ссылки в уведомлении по предпочтению
// подписчика. Чистая функция: выбор случайного зеркала делегирован pick.
func Resolve(preference string, state domain.PollState, defaultHost string, mirrors []string, pick func(n int) int) string {
	fixed := func() string {
		if state.FixedInstanceHost != "" {
			return state.FixedInstanceHost
		}
		return defaultHost
	}
	switch preference {
	case "", domain.InstanceFixed:
		return fixed()
	case domain.InstanceRandom:
		if len(mirrors) == 0 || pick == nil {
			return fixed()
		}
		return mirrors[pick(len(mirrors))]
	case domain.InstanceRedirect:
		return RedirectHost
	default:
		// подписчик закрепил за собой конкретное зеркало
		return preference
	}
}

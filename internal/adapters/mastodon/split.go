package mastodon

import (
	"strings"
	"unicode/utf8"
)

// Лимит статуса Mastodon — 500 символов. Упоминание получателя считается
// по локальной части адреса, поэтому бюджет текста зависит от получателя
// и вычисляется через messageBudget.
const statusLimit = 500

// Нижняя граница бюджета на случай абсурдно длинного имени получателя.
const minBudget = 50

// messageBudget возвращает лимит текста одного фрагмента для получателя:
// лимит статуса минус упоминание "@local " в начале.
func messageBudget(recipient string) int {
	local := recipient
	if i := strings.IndexByte(local, '@'); i >= 0 {
		local = local[:i]
	}
	budget := statusLimit - utf8.RuneCountInString("@"+local+" ")
	if budget < minBudget {
		budget = minBudget
	}
	return budget
}

// SplitMessage разбивает текст на фрагменты, укладывающиеся в limit.
// Разрез предпочтительно проходит по границе строки, чтобы перечни каналов
// не рвались посередине записи.
func SplitMessage(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit < 1 {
		limit = minBudget
	}

	runes := []rune(trimmed)
	if len(runes) <= limit {
		return []string{trimmed}
	}

	var parts []string
	for start := 0; start < len(runes); {
		end := start + limit
		if end >= len(runes) {
			chunk := strings.Trim(string(runes[start:]), "\n")
			if chunk != "" {
				parts = append(parts, chunk)
			}
			break
		}

		split := -1
		for i := end; i > start; i-- {
			if runes[i-1] == '\n' {
				split = i
				break
			}
		}
		if split == -1 {
			split = end
		}

		chunk := strings.Trim(string(runes[start:split]), "\n")
		if chunk != "" {
			parts = append(parts, chunk)
		}

		start = split
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
	}

	if len(parts) == 0 {
		return []string{trimmed}
	}

	return parts
}

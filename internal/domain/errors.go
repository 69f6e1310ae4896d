package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound возвращается, когда запрошенная запись отсутствует в хранилище.
var ErrNotFound = errors.New("запись не найдена")

// ErrAmbiguousChannel возвращается, когда имя канала разрешилось в
// подставной или несовпадающий идентификатор и коррекция не удалась.
var ErrAmbiguousChannel = errors.New("вероятно подставной идентификатор канала")

// UpstreamStatusError — неуспешный статус ответа внешнего API.
type UpstreamStatusError struct {
	Status int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("внешний сервис вернул статус %d", e.Status)
}

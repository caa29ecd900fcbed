// Действие публикации — размеченный вариант {New, Reblog(remote_id)}.
// На диске действие хранится строкой ("new"/"reblog"); строковое представление
// отвергается на границе разбора, внутри процесса живёт только типизированная форма.

package post

import "fmt"

// ActionKind перечисляет виды действий публикации.
type ActionKind uint8

const (
	// ActionNew — опубликовать новый статус из текста и медиа поста.
	ActionNew ActionKind = iota + 1
	// ActionReblog — продвинуть существующий удалённый статус по его id.
	ActionReblog
)

// Строковые представления действий на диске.
const (
	actionNewWire    = "new"
	actionReblogWire = "reblog"
)

// Action — действие поста. Для Reblog поле RemoteID содержит идентификатор
// удалённого статуса; для New оно пусто.
type Action struct {
	Kind     ActionKind
	RemoteID string
}

// NewAction создаёт действие «опубликовать новый статус».
func NewAction() Action { return Action{Kind: ActionNew} }

// ReblogAction создаёт действие «продвинуть удалённый статус remoteID».
func ReblogAction(remoteID string) Action {
	return Action{Kind: ActionReblog, RemoteID: remoteID}
}

// IsReblog сообщает, является ли действие продвижением.
func (a Action) IsReblog() bool { return a.Kind == ActionReblog }

// String возвращает дисковое представление действия.
func (a Action) String() string {
	switch a.Kind {
	case ActionReblog:
		return actionReblogWire
	default:
		return actionNewWire
	}
}

// parseAction восстанавливает действие из дискового представления.
// Идентификатор поста передаётся, чтобы Reblog получил свой RemoteID:
// на диске цель продвижения хранится в поле id поста.
func parseAction(wire, postID string) (Action, error) {
	switch wire {
	case actionNewWire:
		return NewAction(), nil
	case actionReblogWire:
		return ReblogAction(postID), nil
	default:
		return Action{}, fmt.Errorf("unknown post action %q", wire)
	}
}

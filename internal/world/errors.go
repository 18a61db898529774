package world

import "errors"

// Сентинельные ошибки домена. Проверяются через errors.Is.
var (
	// ErrNotFound — ветка/коммит/конфликт/сессия не существует.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState — операция недопустима в текущем состоянии
	// (непустой staging при переключении ветки, Manual без состояния и т.п.).
	ErrInvalidState = errors.New("invalid state")
	// ErrSerialization — снапшот или коммит не закодировался/не разобрался.
	ErrSerialization = errors.New("serialization failure")
	// ErrApplyFailed — обновление ссылается на отсутствующую цель.
	ErrApplyFailed = errors.New("apply failed")
)

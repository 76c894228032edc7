package market

import "errors"

var (
	// ErrInvalidSnapshot 表示历史快照为空或不可用，图表应保持空白。
	ErrInvalidSnapshot = errors.New("invalid history snapshot")

	// ErrOutOfOrderBar 表示推送的 K 线早于已存储的最后一根。
	// 正常的行情源不会触发；触发时丢弃该条更新即可。
	ErrOutOfOrderBar = errors.New("out of order bar")

	// ErrNoSelection 表示尚未选择 symbol/interval。
	ErrNoSelection = errors.New("no symbol/interval selected")

	// ErrInvalidSelection 表示 symbol 或 interval 不合法。
	ErrInvalidSelection = errors.New("invalid symbol or interval")
)

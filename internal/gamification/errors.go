package gamification

import "errors"

// ErrInsufficientResource is the parent kind for every "not enough X" failure.
// No state is mutated when it is returned.
var ErrInsufficientResource = errors.New("insufficient resource")

var (
	ErrInsufficientHearts    = &resourceError{msg: "insufficient hearts"}
	ErrInsufficientCoins     = &resourceError{msg: "insufficient coins"}
	ErrNoStreakSaveAvailable = &resourceError{msg: "no streak save available"}
)

// Silent rejects: idempotence guards, not user-facing errors.
var (
	ErrAlreadyClaimed     = errors.New("already claimed")
	ErrQuestNotCompleted  = errors.New("quest not completed")
	ErrDailyRewardClaimed = errors.New("daily reward already claimed")
	ErrLootUnavailable    = errors.New("loot box not available")
)

var (
	ErrNoPendingBreak   = errors.New("streak is not pending a break")
	ErrHeartsFull       = errors.New("hearts already full")
	ErrStreakSavesFull  = errors.New("streak save limit reached")
	ErrInvalidQuestSlot = errors.New("invalid quest slot")
	ErrUnknownItem      = errors.New("unknown shop item")
	ErrAlreadyActive    = errors.New("item already active")
	ErrInvalidInput     = errors.New("invalid input")
	ErrEngineClosed     = errors.New("engine closed")
)

type resourceError struct {
	msg string
}

func (e *resourceError) Error() string { return e.msg }

func (e *resourceError) Is(target error) bool {
	return target == ErrInsufficientResource
}

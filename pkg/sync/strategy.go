package sync

import (
	"fmt"

	"github.com/kamiazya/scopes/pkg/domain"
)

// Strategy selects how a sync session settles conflicts.
type Strategy string

const (
	// StrategyLocalWins keeps the local branch and records the remote
	// event as shadowed.
	StrategyLocalWins Strategy = "local-wins"

	// StrategyRemoteWins supersedes the local branch tip with a
	// compensating event and re-applies the remote change on top.
	StrategyRemoteWins Strategy = "remote-wins"

	// StrategyLastWriteWins picks the later occurred-at, with the origin
	// device id as tiebreak.
	StrategyLastWriteWins Strategy = "last-write-wins"

	// StrategyManual persists the conflict and applies nothing until a
	// user resolves it.
	StrategyManual Strategy = "manual"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(raw string) (Strategy, error) {
	switch Strategy(raw) {
	case StrategyLocalWins, StrategyRemoteWins, StrategyLastWriteWins, StrategyManual:
		return Strategy(raw), nil
	}
	return "", domain.SyncError(domain.ReasonStrategyInapplicable,
		fmt.Sprintf("unknown conflict strategy %q", raw), nil)
}

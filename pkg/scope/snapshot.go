package scope

import (
	"encoding/json"

	"github.com/kamiazya/scopes/pkg/eventsourcing"
)

// SnapshotCodec serializes Scope state for the snapshot store. All state
// fields are exported, so JSON round-trips the aggregate exactly and a
// snapshot load is indistinguishable from a full replay.
func SnapshotCodec() eventsourcing.SnapshotCodec[*Scope] {
	return eventsourcing.SnapshotCodec[*Scope]{
		Marshal: func(s *Scope) ([]byte, error) {
			return json.Marshal(s)
		},
		Unmarshal: func(data []byte) (*Scope, error) {
			s := &Scope{}
			if err := json.Unmarshal(data, s); err != nil {
				return nil, err
			}
			if s.Aspects == nil {
				s.Aspects = make(map[string][]string)
			}
			return s, nil
		},
	}
}

package callback

import "context"

// Store keeps payloads too large for a callback token, bounded per user.
// References are unique across users, so a reference only resolves for the
// user it was issued to. Put evicts that user's oldest entries beyond the cap
// in the same atomic step. Reads never reorder entries.
type Store interface {
	Put(ctx context.Context, userID int64, payload string) (ref int64, err error)
	Get(ctx context.Context, userID, ref int64) (payload string, ok bool, err error)
}

// Unlimited disables the per-user cap.
const Unlimited = -1

// normalizeCap maps a zero cap to one so a reference is resolvable at least
// until the user's next spill.
func normalizeCap(maxPerUser int) int {
	if maxPerUser == 0 {
		return 1
	}
	return maxPerUser
}

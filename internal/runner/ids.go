package runner

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// idSource hands out monotonic ULIDs. It is not safe for concurrent use;
// each worker owns one.
type idSource struct {
	entropy *ulid.MonotonicEntropy
}

func newIDSource(seed int64) *idSource {
	return &idSource{
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano()+seed)), 0),
	}
}

func (s *idSource) next() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

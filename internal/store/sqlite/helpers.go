package sqlite

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/worldline-go/types"
)

func nowTime() types.Time {
	return types.NewTime(time.Now().UTC())
}

func newID() string {
	return ulid.Make().String()
}

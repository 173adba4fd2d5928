// Package all blank-imports every extension namespace so cmd/clawd only
// needs one import to populate the dispatch table, mirroring the
// teacher's internal/service/workflow/nodes registration idiom.
package all

import (
	_ "github.com/clawde-io/clawd/internal/ext/device"
	_ "github.com/clawde-io/clawd/internal/ext/doctor"
	_ "github.com/clawde-io/clawd/internal/ext/notify"
	_ "github.com/clawde-io/clawd/internal/ext/packs"
	_ "github.com/clawde-io/clawd/internal/ext/tasks"
	_ "github.com/clawde-io/clawd/internal/ext/worktrees"
)

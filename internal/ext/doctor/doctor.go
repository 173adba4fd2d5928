// Package doctor implements the doctor.run extension namespace backing
// `clawd doctor` (spec §4.10 expansion): storage reachability, WAL
// checkpoint status, provider detect() fan-out, and disk space on
// data_dir.
package doctor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/clawde-io/clawd/internal/app"
	"github.com/clawde-io/clawd/internal/domain"
	"github.com/clawde-io/clawd/internal/ext"
	"github.com/clawde-io/clawd/internal/provider"
)

func init() {
	ext.Register("doctor.run", run)
}

// Report is the doctor.run result, one section per check.
type Report struct {
	Storage   StorageCheck                       `json:"storage"`
	Providers map[string]provider.DetectResult   `json:"providers"`
	Disk      DiskCheck                          `json:"disk"`
}

type StorageCheck struct {
	Reachable     bool   `json:"reachable"`
	CheckpointOK  bool   `json:"checkpointOk"`
	Error         string `json:"error,omitempty"`
}

type DiskCheck struct {
	Path        string `json:"path"`
	FreeBytes   int64  `json:"freeBytes"`
	TotalBytes  int64  `json:"totalBytes"`
	Unsupported bool   `json:"unsupported,omitempty"`
}

func run(ctx context.Context, appCtx *app.Context, _ json.RawMessage) (any, error) {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	report := Report{}

	if _, err := appCtx.Storage.Sessions().List(checkCtx, domain.SessionFilter{}, domain.Pagination{Limit: 1}); err != nil {
		report.Storage.Error = err.Error()
	} else {
		report.Storage.Reachable = true
	}

	if err := appCtx.Storage.Checkpoint(checkCtx); err != nil {
		if report.Storage.Error == "" {
			report.Storage.Error = err.Error()
		}
	} else {
		report.Storage.CheckpointOK = true
	}

	if appCtx.Providers != nil {
		report.Providers = appCtx.Providers.DetectAll(checkCtx)
	}

	dataDir := ""
	if appCtx.Config != nil {
		dataDir = appCtx.Config.DataDir
	}
	free, total, ok := diskSpace(dataDir)
	report.Disk = DiskCheck{Path: dataDir, FreeBytes: free, TotalBytes: total, Unsupported: !ok}

	return report, nil
}

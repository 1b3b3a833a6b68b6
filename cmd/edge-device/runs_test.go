package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgecloud/internal/model"
	"edgecloud/internal/repository/sqlite"
)

func runsWithDB(t *testing.T) (string, *bytes.Buffer) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "detections.db")
	require.NoError(t, runsCmd.Flags().Set("db", path))

	var out bytes.Buffer
	runsCmd.SetOut(&out)
	t.Cleanup(func() { runsCmd.SetOut(nil) })
	return path, &out
}

func TestRuns_InvalidID(t *testing.T) {
	runsWithDB(t)

	err := runRuns(runsCmd, []string{"twelve"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid run id "twelve"`)
}

func TestRuns_ListsRunsAndCategories(t *testing.T) {
	path, out := runsWithDB(t)

	db, err := sqlite.New(path)
	require.NoError(t, err)
	run := &model.StreamRun{Stream: "uav0000086", Source: "images", StartedAt: time.Now()}
	id, err := sqlite.NewRunRepository(db).Start(run)
	require.NoError(t, err)
	require.NoError(t, sqlite.NewDetectionRepository(db).InsertBatch(id, []model.DetectionView{
		{FrameID: 1, BBox: model.BBox{1, 2, 3, 4}, Category: "car", Score: 90, Source: model.Edge},
		{FrameID: 2, BBox: model.BBox{1, 2, 3, 4}, Category: "car", Score: 88, Source: model.Cloud},
	}))
	require.NoError(t, db.Close())

	require.NoError(t, runRuns(runsCmd, nil))
	assert.Contains(t, out.String(), "uav0000086")

	out.Reset()
	require.NoError(t, runRuns(runsCmd, []string{"1"}))
	assert.Contains(t, out.String(), "CATEGORY")
	assert.Regexp(t, `car\s+2`, out.String())
}

package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"logistics/internal/config"
	"logistics/pkg/domain"
)

type fakeSource struct {
	tables map[string]domain.Table
	errs   map[string]error
	calls  []string
}

func (f *fakeSource) FetchReport(_ context.Context, p config.Project, reportID string) (domain.Table, error) {
	f.calls = append(f.calls, p.Name+":"+reportID)
	if err := f.errs[p.Name]; err != nil {
		return domain.Table{}, err
	}
	return f.tables[p.Name], nil
}

type countingRecorder struct {
	observed map[string]bool
	orders   map[string]int
}

func (c *countingRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.observed[op] = success
}

func (c *countingRecorder) Orders(project, _ string, n int) { c.orders[project] += n }

func TestEngineIsolatesProjectFailures(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	src := &fakeSource{
		tables: map[string]domain.Table{
			"HCT": table(
				row("1", "enrollment_arm_1", 0, map[string]string{"City": "Seattle"}),
				row("1", "encounter_arm_1", 1, withReplacement(map[string]string{"Order Date": "2024-01-01 10:00:00"})),
			),
			"Flat": table(),
		},
		errs: map[string]error{"AIRS": errors.New("connection refused")},
	}
	rec := &countingRecorder{observed: map[string]bool{}, orders: map[string]int{}}
	engine := NewEngine(src, nil, zap.New(core), WithRecorder(rec))

	projects := []config.Project{
		{Name: "AIRS", Strategy: config.StrategyAIRS, ReportID: "2", Longitudinal: true},
		hctProjectWithReport("1"),
		{Name: "Flat", Strategy: config.StrategyPassthrough, ReportID: "3"},
		{Name: "Odd", Strategy: "mystery", ReportID: "4"},
	}
	invalid := map[string]error{"SCAN": config.ErrProjectConfig}

	res := engine.Run(context.Background(), projects, invalid)

	require.Len(t, res.Projects, 5)
	assert.Equal(t, []string{"AIRS", "Odd", "SCAN"}, res.Failed())
	require.Len(t, res.Orders(), 1)
	assert.Equal(t, "1", res.Orders()[0].EntityID)
	assert.ErrorIs(t, res.Projects[3].Err, config.ErrProjectConfig)
	assert.ErrorIs(t, res.Projects[3].Err, ErrUnknownStrategy)
	assert.ErrorIs(t, res.Projects[4].Err, config.ErrProjectConfig)

	assert.Equal(t, []string{"AIRS:2", "HCT:1", "Flat:3"}, src.calls)
	assert.False(t, rec.observed["orders.AIRS"])
	assert.True(t, rec.observed["orders.HCT"])
	assert.Equal(t, 1, rec.orders["HCT"])

	assert.Equal(t, 3, logs.FilterMessage("failed to generate orders").Len()+logs.FilterMessage("skipping project").Len())
	assert.Equal(t, 1, logs.FilterMessage("report is empty").Len())
}

func TestEngineStopsFetchingAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &fakeSource{}
	res := NewEngine(src, nil, nil).Run(ctx, []config.Project{hctProjectWithReport("1")}, nil)

	require.Len(t, res.Projects, 1)
	assert.ErrorIs(t, res.Projects[0].Err, context.Canceled)
	assert.Empty(t, src.calls)
}

func hctProjectWithReport(id string) config.Project {
	p := hctProject()
	p.ReportID = id
	return p
}

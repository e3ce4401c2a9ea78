package redcap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logistics/internal/config"
)

func testProject(url string) config.Project {
	return config.Project{
		Name:     "HCT",
		Token:    "secret",
		APIURL:   url,
		ReportID: "1924",
		IDField:  "record_id",
		Columns: map[string]string{
			"record_id":       "Record Id",
			"core_home_city":  "City",
			"es_pt_last_name": "Last Name",
			"ss_pt_last_name": "Last Name",
			"time_test_order": "Order Date",
		},
	}
}

func TestFetchReportRenamesAndSorts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "secret", r.PostForm.Get("token"))
		assert.Equal(t, "report", r.PostForm.Get("content"))
		assert.Equal(t, "1924", r.PostForm.Get("report_id"))
		_, _ = w.Write([]byte(`[
			{"record_id": "10", "redcap_event_name": "encounter_arm_1", "redcap_repeat_instrument": "", "redcap_repeat_instance": "", "core_home_city": "Seattle", "time_test_order": "2022-03-01 10:00:00", "es_pt_last_name": "", "ss_pt_last_name": "Doe"},
			{"record_id": "9", "redcap_event_name": "enrollment_arm_1", "redcap_repeat_instrument": "", "redcap_repeat_instance": "", "core_home_city": "Tacoma", "time_test_order": "", "es_pt_last_name": "Roe", "ss_pt_last_name": ""},
			{"record_id": 9, "redcap_event_name": "encounter_arm_1", "redcap_repeat_instrument": "symptom_survey", "redcap_repeat_instance": 2, "core_home_city": null, "time_test_order": "", "es_pt_last_name": "", "ss_pt_last_name": ""}
		]`))
	}))
	defer srv.Close()

	c := NewClient(DefaultConfig(), nil)
	table, err := c.FetchReport(context.Background(), testProject(srv.URL), "")
	require.NoError(t, err)
	require.Equal(t, 3, table.Len())

	rows := table.Rows()
	assert.Equal(t, "9", rows[0].Key.EntityID)
	assert.Equal(t, "encounter_arm_1", rows[0].Key.Event)
	assert.Equal(t, "symptom_survey", rows[0].Key.Instrument)
	assert.Equal(t, 2, rows[0].Key.Instance)
	assert.Equal(t, "enrollment_arm_1", rows[1].Key.Event)
	assert.Equal(t, "Roe", rows[1].Get("Last Name"))
	assert.Equal(t, "Tacoma", rows[1].Get("City"))
	assert.Equal(t, "10", rows[2].Key.EntityID)
	assert.Equal(t, "Doe", rows[2].Get("Last Name"))
	assert.Equal(t, "2022-03-01 10:00:00", rows[2].Get("Order Date"))
	assert.True(t, table.HasColumns("City", "Last Name", "Record Id", "redcap_event_name"))
	assert.False(t, table.HasColumns("core_home_city"))
}

func TestFetchReportErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"You do not have permissions to use the API"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewClient(DefaultConfig(), nil).FetchReport(context.Background(), testProject(srv.URL), "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestFetchReportRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[` + strings.Repeat(`{"a":"b"},`, 20) + `{"a":"b"}]`))
	}))
	defer srv.Close()

	c := NewClient(Config{MaxResponseSize: 32}, nil)
	_, err := c.FetchReport(context.Background(), testProject(srv.URL), "1")
	assert.ErrorContains(t, err, "too large")
}

func TestFetchReportEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	table, err := NewClient(DefaultConfig(), nil).FetchReport(context.Background(), testProject(srv.URL), "1")
	require.NoError(t, err)
	assert.Zero(t, table.Len())
}

func TestImportRecordsBatches(t *testing.T) {
	var batches []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "record", r.PostForm.Get("content"))
		assert.Equal(t, "overwrite", r.PostForm.Get("overwriteBehavior"))
		var data []map[string]string
		require.NoError(t, json.Unmarshal([]byte(r.PostForm.Get("data")), &data))
		batches = append(batches, len(data))
		_ = json.NewEncoder(w).Encode(map[string]int{"count": len(data)})
	}))
	defer srv.Close()

	records := make([]map[string]string, 120)
	for i := range records {
		records[i] = map[string]string{"record_id": "1", "ss_return_tracking": "T"}
	}
	n, err := NewClient(DefaultConfig(), nil).ImportRecords(context.Background(), testProject(srv.URL), records, 0)
	require.NoError(t, err)
	assert.Equal(t, 120, n)
	assert.Equal(t, []int{50, 50, 20}, batches)
}

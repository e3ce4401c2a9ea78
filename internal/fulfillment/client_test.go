package fulfillment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"logistics/pkg/domain"
)

func testClient(url string) *Client {
	return NewClient(Config{
		SearchURL:       url,
		Authorization:   "user:secret",
		ProjectMarker:   "CASCADIA",
		InitialInterval: time.Millisecond,
	}, zap.NewNop())
}

func order(id string, date time.Time) domain.Order {
	return domain.Order{
		EntityID:  id,
		OrderDate: date,
		Source:    domain.RecordKey{EntityID: "100", Event: "1_arm_1", Instrument: domain.InstrumentSymptomSurvey, Instance: 3},
	}
}

func TestLookupPicksOrderCreatedAfterLocalDate(t *testing.T) {
	var auth, query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		var req searchRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		query = req.Query
		assert.Equal(t, []string{"referenceNumber1"}, req.SearchFields)
		_, _ = w.Write([]byte(`{"totalCount":2,"items":[
			{"orderId":"DE-EARLY","createdAt":"2022-02-20T06:54:19.7770043-07:00","referenceNumber1":"556","referenceNumber3":"CASCADIA_SEA"},
			{"orderId":"DE-LATE","createdAt":"2022-04-01T06:54:19.7770043-07:00","referenceNumber1":556,"referenceNumber3":"CASCADIA_SEA"}
		]}`))
	}))
	defer srv.Close()

	id, ok, err := testClient(srv.URL).Lookup(context.Background(), order("556.0", time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "DE-LATE", id)
	assert.Equal(t, "556", query)
	assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("user:secret")), auth)
}

func TestMatchLastQualifyingItemWins(t *testing.T) {
	items := []Item{
		{OrderID: "A", CreatedAt: "2022-05-01T00:00:00Z", ReferenceNumber1: "7", ReferenceNumber3: "CASCADIA_PDX"},
		{OrderID: "B", CreatedAt: "2022-04-01T00:00:00Z", ReferenceNumber1: "7", ReferenceNumber3: "CASCADIA_PDX"},
		{OrderID: "C", CreatedAt: "2022-06-01T00:00:00Z", ReferenceNumber1: "8", ReferenceNumber3: "CASCADIA_PDX"},
		{OrderID: "D", CreatedAt: "2022-06-01T00:00:00Z", ReferenceNumber1: "7", ReferenceNumber3: "HCT"},
		{OrderID: "E", CreatedAt: "garbage", ReferenceNumber1: "7", ReferenceNumber3: "CASCADIA_PDX"},
	}
	id, ok := Match(items, "7", "CASCADIA", time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC), nil)
	assert.True(t, ok)
	assert.Equal(t, "B", id)

	_, ok = Match(items, "7", "CASCADIA", time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC), nil)
	assert.False(t, ok)
}

func TestMatchComparesWallClockIgnoringZone(t *testing.T) {
	items := []Item{{OrderID: "X", CreatedAt: "2022-03-01T08:00:00-07:00", ReferenceNumber1: "1", ReferenceNumber3: "CASCADIA"}}
	_, ok := Match(items, "1", "CASCADIA", time.Date(2022, 3, 1, 8, 0, 0, 0, time.UTC), nil)
	assert.False(t, ok, "equal wall clock is not strictly after")
	_, ok = Match(items, "1", "CASCADIA", time.Date(2022, 3, 1, 7, 59, 0, 0, time.UTC), nil)
	assert.True(t, ok)
}

func TestLookupNoOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"totalCount":0,"items":[]}`))
	}))
	defer srv.Close()

	_, ok, err := testClient(srv.URL).Lookup(context.Background(), order("1", time.Now()))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSearchRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"totalCount":1,"items":[{"orderId":"OK","referenceNumber1":"1"}]}`))
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL).Search(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "OK", resp.Items[0].OrderID)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

type retryCounter struct{ n int }

func (r *retryCounter) Retry(string) { r.n++ }

func TestSearchGivesUpAfterFiveAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := &retryCounter{}
	c := NewClient(Config{SearchURL: srv.URL, InitialInterval: time.Millisecond}, zap.NewNop(), WithRecorder(rec))
	_, err := c.Search(context.Background(), "1")
	assert.ErrorIs(t, err, ErrLookupExhausted)
	assert.EqualValues(t, 5, atomic.LoadInt32(&calls))
	assert.Equal(t, 4, rec.n)
}

func TestSearchDoesNotRetryMalformedReplies(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Search(context.Background(), "1")
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.NotErrorIs(t, err, ErrLookupExhausted)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestReconcileAbortsOnExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Query == "2" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"totalCount":1,"items":[{"orderId":"DE1","createdAt":"2022-05-01T00:00:00","referenceNumber1":"1","referenceNumber3":"CASCADIA_SEA"}]}`))
	}))
	defer srv.Close()

	date := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)
	matches, err := testClient(srv.URL).Reconcile(context.Background(), []domain.Order{order("1", date), order("2", date), order("3", date)})
	assert.ErrorIs(t, err, ErrLookupExhausted)
	require.Len(t, matches, 1)
	assert.Equal(t, "DE1", matches[0].OrderID)
}

func TestReferenceAcceptsStringsAndNumbers(t *testing.T) {
	var items []Item
	require.NoError(t, json.Unmarshal([]byte(`[{"referenceNumber1":"12"},{"referenceNumber1":12},{"referenceNumber1":null}]`), &items))
	assert.Equal(t, Reference("12"), items[0].ReferenceNumber1)
	assert.Equal(t, Reference("12"), items[1].ReferenceNumber1)
	assert.Equal(t, Reference(""), items[2].ReferenceNumber1)
}

func TestImportRecords(t *testing.T) {
	got := ImportRecords("record_id", []Tracking{{Order: order("556", time.Time{}), OrderID: "DE9"}})
	assert.Equal(t, []map[string]string{{
		"record_id":                "100",
		"redcap_event_name":        "1_arm_1",
		"redcap_repeat_instrument": "symptom_survey",
		"redcap_repeat_instance":   "3",
		"ss_return_tracking":       "DE9",
	}}, got)
}

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bingwapro/bingwa/model"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var routeColumnNames = []string{
	"route_id", "code", "name", "description", "ussd_string", "processing_mode", "expected_responses",
	"extraction_patterns", "required_step_count", "success_count", "failure_count", "anomaly_count", "success_rate",
	"avg_response_time_ms", "status", "is_active", "meta_data", "last_executed_at", "created_at", "updated_at",
}

func routeRows(success, failure, anomalies int64, rate float64, status model.RouteStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(routeColumnNames).AddRow(
		"route_1", "SAF_AIRTIME", "Safaricom airtime", "", "*140*{amount}*{phone}#", "express",
		[]byte(`[{"step":1,"pattern":"successful"}]`),
		[]byte(`[{"field":"reference","pattern":"Reference: (REF\\d+)","step":1}]`),
		int64(0), success, failure, anomalies, rate,
		150.0, string(status), true, nil, now, now, now,
	)
}

func TestCreateRoute_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	route := &model.UssdRoute{
		ID:             "route_1",
		Code:           "SAF_AIRTIME",
		Name:           "Safaricom airtime",
		DialTemplate:   "*140*{amount}*{phone}#",
		ProcessingMode: model.ProcessingExpress,
		SuccessRate:    100,
		Status:         model.RouteActive,
		IsActive:       true,
	}

	mock.ExpectExec("INSERT INTO bingwa.ussd_routes").
		WithArgs("route_1", "SAF_AIRTIME", "Safaricom airtime", "", "*140*{amount}*{phone}#", model.ProcessingExpress,
			[]byte("[]"), []byte("[]"), 0, 100.0, model.RouteActive, true, []byte("null"), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, ds.CreateRoute(context.Background(), route))
	assert.NotNil(t, route.ExpectedResponses)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRoute_DuplicateCode(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectExec("INSERT INTO bingwa.ussd_routes").WillReturnError(&pq.Error{Code: "23505"})

	err = ds.CreateRoute(context.Background(), &model.UssdRoute{ID: "route_2", Code: "SAF_AIRTIME"})
	assert.True(t, errors.Is(err, model.ErrRouteExists))
}

func TestGetRouteByCode(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectQuery("SELECT (.+) FROM bingwa.ussd_routes WHERE code = \\$1").
		WithArgs("SAF_AIRTIME").
		WillReturnRows(routeRows(9, 1, 0, 90, model.RouteActive))

	route, err := ds.GetRouteByCode(context.Background(), "SAF_AIRTIME")
	require.NoError(t, err)
	assert.Equal(t, "route_1", route.ID)
	require.Len(t, route.ExpectedResponses, 1)
	assert.Equal(t, "successful", route.ExpectedResponses[0].Pattern)
	require.Len(t, route.ExtractionPatterns, 1)
	assert.Equal(t, `Reference: (REF\d+)`, route.ExtractionPatterns[0].Pattern)
	assert.Equal(t, 150.0, *route.AverageResponseTimeMs)
	assert.Nil(t, route.MetaData)
}

func TestUpdateRoute_KeepsStoredStatusWhenUnset(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectQuery("SELECT (.+) FROM bingwa.ussd_routes WHERE route_id = \\$1").
		WithArgs("route_1").
		WillReturnRows(routeRows(80, 20, 0, 80, model.RouteDegraded))
	mock.ExpectQuery("UPDATE bingwa.ussd_routes SET(.+)status = COALESCE\\(\\$10, status\\)(.+)RETURNING status").
		WithArgs("route_1", "SAF_AIRTIME", "renamed", "", "*140*{amount}*{phone}#", model.ProcessingExpress,
			sqlmock.AnyArg(), sqlmock.AnyArg(), 0, nil, true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(model.RouteDegraded)))

	// read before a recomputation degraded the route
	route := &model.UssdRoute{
		ID:             "route_1",
		Code:           "SAF_AIRTIME",
		Name:           "renamed",
		DialTemplate:   "*140*{amount}*{phone}#",
		ProcessingMode: model.ProcessingExpress,
		Status:         model.RouteActive,
		IsActive:       true,
	}
	require.NoError(t, ds.UpdateRoute(context.Background(), route, nil))
	assert.Equal(t, model.RouteDegraded, route.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRoute_WritesExplicitStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	status := model.RouteFailed
	mock.ExpectQuery("SELECT (.+) FROM bingwa.ussd_routes WHERE route_id = \\$1").
		WithArgs("route_1").
		WillReturnRows(routeRows(80, 20, 0, 80, model.RouteActive))
	mock.ExpectQuery("UPDATE bingwa.ussd_routes SET").
		WithArgs("route_1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), model.RouteFailed, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(model.RouteFailed)))

	route := &model.UssdRoute{ID: "route_1", Code: "SAF_AIRTIME", Status: model.RouteActive}
	require.NoError(t, ds.UpdateRoute(context.Background(), route, &status))
	assert.Equal(t, model.RouteFailed, route.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyRouteExecution(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	at := time.Now()

	mock.ExpectQuery("UPDATE bingwa.ussd_routes SET(.+)success_count = success_count \\+ \\$2(.+)RETURNING").
		WithArgs("route_1", int64(0), int64(1), int64(1), int64(300), at).
		WillReturnRows(routeRows(899, 101, 1, 89.9, model.RouteDegraded))

	route, err := ds.ApplyRouteExecution(context.Background(), "route_1", model.ExecutionOutcome{
		Success: false, Anomaly: true, DurationMs: 300, At: at,
	})
	require.NoError(t, err)
	assert.Equal(t, model.RouteDegraded, route.Status)
	assert.Equal(t, int64(101), route.FailureCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

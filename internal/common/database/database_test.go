package database

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"podpiska-billing/internal/common/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_RunsStatementsInTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	client := &PostgresClient{DB: db}
	require.NoError(t, client.Migrate(context.Background(), "CREATE TABLE a ()", "CREATE TABLE b ()"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_RollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE a").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	client := &PostgresClient{DB: db}
	err = client.Migrate(context.Background(), "CREATE TABLE a ()")
	assert.ErrorContains(t, err, "migration statement 1 failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_Ping(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedis(config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, client.Ping(context.Background()))

	mr.Close()
	assert.Error(t, client.Ping(context.Background()))
}

func TestNewRedis_RequiresAddress(t *testing.T) {
	_, err := NewRedis(config.RedisConfig{})
	assert.Error(t, err)
}

func elasticsearchStub(t *testing.T, indexExists bool, created *bool) *ElasticsearchClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		switch r.Method {
		case http.MethodHead:
			if indexExists {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			*created = true
			body, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(body), `"userId"`)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"acknowledged":true}`))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	client, err := NewElasticsearch(config.ElasticsearchConfig{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return client
}

func TestEnsureIndex_CreatesMissingIndex(t *testing.T) {
	created := false
	client := elasticsearchStub(t, false, &created)

	require.NoError(t, client.EnsureIndex(context.Background(), "billing-events"))
	assert.True(t, created)
}

func TestEnsureIndex_LeavesExistingIndex(t *testing.T) {
	created := false
	client := elasticsearchStub(t, true, &created)

	require.NoError(t, client.EnsureIndex(context.Background(), "billing-events"))
	assert.False(t, created)
}

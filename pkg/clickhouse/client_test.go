package clickhouse

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(ClientConfig{
		Host:        "ch",
		Port:        9000,
		Database:    "epicast",
		User:        "default",
		Password:    "p@ss",
		DialTimeout: 5 * time.Second,
		MaxExecTime: time.Minute,
	})
	if !strings.HasPrefix(dsn, "clickhouse://default:p%40ss@ch:9000/epicast?") {
		t.Fatalf("unexpected dsn %s", dsn)
	}
	if !strings.Contains(dsn, "dial_timeout=5s") || !strings.Contains(dsn, "max_execution_time=60") {
		t.Fatalf("missing params in %s", dsn)
	}

	dsn = buildDSN(ClientConfig{Host: "ch", Port: 8123, Database: "x", UseHTTP: true, Compress: true,
		Settings: map[string]string{"max_threads": "4"}})
	if !strings.HasPrefix(dsn, "http://") {
		t.Fatalf("expected http scheme, got %s", dsn)
	}
	if !strings.Contains(dsn, "compress=lz4") || !strings.Contains(dsn, "max_threads=4") {
		t.Fatalf("missing compression or settings in %s", dsn)
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error without host")
	}
	if _, err := NewClient(WithAddress("ch", 0), WithPool(2, 5, 0)); err == nil {
		t.Fatal("expected error for idle > open")
	}
}

func TestOptionsKeepDefaults(t *testing.T) {
	cfg := DefaultClientConfig()
	for _, opt := range []ClientOption{
		WithAddress("ch", 0),
		WithPool(0, 0, 0),
		WithTimeouts(0, time.Minute, 0),
		WithSetting("max_threads", "2"),
	} {
		opt(&cfg)
	}
	if cfg.Port != 9000 || cfg.MaxOpenConns != 10 || cfg.DialTimeout != 5*time.Second {
		t.Fatalf("defaults overwritten: %+v", cfg)
	}
	if cfg.ReadTimeout != time.Minute || cfg.Settings["max_threads"] != "2" {
		t.Fatalf("options not applied: %+v", cfg)
	}
}

func TestInitSchemaStopsOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	c := NewFromDB(db, "epicast")

	mock.ExpectExec("CREATE DATABASE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE").WillReturnError(context.DeadlineExceeded)

	err = c.InitSchema(context.Background(), []string{"CREATE DATABASE IF NOT EXISTS epicast", "CREATE TABLE t (x Int8)", "CREATE TABLE u (y Int8)"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
	if c.Table("predictions") != "epicast.predictions" {
		t.Fatalf("unexpected table %s", c.Table("predictions"))
	}
}

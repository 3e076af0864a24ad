package db

import (
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMySQLDSN(t *testing.T) {
	tests := []struct {
		name    string
		dsn     string
		addr    string
		charset string
	}{
		{name: "bare", dsn: "root@tcp(127.0.0.1:3306)/relayhub", addr: "127.0.0.1:3306"},
		{name: "existing params", dsn: "root@tcp(db:3306)/relayhub?charset=utf8mb4", addr: "db:3306", charset: "utf8mb4"},
		{name: "parseTime disabled", dsn: "root@tcp(db:3306)/relayhub?parseTime=false", addr: "db:3306"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MySQLDSN(tt.dsn)
			require.NoError(t, err)

			cfg, err := mysqldriver.ParseDSN(got)
			require.NoError(t, err)
			assert.True(t, cfg.ParseTime)
			assert.Equal(t, "relayhub", cfg.DBName)
			assert.Equal(t, tt.addr, cfg.Addr)
			if tt.charset != "" {
				assert.Contains(t, got, "charset="+tt.charset)
			}
		})
	}
}

func TestMySQLDSN_Invalid(t *testing.T) {
	_, err := MySQLDSN("not a dsn")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse mysql dsn")
}

func TestConnect_MySQLBadDSN(t *testing.T) {
	_, err := Connect("mysql", "not a dsn")
	require.Error(t, err)
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := Connect("postgres", "whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported driver "postgres"`)
}

func TestConnect_SQLiteAndMigrate(t *testing.T) {
	gormDB, err := Connect("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(gormDB))

	for _, table := range []string{"managed_bots", "admin_grants", "subscribers", "delivery_mappings"} {
		assert.True(t, gormDB.Migrator().HasTable(table), "missing table %s", table)
	}
}

func TestAllModels_Count(t *testing.T) {
	assert.Len(t, AllModels(), 4)
}

package util

const TimeFormat = "2006-01-02 15:04:05"

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

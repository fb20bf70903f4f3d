package db

import (
	"context"
	"database/sql"
)

// versionQueries are tried in order; each query only succeeds on some products,
// and the returned banner is handed to ParseProduct.
var versionQueries = []string{
	"SELECT 'SQLite ' || sqlite_version()",
	"SELECT @@VERSION",
	"SELECT version()",
	"SELECT @@version_comment",
	"SELECT banner FROM v$version WHERE ROWNUM = 1",
	"SELECT 'DB2 ' || service_level FROM SYSIBMADM.ENV_INST_INFO",
	"SELECT 'H2 ' || H2VERSION()",
}

// ProductName returns the first product banner the connection answers with.
func ProductName(ctx context.Context, q Querier) (string, Dialect) {
	for _, query := range versionQueries {
		var banner sql.NullString
		if err := q.QueryRowContext(ctx, query).Scan(&banner); err != nil || !banner.Valid {
			continue
		}
		if d := ParseProduct(banner.String); d != Unknown {
			return banner.String, d
		}
	}
	return "", Unknown
}

// DetectDialect inspects the live connection's product name and falls back to
// the driver name when no version banner is recognized.
func DetectDialect(ctx context.Context, q Querier, driver string) (Dialect, string) {
	if product, d := ProductName(ctx, q); d != Unknown {
		return d, product
	}
	return FromDriver(driver), driver
}

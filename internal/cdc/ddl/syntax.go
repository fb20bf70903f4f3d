package ddl

import (
	"fmt"
	"strings"

	"github.com/katasec/dstream-sync/internal/db"
	"github.com/katasec/dstream-sync/pkg/cdc"
)

// syntax renders the dialect-specific statements of a provisioning pass.
type syntax interface {
	dropTriggers(n Names) []string
	dropJournal(n Names) string
	createJournal(n Names, spec cdc.TableSyncSpec) string
	createTriggers(n Names, spec cdc.TableSyncSpec) []string
	createWatermark(n Names) string
}

func syntaxFor(d db.Dialect) (syntax, bool) {
	switch d {
	case db.MySQL:
		return mysqlSyntax{}, true
	case db.Postgres:
		return postgresSyntax{}, true
	case db.MSSQL:
		return mssqlSyntax{}, true
	case db.Oracle:
		return oracleSyntax{}, true
	case db.DB2:
		return db2Syntax{}, true
	case db.H2:
		return h2Syntax{}, true
	case db.SQLite:
		return sqliteSyntax{}, true
	}
	return nil, false
}

// journalTable renders CREATE TABLE with the identity column first and the
// source columns after it, all nullable.
func journalTable(n Names, spec cdc.TableSyncSpec, d db.Dialect, identity, trailer string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n    %s %s", n.Journal, SyncIDColumn, identity)
	for _, c := range spec.Columns {
		fmt.Fprintf(&b, ",\n    %s", columnDefinition(c, d))
	}
	if trailer != "" {
		fmt.Fprintf(&b, ",\n    %s", trailer)
	}
	b.WriteString("\n)")
	return b.String()
}

func journalInsert(n Names, spec cdc.TableSyncSpec, prefix string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", n.Journal, columnList(spec), prefixedColumns(spec, prefix))
}

type mysqlSyntax struct{}

func (mysqlSyntax) dropTriggers(n Names) []string {
	return []string{
		"DROP TRIGGER IF EXISTS " + n.InsertTrigger,
		"DROP TRIGGER IF EXISTS " + n.UpdateTrigger,
	}
}

func (mysqlSyntax) dropJournal(n Names) string { return "DROP TABLE IF EXISTS " + n.Journal }

func (mysqlSyntax) createJournal(n Names, spec cdc.TableSyncSpec) string {
	return journalTable(n, spec, db.MySQL, "BIGINT NOT NULL AUTO_INCREMENT", "PRIMARY KEY ("+SyncIDColumn+")")
}

func (mysqlSyntax) createTriggers(n Names, spec cdc.TableSyncSpec) []string {
	body := journalInsert(n, spec, "NEW.")
	trigger := func(name, event string) string {
		return fmt.Sprintf("CREATE TRIGGER %s AFTER %s ON %s\nFOR EACH ROW\nBEGIN\n    %s;\nEND", name, event, n.Table, body)
	}
	return []string{trigger(n.InsertTrigger, "INSERT"), trigger(n.UpdateTrigger, "UPDATE")}
}

func (mysqlSyntax) createWatermark(n Names) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s BIGINT NOT NULL)", n.Watermark, SyncIDColumn)
}

type postgresSyntax struct{}

func (postgresSyntax) dropTriggers(n Names) []string {
	return []string{
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", n.InsertTrigger, n.Table),
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", n.UpdateTrigger, n.Table),
		fmt.Sprintf("DROP FUNCTION IF EXISTS %s()", n.Function),
	}
}

func (postgresSyntax) dropJournal(n Names) string { return "DROP TABLE IF EXISTS " + n.Journal }

func (postgresSyntax) createJournal(n Names, spec cdc.TableSyncSpec) string {
	return journalTable(n, spec, db.Postgres, "BIGSERIAL PRIMARY KEY", "")
}

// The function is shared by both triggers.
func (postgresSyntax) createTriggers(n Names, spec cdc.TableSyncSpec) []string {
	fn := fmt.Sprintf("CREATE OR REPLACE FUNCTION %s() RETURNS TRIGGER AS $$\nBEGIN\n    %s;\n    RETURN NULL;\nEND;\n$$ LANGUAGE plpgsql",
		n.Function, journalInsert(n, spec, "NEW."))
	trigger := func(name, event string) string {
		return fmt.Sprintf("CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW EXECUTE PROCEDURE %s()", name, event, n.Table, n.Function)
	}
	return []string{fn, trigger(n.InsertTrigger, "INSERT"), trigger(n.UpdateTrigger, "UPDATE")}
}

func (postgresSyntax) createWatermark(n Names) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s BIGINT NOT NULL)", n.Watermark, SyncIDColumn)
}

type mssqlSyntax struct{}

func (mssqlSyntax) dropTriggers(n Names) []string {
	drop := func(name string) string {
		return fmt.Sprintf("IF OBJECT_ID(N'%s', N'TR') IS NOT NULL DROP TRIGGER %s", name, name)
	}
	return []string{drop(n.InsertTrigger), drop(n.UpdateTrigger)}
}

func (mssqlSyntax) dropJournal(n Names) string {
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s", n.Journal, n.Journal)
}

func (mssqlSyntax) createJournal(n Names, spec cdc.TableSyncSpec) string {
	return journalTable(n, spec, db.MSSQL, "BIGINT IDENTITY(1,1) NOT NULL PRIMARY KEY", "")
}

// SQL Server triggers fire once per statement; the inserted pseudo table holds
// every affected row.
func (mssqlSyntax) createTriggers(n Names, spec cdc.TableSyncSpec) []string {
	cols := columnList(spec)
	trigger := func(name, event string) string {
		return fmt.Sprintf("CREATE TRIGGER %s ON %s AFTER %s AS\nBEGIN\n    SET NOCOUNT ON;\n    INSERT INTO %s (%s) SELECT %s FROM inserted;\nEND",
			name, n.Table, event, n.Journal, cols, cols)
	}
	return []string{trigger(n.InsertTrigger, "INSERT"), trigger(n.UpdateTrigger, "UPDATE")}
}

func (mssqlSyntax) createWatermark(n Names) string {
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s BIGINT NOT NULL)", n.Watermark, n.Watermark, SyncIDColumn)
}

type oracleSyntax struct{}

// oracleIgnoring runs stmt and swallows the given ORA error code.
func oracleIgnoring(stmt string, code int) string {
	return fmt.Sprintf("BEGIN\n    EXECUTE IMMEDIATE '%s';\nEXCEPTION\n    WHEN OTHERS THEN\n        IF SQLCODE != %d THEN\n            RAISE;\n        END IF;\nEND;",
		strings.ReplaceAll(stmt, "'", "''"), code)
}

func (oracleSyntax) dropTriggers(n Names) []string {
	return []string{
		oracleIgnoring("DROP TRIGGER "+n.InsertTrigger, -4080),
		oracleIgnoring("DROP TRIGGER "+n.UpdateTrigger, -4080),
	}
}

func (oracleSyntax) dropJournal(n Names) string {
	return oracleIgnoring("DROP TABLE "+n.Journal, -942)
}

func (oracleSyntax) createJournal(n Names, spec cdc.TableSyncSpec) string {
	return journalTable(n, spec, db.Oracle, "NUMBER(19) GENERATED ALWAYS AS IDENTITY PRIMARY KEY", "")
}

func (oracleSyntax) createTriggers(n Names, spec cdc.TableSyncSpec) []string {
	body := journalInsert(n, spec, ":NEW.")
	trigger := func(name, event string) string {
		return fmt.Sprintf("CREATE OR REPLACE TRIGGER %s\nAFTER %s ON %s\nFOR EACH ROW\nBEGIN\n    %s;\nEND;", name, event, n.Table, body)
	}
	return []string{trigger(n.InsertTrigger, "INSERT"), trigger(n.UpdateTrigger, "UPDATE")}
}

func (oracleSyntax) createWatermark(n Names) string {
	return oracleIgnoring(fmt.Sprintf("CREATE TABLE %s (%s NUMBER(19) NOT NULL)", n.Watermark, SyncIDColumn), -955)
}

type db2Syntax struct{}

// db2Ignoring runs stmt in a compound statement that continues past sqlstate.
func db2Ignoring(stmt, sqlstate string) string {
	return fmt.Sprintf("BEGIN\n    DECLARE CONTINUE HANDLER FOR SQLSTATE '%s' BEGIN END;\n    EXECUTE IMMEDIATE '%s';\nEND",
		sqlstate, strings.ReplaceAll(stmt, "'", "''"))
}

func (db2Syntax) dropTriggers(n Names) []string {
	return []string{
		db2Ignoring("DROP TRIGGER "+n.InsertTrigger, "42704"),
		db2Ignoring("DROP TRIGGER "+n.UpdateTrigger, "42704"),
	}
}

func (db2Syntax) dropJournal(n Names) string {
	return db2Ignoring("DROP TABLE "+n.Journal, "42704")
}

func (db2Syntax) createJournal(n Names, spec cdc.TableSyncSpec) string {
	return journalTable(n, spec, db.DB2, "BIGINT NOT NULL GENERATED ALWAYS AS IDENTITY (START WITH 1 INCREMENT BY 1)", "PRIMARY KEY ("+SyncIDColumn+")")
}

func (db2Syntax) createTriggers(n Names, spec cdc.TableSyncSpec) []string {
	body := journalInsert(n, spec, "N.")
	trigger := func(name, event string) string {
		return fmt.Sprintf("CREATE TRIGGER %s\nAFTER %s ON %s\nREFERENCING NEW AS N\nFOR EACH ROW MODE DB2SQL\nBEGIN ATOMIC\n    %s;\nEND", name, event, n.Table, body)
	}
	return []string{trigger(n.InsertTrigger, "INSERT"), trigger(n.UpdateTrigger, "UPDATE")}
}

func (db2Syntax) createWatermark(n Names) string {
	return db2Ignoring(fmt.Sprintf("CREATE TABLE %s (%s BIGINT NOT NULL)", n.Watermark, SyncIDColumn), "42710")
}

type h2Syntax struct{}

func (h2Syntax) dropTriggers(n Names) []string {
	return []string{
		"DROP TRIGGER IF EXISTS " + n.InsertTrigger,
		"DROP TRIGGER IF EXISTS " + n.UpdateTrigger,
	}
}

func (h2Syntax) dropJournal(n Names) string { return "DROP TABLE IF EXISTS " + n.Journal }

func (h2Syntax) createJournal(n Names, spec cdc.TableSyncSpec) string {
	return journalTable(n, spec, db.H2, "BIGINT AUTO_INCREMENT PRIMARY KEY", "")
}

// H2 has no procedural SQL; triggers are compiled from inline Java source.
// newRow carries the table columns in declared order.
func (h2Syntax) createTriggers(n Names, spec cdc.TableSyncSpec) []string {
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", n.Journal, columnList(spec),
		strings.TrimSuffix(strings.Repeat("?, ", len(spec.Columns)), ", "))
	trigger := func(name, event string) string {
		return fmt.Sprintf(`CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW AS $$
org.h2.api.Trigger create() {
    return new org.h2.api.Trigger() {
        public void fire(java.sql.Connection conn, Object[] oldRow, Object[] newRow) throws java.sql.SQLException {
            try (java.sql.PreparedStatement ps = conn.prepareStatement("%s")) {
                for (int i = 0; i < newRow.length; i++) {
                    ps.setObject(i + 1, newRow[i]);
                }
                ps.executeUpdate();
            }
        }
    };
}
$$`, name, event, n.Table, insert)
	}
	return []string{trigger(n.InsertTrigger, "INSERT"), trigger(n.UpdateTrigger, "UPDATE")}
}

func (h2Syntax) createWatermark(n Names) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s BIGINT NOT NULL)", n.Watermark, SyncIDColumn)
}

type sqliteSyntax struct{}

func (sqliteSyntax) dropTriggers(n Names) []string {
	return []string{
		"DROP TRIGGER IF EXISTS " + n.InsertTrigger,
		"DROP TRIGGER IF EXISTS " + n.UpdateTrigger,
	}
}

func (sqliteSyntax) dropJournal(n Names) string { return "DROP TABLE IF EXISTS " + n.Journal }

func (sqliteSyntax) createJournal(n Names, spec cdc.TableSyncSpec) string {
	return journalTable(n, spec, db.SQLite, "INTEGER PRIMARY KEY AUTOINCREMENT", "")
}

func (sqliteSyntax) createTriggers(n Names, spec cdc.TableSyncSpec) []string {
	body := journalInsert(n, spec, "NEW.")
	trigger := func(name, event string) string {
		return fmt.Sprintf("CREATE TRIGGER %s AFTER %s ON %s\nBEGIN\n    %s;\nEND", name, event, n.Table, body)
	}
	return []string{trigger(n.InsertTrigger, "INSERT"), trigger(n.UpdateTrigger, "UPDATE")}
}

func (sqliteSyntax) createWatermark(n Names) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s INTEGER NOT NULL)", n.Watermark, SyncIDColumn)
}

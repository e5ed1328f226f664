package migrations

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	chstore "strategy-ledger/internal/storage/clickhouse"
)

// ApplyClickHouse creates the target database if needed, applies the
// performance_snapshots schema and returns a connection to that database.
func ApplyClickHouse(ctx context.Context, dsn string, logger *zap.Logger) (*chstore.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}

	adminConn, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	if err := adminConn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", dbName)); err != nil {
		adminConn.Close()
		return nil, fmt.Errorf("create database %s: %w", dbName, err)
	}
	if err := adminConn.Close(); err != nil {
		return nil, fmt.Errorf("close admin connection: %w", err)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}
	if err := applyClickHouse(ctx, conn, logger); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func applyClickHouse(ctx context.Context, conn *chstore.Conn, logger *zap.Logger) error {
	files, err := load(ClickhouseFS, "clickhouse")
	if err != nil {
		return err
	}
	for _, m := range files {
		if err := validateNoSemicolonInStrings(m.SQL); err != nil {
			return fmt.Errorf("validate migration %s: %w", m.Name, err)
		}
		// The driver executes one statement per call.
		for _, stmt := range splitStatements(m.SQL) {
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", m.Name, err)
			}
		}
		logger.Info("clickhouse migration applied", zap.String("file", m.Name))
	}
	return nil
}

// splitStatements splits SQL content into statements by semicolon after
// dropping blank and "--" comment lines. Semicolons inside string literals
// or block comments are not supported; validateNoSemicolonInStrings rejects
// the former.
func splitStatements(input string) []string {
	var filtered []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		filtered = append(filtered, line)
	}
	joined := strings.Join(filtered, "\n")

	var stmts []string
	for _, part := range strings.Split(joined, ";") {
		stmt := strings.TrimSpace(part)
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// validateNoSemicolonInStrings checks that SQL doesn't contain semicolons inside
// single-quoted strings, which would break our simple statement splitter.
// Returns an error if a dangerous pattern is detected.
func validateNoSemicolonInStrings(sql string) error {
	inString := false
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if ch == '\'' {
			// Handle escaped quotes ''
			if i+1 < len(sql) && sql[i+1] == '\'' {
				i++ // skip next quote
				continue
			}
			inString = !inString
		} else if ch == ';' && inString {
			return fmt.Errorf("semicolon found inside string literal - this breaks the migration splitter")
		}
	}
	return nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", fmt.Errorf("clickhouse dsn missing database")
	}
	return db, nil
}

package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/lib/pq"

	"vivarium/pkg/logging"
)

var (
	lineComment   = regexp.MustCompile(`(?m)^[ \t]*--.*$`)
	blockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	copyFromStdin = regexp.MustCompile(`(?i)^COPY\s+.+\s+FROM\s+stdin`)
)

// pq error codes that mean the object is already there.
var alreadyExistsCodes = map[pq.ErrorCode]bool{
	"42P07": true, // duplicate_table
	"42710": true, // duplicate_object
	"42P06": true, // duplicate_schema
	"42723": true, // duplicate_function
	"42P04": true, // duplicate_database
}

// ScriptResult summarises a script run.
type ScriptResult struct {
	Executed int
	Skipped  int
}

// SplitStatements strips SQL comments and splits on semicolons. Dollar-quoted
// bodies containing semicolons are not supported.
func SplitStatements(script string) []string {
	cleaned := lineComment.ReplaceAllString(script, "")
	cleaned = blockComment.ReplaceAllString(cleaned, "")

	var stmts []string
	for _, part := range strings.Split(cleaned, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// ApplyScriptFile loads a plain SQL dump (pg_dump --inserts) and runs it
// statement by statement in autocommit mode. Statements failing because
// the object already exists are skipped with a warning.
func ApplyScriptFile(ctx context.Context, s *Session, path string, logger logging.Logger) (*ScriptResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return nil, fmt.Errorf("script %s is empty", path)
	}
	return ApplyScript(ctx, s, string(content), logger)
}

// ApplyScript runs every statement of script.
func ApplyScript(ctx context.Context, s *Session, script string, logger logging.Logger) (*ScriptResult, error) {
	if err := s.SetAutocommit(true); err != nil {
		return nil, err
	}

	result := &ScriptResult{}
	for _, stmt := range SplitStatements(script) {
		if copyFromStdin.MatchString(stmt) {
			return result, fmt.Errorf("COPY ... FROM stdin is not supported; dump with --inserts")
		}

		err := s.ExecuteCommand(ctx, stmt)
		if err == nil {
			result.Executed++
			continue
		}

		var pqErr *pq.Error
		if errors.As(err, &pqErr) && alreadyExistsCodes[pqErr.Code] {
			result.Skipped++
			logger.Warn(ctx, "[SCRIPT_SKIP] Object already exists", logging.Fields{
				"statement": truncate(stmt, 100),
				"code":      string(pqErr.Code),
			})
			continue
		}
		return result, fmt.Errorf("statement failed (%s): %w", truncate(stmt, 100), err)
	}

	logger.Info(ctx, "[SCRIPT_COMPLETE] SQL script applied", logging.Fields{
		"executed": result.Executed,
		"skipped":  result.Skipped,
	})
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

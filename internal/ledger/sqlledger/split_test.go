package sqlledger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/revmigrate/internal/database"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name    string
		dialect database.Dialect
		script  string
		want    []string
	}{
		{
			name:    "plain statements",
			dialect: database.SQLite,
			script:  "CREATE TABLE a (id INTEGER);\nINSERT INTO a VALUES (1);",
			want:    []string{"CREATE TABLE a (id INTEGER)", "INSERT INTO a VALUES (1)"},
		},
		{
			name:    "no trailing semicolon",
			dialect: database.SQLite,
			script:  "SELECT 1;\nSELECT 2",
			want:    []string{"SELECT 1", "SELECT 2"},
		},
		{
			name:    "semicolon in string",
			dialect: database.SQLite,
			script:  "INSERT INTO a VALUES ('x;y');INSERT INTO a VALUES ('it''s;')",
			want:    []string{"INSERT INTO a VALUES ('x;y')", "INSERT INTO a VALUES ('it''s;')"},
		},
		{
			name:    "semicolon in comments",
			dialect: database.Postgres,
			script:  "-- first; still comment\nSELECT 1; /* block; comment */ SELECT 2;",
			want:    []string{"-- first; still comment\nSELECT 1", "/* block; comment */ SELECT 2"},
		},
		{
			name:    "comment only statements dropped",
			dialect: database.SQLite,
			script:  "-- nothing to do\n;\n/* really */;",
			want:    nil,
		},
		{
			name:    "dollar quoted body",
			dialect: database.Postgres,
			script: "CREATE FUNCTION f() RETURNS int AS $body$ BEGIN RETURN 1; END; $body$ LANGUAGE plpgsql;\n" +
				"SELECT f();",
			want: []string{
				"CREATE FUNCTION f() RETURNS int AS $body$ BEGIN RETURN 1; END; $body$ LANGUAGE plpgsql",
				"SELECT f()",
			},
		},
		{
			name:    "anonymous dollar quote",
			dialect: database.Postgres,
			script:  "DO $$ BEGIN PERFORM 1; END $$;",
			want:    []string{"DO $$ BEGIN PERFORM 1; END $$"},
		},
		{
			name:    "mysql backticks and backslash escapes",
			dialect: database.MySQL,
			script:  "INSERT INTO `a;b` VALUES ('x\\';y');SELECT 1;",
			want:    []string{"INSERT INTO `a;b` VALUES ('x\\';y')", "SELECT 1"},
		},
		{
			name:    "sqlite trigger body",
			dialect: database.SQLite,
			script: "CREATE TRIGGER t AFTER INSERT ON a BEGIN\n" +
				"  UPDATE b SET n = n + 1;\n" +
				"  DELETE FROM c;\n" +
				"END;\n" +
				"SELECT 1;",
			want: []string{
				"CREATE TRIGGER t AFTER INSERT ON a BEGIN\n  UPDATE b SET n = n + 1;\n  DELETE FROM c;\nEND",
				"SELECT 1",
			},
		},
		{
			name:    "sqlite trigger with case expression",
			dialect: database.SQLite,
			script: "CREATE TRIGGER trg AFTER INSERT ON t BEGIN " +
				"UPDATE t SET a = CASE WHEN 1 THEN 2 END; UPDATE t SET b = 1; END;\n" +
				"SELECT 2;",
			want: []string{
				"CREATE TRIGGER trg AFTER INSERT ON t BEGIN UPDATE t SET a = CASE WHEN 1 THEN 2 END; UPDATE t SET b = 1; END",
				"SELECT 2",
			},
		},
		{
			name:    "sqlite trigger with quoted end and case in when clause",
			dialect: database.SQLite,
			script: "CREATE TEMP TRIGGER trg BEFORE UPDATE ON t WHEN CASE new.a WHEN 0 THEN 1 ELSE 0 END BEGIN\n" +
				"  INSERT INTO log VALUES ('END;', \"end\");\n" +
				"  SELECT CASE WHEN new.a > 1 THEN RAISE(ABORT, 'too big') END;\n" +
				"END;\n" +
				"DROP TABLE x;",
			want: []string{
				"CREATE TEMP TRIGGER trg BEFORE UPDATE ON t WHEN CASE new.a WHEN 0 THEN 1 ELSE 0 END BEGIN\n" +
					"  INSERT INTO log VALUES ('END;', \"end\");\n" +
					"  SELECT CASE WHEN new.a > 1 THEN RAISE(ABORT, 'too big') END;\n" +
					"END",
				"DROP TABLE x",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitStatements(tt.script, tt.dialect))
		})
	}
}

func TestBlockDepth(t *testing.T) {
	tests := []struct {
		stmt string
		want int
	}{
		{"CREATE TRIGGER x AFTER INSERT ON t BEGIN", 1},
		{"CREATE TRIGGER x AFTER INSERT ON t BEGIN SELECT CASE WHEN 1 THEN 2", 2},
		{"CREATE TRIGGER x AFTER INSERT ON t BEGIN SELECT 'end' END", 0},
		{"CREATE TRIGGER x AFTER INSERT ON t BEGIN SELECT [end]", 1},
		{"UPDATE backend SET ending = 1", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, blockDepth(tt.stmt), tt.stmt)
	}
}

package envfile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Parse Tests
// =============================================================================

func TestParse_Simple(t *testing.T) {
	entries := Parse("WEB_PORT=3000\nAPI_PORT=8001\n")
	assert.Equal(t, map[string]string{
		"WEB_PORT": "3000",
		"API_PORT": "8001",
	}, entries)
}

func TestParse_SkipsCommentsAndBlanks(t *testing.T) {
	content := "# ports\n\nWEB_PORT=3000\n   # indented comment\n"
	entries := Parse(content)
	assert.Equal(t, map[string]string{"WEB_PORT": "3000"}, entries)
}

func TestParse_LastOccurrenceWins(t *testing.T) {
	entries := Parse("KEY=first\nKEY=second\n")
	assert.Equal(t, "second", entries["KEY"])
}

func TestParse_ValueWithEquals(t *testing.T) {
	entries := Parse("DSN=postgres://u:p@host/db?sslmode=disable\n")
	assert.Equal(t, "postgres://u:p@host/db?sslmode=disable", entries["DSN"])
}

func TestLookup_Missing(t *testing.T) {
	_, ok := Lookup("WEB_PORT=3000\n", "API_PORT")
	assert.False(t, ok)
}

// =============================================================================
// Merge Tests
// =============================================================================

func TestMerge_ReplacesInPlace(t *testing.T) {
	content := "# generated\nWEB_PORT=3000\nAPI_PORT=8001\n"
	out := Merge(content, []Var{{Key: "WEB_PORT", Value: "3001"}})
	assert.Equal(t, "# generated\nWEB_PORT=3001\nAPI_PORT=8001\n", out)
}

func TestMerge_AppendsMissingKeys(t *testing.T) {
	out := Merge("WEB_PORT=3000\n", []Var{
		{Key: "DB_PASSWORD", Value: "pw"},
		{Key: "MINIO_PASSWORD", Value: "pw2"},
	})
	assert.Equal(t, "WEB_PORT=3000\nDB_PASSWORD=pw\nMINIO_PASSWORD=pw2\n", out)
}

func TestMerge_PreservesCommentsAndOrder(t *testing.T) {
	content := "# web settings\nWEB_PORT=3000\n\n# database\nDB_PASSWORD=old\n"
	out := Merge(content, []Var{{Key: "DB_PASSWORD", Value: "new"}})
	assert.Equal(t, "# web settings\nWEB_PORT=3000\n\n# database\nDB_PASSWORD=new\n", out)
}

func TestMerge_Idempotent(t *testing.T) {
	vars := []Var{
		{Key: "WEB_PORT", Value: "3000"},
		{Key: "API_PORT", Value: "8001"},
		{Key: "DB_PASSWORD", Value: "pw"},
	}
	once := Merge("# header\n", vars)
	twice := Merge(once, vars)
	assert.Equal(t, once, twice)
}

func TestMerge_NoDuplicateKeys(t *testing.T) {
	out := Merge("", []Var{{Key: "WEB_PORT", Value: "3000"}})
	out = Merge(out, []Var{{Key: "WEB_PORT", Value: "3001"}})
	assert.Equal(t, 1, strings.Count(out, "WEB_PORT="))
	assert.Contains(t, out, "WEB_PORT=3001")
}

func TestMerge_EmptyContent(t *testing.T) {
	out := Merge("", []Var{{Key: "KEY", Value: "v"}})
	assert.Equal(t, "KEY=v\n", out)
}

func TestMerge_TableDriven(t *testing.T) {
	tests := []struct {
		name    string
		content string
		vars    []Var
		want    string
	}{
		{"replace-single", "A=1\n", []Var{{"A", "2"}}, "A=2\n"},
		{"append-to-empty", "", []Var{{"A", "1"}}, "A=1\n"},
		{"keep-unrelated", "A=1\nB=2\n", []Var{{"B", "3"}}, "A=1\nB=3\n"},
		{"comment-untouched", "# c\nA=1\n", []Var{{"A", "2"}}, "# c\nA=2\n"},
		{"no-trailing-newline", "A=1", []Var{{"A", "2"}}, "A=2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Merge(tt.content, tt.vars))
		})
	}
}

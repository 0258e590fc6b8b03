package sqlqueries

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
)

// Template is a named SQL string with positional %s slots. Templates are
// package level values and never modified after definition.
type Template struct {
	Name  string
	Text  string
	Slots int
}

func newTemplate(name, text string) Template {
	return Template{Name: name, Text: text, Slots: strings.Count(text, "%s")}
}

func (t Template) Render(args ...any) (string, error) {
	if len(args) != t.Slots {
		return "", errors.NotValidf("template %s takes %d arguments, got %d", t.Name, t.Slots, len(args))
	}
	return fmt.Sprintf(t.Text, args...), nil
}

func (t Template) MustRender(args ...any) string {
	s, err := t.Render(args...)
	if err != nil {
		panic(err)
	}
	return s
}

var (
	Copy = newTemplate("copy", `
COPY %s
FROM '%s'
ACCESS_KEY_ID '%s'
SECRET_ACCESS_KEY '%s'
REGION AS '%s'
%s;
`)

	InsertInto = newTemplate("insert_into", `
INSERT INTO %s
%s;
`)

	Truncate  = newTemplate("truncate", "TRUNCATE TABLE %s;")
	DeleteAll = newTemplate("delete_all", "DELETE FROM %s;")

	// NullCount and HasRows are the two shapes of data quality check: the
	// first passes trivially on an empty table, the second does not.
	NullCount = newTemplate("null_count", "SELECT COUNT(*) FROM %s WHERE %s IS NULL")
	HasRows   = newTemplate("has_rows", "SELECT CASE WHEN COUNT(*) > 0 THEN 1 ELSE 0 END FROM %s")
)

// TruncateStatement returns the statement that empties table on the given
// driver; sqlite has no TRUNCATE.
func TruncateStatement(driver, table string) string {
	if driver == "sqlite3" {
		return DeleteAll.MustRender(table)
	}
	return Truncate.MustRender(table)
}

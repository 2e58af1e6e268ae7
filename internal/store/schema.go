package store

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dmitrijs2005/chaincache/internal/common"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Index is a secondary index over one document field.
type Index struct {
	Name    string
	KeyPath string
	Unique  bool
}

// Collection describes one named record collection.
//
// KeyPath names the document field used as primary key. With AutoIncrement
// set, records missing that field get the next integer key, which is written
// back into the stored document when KeyPath is not empty.
type Collection struct {
	Name          string
	KeyPath       string
	AutoIncrement bool
	Indexes       []Index
}

// Schema is the declarative layout of a database at a given version.
type Schema struct {
	Name        string
	Version     int64
	Collections []Collection
}

// Validate checks names, versions and key definitions.
func (s Schema) Validate() error {
	if s.Version <= 0 {
		return fmt.Errorf("%w: version must be positive, got %d", common.ErrInvalidSchema, s.Version)
	}

	seen := make(map[string]struct{}, len(s.Collections))
	for _, c := range s.Collections {
		if !identRe.MatchString(c.Name) {
			return fmt.Errorf("%w: bad collection name %q", common.ErrInvalidSchema, c.Name)
		}
		lower := strings.ToLower(c.Name)
		if strings.HasPrefix(lower, "sqlite_") || strings.HasPrefix(lower, "goose_") {
			return fmt.Errorf("%w: reserved collection name %q", common.ErrInvalidSchema, c.Name)
		}
		if _, dup := seen[lower]; dup {
			return fmt.Errorf("%w: duplicate collection %q", common.ErrInvalidSchema, c.Name)
		}
		seen[lower] = struct{}{}

		if c.KeyPath == "" && !c.AutoIncrement {
			return fmt.Errorf("%w: collection %q needs a key path or auto increment", common.ErrInvalidSchema, c.Name)
		}
		if c.KeyPath != "" && !identRe.MatchString(c.KeyPath) {
			return fmt.Errorf("%w: bad key path %q in %q", common.ErrInvalidSchema, c.KeyPath, c.Name)
		}

		idx := make(map[string]struct{}, len(c.Indexes))
		for _, i := range c.Indexes {
			if !identRe.MatchString(i.Name) || !identRe.MatchString(i.KeyPath) {
				return fmt.Errorf("%w: bad index %q on %q", common.ErrInvalidSchema, i.Name, c.Name)
			}
			if _, dup := idx[i.Name]; dup {
				return fmt.Errorf("%w: duplicate index %q on %q", common.ErrInvalidSchema, i.Name, c.Name)
			}
			idx[i.Name] = struct{}{}
		}
	}
	return nil
}

// index returns the named index of c.
func (c *Collection) index(name string) (Index, bool) {
	for _, i := range c.Indexes {
		if i.Name == name {
			return i, true
		}
	}
	return Index{}, false
}

// Identifiers are validated against identRe, so quoting cannot be escaped.
func quote(ident string) string {
	return `"` + ident + `"`
}

func jsonPath(field string) string {
	return "'$." + field + "'"
}

func fieldExpr(field string) string {
	return "json_extract(doc, " + jsonPath(field) + ")"
}

func (c *Collection) createTableSQL() string {
	if c.AutoIncrement {
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	k INTEGER PRIMARY KEY AUTOINCREMENT,
	doc TEXT NOT NULL
)`, quote(c.Name))
	}
	// No declared type: keys keep their own storage class (TEXT or INTEGER).
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	k NOT NULL PRIMARY KEY,
	doc TEXT NOT NULL
)`, quote(c.Name))
}

func (c *Collection) createIndexSQL(i Index) string {
	unique := ""
	if i.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf(`CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)`,
		unique, quote(c.Name+"__"+i.Name), quote(c.Name), fieldExpr(i.KeyPath))
}

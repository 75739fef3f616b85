// Package tiles defines how tile graphics are named inside an asset source.
package tiles

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

const (
	DefaultCategory = "ACTION"
	DefaultWidth    = 3
	DefaultExt      = ".png"
)

// ID identifies one tile graphic: a category and its index in that category.
type ID struct {
	Category string
	Index    int
}

func (t ID) String() string {
	return fmt.Sprintf("%s/%d", t.Category, t.Index)
}

// Naming is the naming contract for tile assets. Index 7 in category ACTION
// with width 3 is "ACTION/007.png".
type Naming struct {
	Category string
	Width    int
	Ext      string
}

// DefaultNaming returns the naming used by the bundled assets.
func DefaultNaming() Naming {
	return Naming{Category: DefaultCategory, Width: DefaultWidth, Ext: DefaultExt}
}

// Name returns the asset path of tile index i.
func (n Naming) Name(i int) string {
	return Name(n.Category, i, n.Width, n.Ext)
}

// Names returns the asset paths of tiles 0..count-1 in atlas layer order.
func (n Naming) Names(count int) []string {
	names := make([]string, count)
	for i := range names {
		names[i] = n.Name(i)
	}
	return names
}

// ID returns the identifier of tile index i.
func (n Naming) ID(i int) ID {
	return ID{Category: n.Category, Index: i}
}

// Name formats a tile asset path. The index is zero padded to width digits;
// an empty category yields a bare file name.
func Name(category string, index, width int, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	file := fmt.Sprintf("%0*d%s", width, index, ext)
	if category == "" {
		return file
	}
	return path.Join(category, file)
}

// URL joins an asset name onto a base URL.
func URL(base *url.URL, name string) string {
	u := *base
	u.Path = path.Join(u.Path, name)
	return u.String()
}

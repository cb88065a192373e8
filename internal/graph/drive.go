package graph

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/digitaldrywood/taskpulse/internal/auth"
)

// DriveItem is a file or folder in a drive.
type DriveItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

type driveItem struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Size            int64  `json:"size"`
	ParentReference struct {
		Path string `json:"path"`
	} `json:"parentReference"`
}

// Table is a workbook table.
type Table struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TableRow is one workbook table row; Values holds the row's cells as a
// single-element matrix.
type TableRow struct {
	Index  int     `json:"index"`
	Values [][]any `json:"values"`
}

// Cells returns the first value list of the row.
func (r TableRow) Cells() []any {
	if len(r.Values) == 0 {
		return nil
	}
	return r.Values[0]
}

// DriveChildren lists the signed-in user's drive root.
func (c *Client) DriveChildren(ctx context.Context, a auth.Authorizer) ([]DriveItem, error) {
	raw, err := collect[driveItem](ctx, c, a, "/me/drive/root/children")
	if err != nil {
		return nil, err
	}

	items := make([]DriveItem, 0, len(raw))
	for _, it := range raw {
		items = append(items, DriveItem{
			ID:   it.ID,
			Name: it.Name,
			Path: strings.TrimSuffix(it.ParentReference.Path, "/") + "/" + it.Name,
			Size: it.Size,
		})
	}
	return items, nil
}

// ItemID resolves a drive path such as /me/drive/root:/Book.xlsx. Missing
// items yield "".
func (c *Client) ItemID(ctx context.Context, a auth.Authorizer, path string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	ok, err := c.get(ctx, a, escapePath(path), &out)
	if err != nil || !ok {
		return "", err
	}
	return out.ID, nil
}

// WorkbookTables lists the tables of the workbook at path.
func (c *Client) WorkbookTables(ctx context.Context, a auth.Authorizer, path string) ([]Table, error) {
	id, err := c.ItemID(ctx, a, path)
	if err != nil || id == "" {
		return nil, err
	}
	return collect[Table](ctx, c, a, fmt.Sprintf("%s/items/%s/workbook/tables", driveOf(path), id))
}

// TableRows returns the rows of one table of the workbook at path.
func (c *Client) TableRows(ctx context.Context, a auth.Authorizer, path, table string) ([]TableRow, error) {
	id, err := c.ItemID(ctx, a, path)
	if err != nil || id == "" {
		return nil, err
	}
	target := fmt.Sprintf("%s/items/%s/workbook/tables/%s/rows", driveOf(path), id, url.PathEscape(table))
	return collect[TableRow](ctx, c, a, target)
}

// PutFile overwrites the file at drive+path with content. The existence
// check decides the route: 200 uploads onto the existing item, 404 creates
// the file by path. created reports which route was taken.
func (c *Client) PutFile(ctx context.Context, a auth.Authorizer, drive, path string, content []byte, contentType string) (created bool, err error) {
	itemPath := escapePath(fmt.Sprintf("%s/root:%s", drive, path))
	r, err := c.send(ctx, a, http.MethodGet, itemPath, nil, "")
	if err != nil {
		return false, err
	}

	var target string
	switch {
	case r.Status == http.StatusNotFound:
		created = true
		target = itemPath + ":/content"
	case r.ok():
		var item struct {
			ID string `json:"id"`
		}
		if err := decode(r.Body, &item); err != nil {
			return false, fmt.Errorf("failed to decode item for %s: %w", path, err)
		}
		if item.ID == "" {
			return false, fmt.Errorf("item for %s has no id", path)
		}
		target = fmt.Sprintf("%s/items/%s/content", drive, item.ID)
	default:
		logUpstream(itemPath, r)
		return false, &UpstreamError{Status: r.Status, Body: string(r.Body)}
	}

	w, err := c.send(ctx, a, http.MethodPut, target, content, contentType)
	if err != nil {
		return created, err
	}
	if !w.ok() {
		logUpstream(target, w)
		return created, &UpstreamError{Status: w.Status, Body: string(w.Body)}
	}
	return created, nil
}

// driveOf returns the drive prefix of a root-relative path, defaulting to
// the signed-in user's drive.
func driveOf(path string) string {
	if i := strings.Index(path, "/root:"); i > 0 {
		return path[:i]
	}
	return "/me/drive"
}

// escapePath percent-encodes path segments (file names carry spaces) while
// keeping the separators Graph's path addressing relies on.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

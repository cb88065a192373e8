package graph

import (
	"context"
	"fmt"
	"net/url"

	"github.com/digitaldrywood/taskpulse/internal/auth"
	"github.com/digitaldrywood/taskpulse/internal/models"
)

// ListItem is a raw SharePoint list item with expanded fields.
type ListItem struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

type list struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// SiteID resolves a site name under the configured SharePoint host. An
// unresolvable site yields "".
func (c *Client) SiteID(ctx context.Context, a auth.Authorizer, site string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	target := fmt.Sprintf("/sites/%s:/sites/%s", c.sharePointHost, url.PathEscape(site))
	ok, err := c.get(ctx, a, target, &out)
	if err != nil || !ok {
		return "", err
	}
	return out.ID, nil
}

// ListID finds a list by name, falling back to its display name.
func (c *Client) ListID(ctx context.Context, a auth.Authorizer, siteID, name string) (string, error) {
	lists, err := collect[list](ctx, c, a, fmt.Sprintf("/sites/%s/lists", siteID))
	if err != nil {
		return "", err
	}
	for _, l := range lists {
		if l.Name == name {
			return l.ID, nil
		}
	}
	for _, l := range lists {
		if l.DisplayName == name {
			return l.ID, nil
		}
	}
	return "", nil
}

// ListItems returns every item of a list with person fields expanded.
func (c *Client) ListItems(ctx context.Context, a auth.Authorizer, siteID, listID string) ([]ListItem, error) {
	target := fmt.Sprintf("/sites/%s/lists/%s/items?expand=fields($expand=AssignedTo,Author,Editor)", siteID, listID)
	return collect[ListItem](ctx, c, a, target)
}

// ListRecords resolves site and list by name and returns the flattened items.
// Anything unresolvable yields an empty result.
func (c *Client) ListRecords(ctx context.Context, a auth.Authorizer, site, listName string) ([]models.Record, error) {
	siteID, err := c.SiteID(ctx, a, site)
	if err != nil || siteID == "" {
		return nil, err
	}
	listID, err := c.ListID(ctx, a, siteID, listName)
	if err != nil || listID == "" {
		return nil, err
	}
	items, err := c.ListItems(ctx, a, siteID, listID)
	if err != nil {
		return nil, err
	}

	records := make([]models.Record, 0, len(items))
	for _, it := range items {
		records = append(records, Flatten(it.Fields))
	}
	return records, nil
}

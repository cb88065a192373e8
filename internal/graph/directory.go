package graph

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/digitaldrywood/taskpulse/internal/auth"
)

// User is a directory entry. Photo is a data URI, empty when the user has
// no photo.
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	JobTitle          string `json:"jobTitle,omitempty"`
	Photo             string `json:"photo,omitempty"`
}

// Users lists the tenant directory.
func (c *Client) Users(ctx context.Context, a auth.Authorizer) ([]User, error) {
	return collect[User](ctx, c, a, "/users?$top=999&$select=id,displayName,mail,userPrincipalName,jobTitle")
}

// MyUserID returns the signed-in user's directory id.
func (c *Client) MyUserID(ctx context.Context, a auth.Authorizer) (string, error) {
	var me struct {
		ID string `json:"id"`
	}
	ok, err := c.get(ctx, a, "/me", &me)
	if err != nil || !ok {
		return "", err
	}
	return me.ID, nil
}

// UserPhoto fetches a profile photo as a data URI.
func (c *Client) UserPhoto(ctx context.Context, a auth.Authorizer, userID string) (string, error) {
	r, err := c.send(ctx, a, http.MethodGet, fmt.Sprintf("/users/%s/photo/$value", userID), nil, "")
	if err != nil {
		return "", err
	}
	if !r.ok() || len(r.Body) == 0 {
		return "", nil
	}

	ct := r.Header.Get("Content-Type")
	if ct == "" {
		ct = "image/jpeg"
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(r.Body), nil
}

// UsersWithPhotos lists the directory and fills in photos concurrently.
func (c *Client) UsersWithPhotos(ctx context.Context, a auth.Authorizer) ([]User, error) {
	users, err := c.Users(ctx, a)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.photoConcurrency)
	for i := range users {
		i := i
		g.Go(func() error {
			photo, err := c.UserPhoto(gctx, a, users[i].ID)
			if err != nil {
				return err
			}
			users[i].Photo = photo
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return users, nil
}

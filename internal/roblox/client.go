// Package roblox implements a client for the external group service: group
// metadata, the group's role (rank) list, role membership and user profiles.
//
// Every request waits on a shared Pacer before it is sent and is retried with
// exponential backoff when the service answers with a rate-limit response.
package roblox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/orbit-workspaces/orbit/internal/config"
	"github.com/orbit-workspaces/orbit/internal/retry"
	"github.com/orbit-workspaces/orbit/internal/telemetry"
)

const (
	membersPageSize = 100
	thumbnailSize   = "150x150"
)

// Client talks to the group, user and thumbnail endpoints of the group service.
type Client struct {
	GroupsURL     string
	UsersURL      string
	ThumbnailsURL string
	APIKey        string
	HTTPClient    *http.Client

	pacer     Pacer
	retryOpts []retry.Option
	profiles  *gocache.Cache
}

// NewClient creates a client from configuration. pacer may be nil, in which
// case calls are spaced by cfg.Pacing within this process only.
func NewClient(cfg *config.RobloxConfig, pacer Pacer) *Client {
	if pacer == nil {
		pacer = NewLocalPacer(cfg.Pacing)
	}
	ttl := cfg.ProfileCacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var retryOpts []retry.Option
	if cfg.RetryAttempts > 0 {
		retryOpts = append(retryOpts, retry.WithMaxAttempts(cfg.RetryAttempts))
	}
	if cfg.RetryInitialDelay > 0 {
		retryOpts = append(retryOpts, retry.WithInitialDelay(cfg.RetryInitialDelay))
	}
	return &Client{
		GroupsURL:     strings.TrimRight(cfg.GroupsURL, "/"),
		UsersURL:      strings.TrimRight(cfg.UsersURL, "/"),
		ThumbnailsURL: strings.TrimRight(cfg.ThumbnailsURL, "/"),
		APIKey:        cfg.APIKey,
		HTTPClient:    &http.Client{Timeout: timeout},
		pacer:         pacer,
		retryOpts:     retryOpts,
		profiles:      gocache.New(ttl, 2*ttl),
	}
}

// Group is the metadata of an external group.
type Group struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	IconURL string `json:"-"`
}

// GroupRole is one rank of a group. Rank is the ordinal (0-255) used for
// minimum tracked rank filtering; ID identifies the role in the group service.
type GroupRole struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Rank        int64  `json:"rank"`
	MemberCount int64  `json:"memberCount"`
}

// GroupMember is a user holding a given rank.
type GroupMember struct {
	UserID      int64  `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

type rolesResponse struct {
	GroupID int64       `json:"groupId"`
	Roles   []GroupRole `json:"roles"`
}

type membersResponse struct {
	NextPageCursor *string       `json:"nextPageCursor"`
	Data           []GroupMember `json:"data"`
}

type userGroupRolesResponse struct {
	Data []struct {
		Group struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"group"`
		Role GroupRole `json:"role"`
	} `json:"data"`
}

type userResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

type thumbnailsResponse struct {
	Data []struct {
		TargetID int64  `json:"targetId"`
		State    string `json:"state"`
		ImageURL string `json:"imageUrl"`
	} `json:"data"`
}

// GetGroup fetches the group's name and icon. A missing icon is not an error.
func (c *Client) GetGroup(ctx context.Context, groupID int64) (*Group, error) {
	var g Group
	u := fmt.Sprintf("%s/v1/groups/%d", c.GroupsURL, groupID)
	if err := c.get(ctx, "group", u, &g); err != nil {
		return nil, fmt.Errorf("failed to fetch group %d: %w", groupID, err)
	}

	var thumbs thumbnailsResponse
	q := url.Values{}
	q.Set("groupIds", strconv.FormatInt(groupID, 10))
	q.Set("size", thumbnailSize)
	q.Set("format", "Png")
	if err := c.get(ctx, "group_icon", c.ThumbnailsURL+"/v1/groups/icons?"+q.Encode(), &thumbs); err != nil {
		return nil, fmt.Errorf("failed to fetch icon for group %d: %w", groupID, err)
	}
	g.IconURL = firstImage(thumbs, groupID)
	return &g, nil
}

// ListGroupRoles returns every rank of the group, in the order the service
// lists them (ascending rank).
func (c *Client) ListGroupRoles(ctx context.Context, groupID int64) ([]GroupRole, error) {
	var resp rolesResponse
	u := fmt.Sprintf("%s/v1/groups/%d/roles", c.GroupsURL, groupID)
	if err := c.get(ctx, "group_roles", u, &resp); err != nil {
		return nil, fmt.Errorf("failed to list roles of group %d: %w", groupID, err)
	}
	return resp.Roles, nil
}

// GetRoleByRank returns the group's role with the given rank number.
func (c *Client) GetRoleByRank(ctx context.Context, groupID, rank int64) (*GroupRole, error) {
	roles, err := c.ListGroupRoles(ctx, groupID)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		if roles[i].Rank == rank {
			return &roles[i], nil
		}
	}
	return nil, fmt.Errorf("rank %d in group %d: %w", rank, groupID, ErrNotFound)
}

// ListRoleMembers returns every user holding the role, following pagination
// cursors until the last page. Each page is a separate paced request.
func (c *Client) ListRoleMembers(ctx context.Context, groupID, roleID int64) ([]GroupMember, error) {
	var members []GroupMember
	cursor := ""
	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(membersPageSize))
		q.Set("sortOrder", "Asc")
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		u := fmt.Sprintf("%s/v1/groups/%d/roles/%d/users?%s", c.GroupsURL, groupID, roleID, q.Encode())

		var page membersResponse
		if err := c.get(ctx, "role_members", u, &page); err != nil {
			return nil, fmt.Errorf("failed to list members of role %d in group %d: %w", roleID, groupID, err)
		}
		members = append(members, page.Data...)
		for _, m := range page.Data {
			if m.Username != "" {
				c.profiles.SetDefault(usernameKey(m.UserID), m.Username)
			}
		}
		if page.NextPageCursor == nil || *page.NextPageCursor == "" {
			return members, nil
		}
		cursor = *page.NextPageCursor
	}
}

// GetUserRank returns the user's rank number in the group, or 0 when the
// user is not a member.
func (c *Client) GetUserRank(ctx context.Context, userID, groupID int64) (int64, error) {
	var resp userGroupRolesResponse
	u := fmt.Sprintf("%s/v2/users/%d/groups/roles", c.GroupsURL, userID)
	if err := c.get(ctx, "user_group_roles", u, &resp); err != nil {
		return 0, fmt.Errorf("failed to fetch group roles of user %d: %w", userID, err)
	}
	for _, d := range resp.Data {
		if d.Group.ID == groupID {
			return d.Role.Rank, nil
		}
	}
	return 0, nil
}

// GetUsername returns the user's name. Results are cached for the profile TTL.
func (c *Client) GetUsername(ctx context.Context, userID int64) (string, error) {
	if v, ok := c.profiles.Get(usernameKey(userID)); ok {
		return v.(string), nil
	}
	var resp userResponse
	u := fmt.Sprintf("%s/v1/users/%d", c.UsersURL, userID)
	if err := c.get(ctx, "user", u, &resp); err != nil {
		return "", fmt.Errorf("failed to fetch user %d: %w", userID, err)
	}
	c.profiles.SetDefault(usernameKey(userID), resp.Name)
	return resp.Name, nil
}

// GetHeadshotURL returns the user's avatar headshot URL, or "" when the
// service has none. Results are cached for the profile TTL.
func (c *Client) GetHeadshotURL(ctx context.Context, userID int64) (string, error) {
	key := "headshot:" + strconv.FormatInt(userID, 10)
	if v, ok := c.profiles.Get(key); ok {
		return v.(string), nil
	}
	q := url.Values{}
	q.Set("userIds", strconv.FormatInt(userID, 10))
	q.Set("size", thumbnailSize)
	q.Set("format", "Png")
	var thumbs thumbnailsResponse
	if err := c.get(ctx, "avatar_headshot", c.ThumbnailsURL+"/v1/users/avatar-headshot?"+q.Encode(), &thumbs); err != nil {
		return "", fmt.Errorf("failed to fetch headshot of user %d: %w", userID, err)
	}
	img := firstImage(thumbs, userID)
	c.profiles.SetDefault(key, img)
	return img, nil
}

func usernameKey(userID int64) string {
	return "username:" + strconv.FormatInt(userID, 10)
}

func firstImage(resp thumbnailsResponse, target int64) string {
	for _, d := range resp.Data {
		if d.TargetID == target && d.State == "Completed" {
			return d.ImageURL
		}
	}
	return ""
}

// get performs a paced, retried GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, endpoint, rawURL string, out any) error {
	return retry.Do(ctx, func(ctx context.Context) error {
		if err := c.pacer.Wait(ctx); err != nil {
			return err
		}
		return c.doGet(ctx, endpoint, rawURL, out)
	}, c.retryOpts...)
}

func (c *Client) doGet(ctx context.Context, endpoint, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("x-api-key", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		telemetry.ExternalAPIRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	telemetry.ExternalAPIRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

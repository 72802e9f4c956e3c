package powerbi

import (
	"context"
	"errors"
	"strings"
)

// ErrWorkspaceNotFound reports that no workspace could be resolved or
// created for the configured id/name.
var ErrWorkspaceNotFound = errors.New("workspace not found and not creatable")

// ResolveWorkspace maps a configured workspace id or name to a concrete id.
// Policy: a configured id wins outright; otherwise an exact case-insensitive
// name match; otherwise the workspace is created; the first visible
// workspace is the last resort.
func (c *Client) ResolveWorkspace(ctx context.Context, id, name string) (string, error) {
	if trimmed := strings.TrimSpace(id); trimmed != "" {
		if c.logger != nil {
			c.logger.Debug("using configured workspace id", "workspace_id", trimmed)
		}
		return trimmed, nil
	}

	groups, err := c.Groups(ctx)
	if err != nil {
		return "", err
	}
	name = strings.TrimSpace(name)
	for _, g := range groups {
		if name != "" && strings.EqualFold(g.Name, name) {
			if c.logger != nil {
				c.logger.Debug("resolved workspace by name", "workspace_name", name, "workspace_id", g.ID)
			}
			return g.ID, nil
		}
	}

	if name != "" {
		created, createErr := c.CreateGroup(ctx, name)
		if createErr == nil {
			if c.logger != nil {
				c.logger.Info("created workspace", "workspace_name", name, "workspace_id", created.ID)
			}
			return created.ID, nil
		}
		if c.logger != nil {
			c.logger.Warn("workspace creation failed, falling back to first available", "workspace_name", name, "error", createErr)
		}
	}

	if len(groups) > 0 {
		return groups[0].ID, nil
	}
	return "", ErrWorkspaceNotFound
}

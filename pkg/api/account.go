// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sunggeunkim/church-history/pkg/datatypes"
)

const (
	pathMe     = "/accounts/me/"
	pathLogout = "/accounts/logout/"
)

// CurrentUser returns the signed-in account.
func (c *Client) CurrentUser(ctx context.Context) (datatypes.User, error) {
	var resp datatypes.UserWire
	if err := c.Get(ctx, pathMe, &resp); err != nil {
		return datatypes.User{}, fmt.Errorf("current user: %w", err)
	}
	return datatypes.ToUser(resp), nil
}

// Logout ends the backend session. The backend clears the credential
// cookies in its response, which the jar applies.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.Do(ctx, http.MethodPost, pathLogout, nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

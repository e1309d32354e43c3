// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package sessionfile

import "github.com/google/uuid"

func newSessionID() string {
	return uuid.New().String()
}

// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keybox.
//
// go-keybox is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package backup

import (
	"fmt"
	"os"

	"github.com/jeremyhahn/go-keybox/internal/fsutil"
	"github.com/jeremyhahn/go-keybox/pkg/vaulterr"
)

// FilePermissions is the mode used for exported archives.
const FilePermissions = 0o600

// WriteFile writes p to path atomically.
func WriteFile(path string, p *EncryptedPayload) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(path, append(data, '\n'), FilePermissions); err != nil {
		return vaulterr.New(vaulterr.OpExport, fmt.Errorf("write %s: %w", path, err))
	}
	return nil
}

// ReadFile reads and parses the archive at path.
func ReadFile(path string) (*EncryptedPayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, vaulterr.New(vaulterr.OpImport, fmt.Errorf("read %s: %w", path, err))
	}
	return Parse(data)
}

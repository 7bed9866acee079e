// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package erasure provides the bulk-encode kernels used to derive parity
// blocks from stripe data.
package erasure

import (
	"github.com/zeebo/errs"
)

// Error is the default erasure errs class.
var Error = errs.Class("erasure")

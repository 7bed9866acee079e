// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package readers implements barrier-synchronized parallel reads across
// the input streams of one stripe.
package readers

import (
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	// Error is the default readers errs class.
	Error = errs.Class("readers")

	mon = monkit.Package()
)

// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package raidfs computes and maintains erasure-coded parity files for
// block-oriented distributed storage, and recovers individual parity
// blocks from source data.
package raidfs

import (
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

// Error is the default raidfs errs class.
var Error = errs.Class("raidfs")

var mon = monkit.Package()

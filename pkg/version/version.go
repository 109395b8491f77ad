// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

// Package version identifies the build. Release builds set the variables with
//
//	-ldflags "-X src.bluestatic.org/popmirror/pkg/version.Git=$(git rev-parse --short HEAD)"
package version

var (
	Git    = "development"
	Number = "0.1.0"
)

// String is the one-line version banner, without a trailing newline.
func String() string {
	return "popmirror " + Number + " (" + Git + ")"
}

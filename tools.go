//go:build tools
// +build tools

// Package tools pins code generators (mockgen) as module dependencies.
package confera

import (
	_ "go.uber.org/mock/mockgen"
)

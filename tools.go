//go:build tools

// Package tools pins the development tools used by the Makefile-less
// workflow: go install -tags tools ./...
package tools

import (
	// Linting and formatting
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "golang.org/x/tools/cmd/goimports"

	// Regenerates pkg/mocks/runtime_mock.go from pkg/interfaces
	_ "github.com/golang/mock/mockgen"

	// Test runners
	_ "github.com/onsi/ginkgo/v2/ginkgo"
	_ "gotest.tools/gotestsum"

	// Security scanning
	_ "github.com/securego/gosec/v2/cmd/gosec"

	// Profiling long pipeline runs
	_ "github.com/google/pprof"

	// CLI reference generation
	_ "github.com/swaggo/swag/cmd/swag"
)

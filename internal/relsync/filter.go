package relsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
)

// BuildFilter restricts which Jenkins builds trigger a sync.
// The filter is a jq expression that is evaluated against the JSON build
// descriptor and must evaluate to a single boolean.
type BuildFilter struct {
	query *gojq.Query
}

// NewBuildFilter parses the jq expression.
// An empty expression returns a nil filter, which matches every build.
func NewBuildFilter(jqQuery string) (*BuildFilter, error) {
	if strings.TrimSpace(jqQuery) == "" {
		return nil, nil
	}

	query, err := gojq.Parse(jqQuery)
	if err != nil {
		return nil, fmt.Errorf("parsing filter query %q failed: %w", jqQuery, err)
	}

	return &BuildFilter{query: query}, nil
}

func (f *BuildFilter) String() string {
	if f == nil {
		return "<empty>"
	}

	return f.query.String()
}

// Match evaluates the filter for the JSON build descriptor.
func (f *BuildFilter) Match(ctx context.Context, buildJSON []byte) (bool, error) {
	if f == nil {
		return true, nil
	}

	if len(buildJSON) == 0 {
		return false, errors.New("build json document is empty")
	}

	var doc any
	if err := json.Unmarshal(buildJSON, &doc); err != nil {
		return false, fmt.Errorf("unmarshaling build json failed: %w", err)
	}

	result, errs := goJQIterToSlice(f.query.RunWithContext(ctx, doc))
	if len(errs) != 0 {
		return false, fmt.Errorf("json query returned errors, query: %q, errors: %s", f.query.String(), errString(errs))
	}

	if len(result) != 1 {
		return false, fmt.Errorf("json query returned %d results, expected 1, query: %q", len(result), f.query.String())
	}

	matched, ok := result[0].(bool)
	if !ok {
		return false, fmt.Errorf("json query evaluated to %T, expected boolean, query: %q", result[0], f.query.String())
	}

	return matched, nil
}

func goJQIterToSlice(iter gojq.Iter) ([]any, []error) {
	var result []any
	var errors []error

	for {
		res, ok := iter.Next()
		if !ok {
			return result, errors
		}

		if err, isErr := res.(error); isErr {
			errors = append(errors, err)
			continue
		}

		result = append(result, res)
	}
}

func errString(errs []error) string {
	var result strings.Builder

	for i, err := range errs {
		if i > 0 {
			result.WriteString("; ")
		}

		result.WriteString(fmt.Sprintf("error %d: %s", i, err))
	}

	return result.String()
}

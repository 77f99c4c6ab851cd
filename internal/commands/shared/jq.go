// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tombee/powerd/internal/cli/format"
	"github.com/tombee/powerd/internal/jq"
)

// ApplyJQ filters a JSON-marshalable document with a jq expression and
// returns the rendered result. Typed API responses round-trip through
// JSON first so the expression sees the wire field names.
func ApplyJQ(ctx context.Context, expression string, v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("failed to decode document: %w", err)
	}

	result, err := jq.NewExecutor(0, 0).Execute(ctx, expression, doc)
	if err != nil {
		return "", err
	}

	return format.JSON(result)
}

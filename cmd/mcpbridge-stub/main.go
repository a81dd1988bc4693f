// Copyright 2026 Axon Labs
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

// Command mcpbridge-stub is a stdio tool backend serving a small in-memory
// document store. It exists for end-to-end testing of the bridge without a
// real database:
//
//	backends:
//	  mongodb:
//	    command: mcpbridge-stub
//	    ready_marker: "stub ready"
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type findDocumentsArgs struct {
	Collection string         `json:"collection" jsonschema:"required,description=Collection to search"`
	Query      map[string]any `json:"query,omitempty" jsonschema:"description=Field equality filter"`
	Limit      int            `json:"limit,omitempty" jsonschema:"description=Maximum documents to return"`
}

type countDocumentsArgs struct {
	Collection string         `json:"collection" jsonschema:"required,description=Collection to count"`
	Query      map[string]any `json:"query,omitempty" jsonschema:"description=Field equality filter"`
}

type store struct {
	collections map[string][]map[string]any
}

func newStore() *store {
	return &store{
		collections: map[string][]map[string]any{
			"documents": {
				{"_id": "doc-1", "title": "Discharge summary", "status": "final", "text": "Patient discharged in stable condition."},
				{"_id": "doc-2", "title": "Lab report", "status": "draft", "text": "CBC within normal limits."},
				{"_id": "doc-3", "title": "Radiology note", "status": "final", "text": "No acute findings on chest X-ray."},
				{"_id": "doc-4", "title": "Progress note", "status": "final", "text": "Continues to improve on current regimen."},
			},
			"patients": {
				{"_id": "pat-1", "name": "A. Example", "mrn": "000123"},
				{"_id": "pat-2", "name": "B. Sample", "mrn": "000456"},
			},
		},
	}
}

func (s *store) find(collection string, query map[string]any, limit int) []map[string]any {
	var out []map[string]any
	for _, doc := range s.collections[collection] {
		if matches(doc, query) {
			out = append(out, doc)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

func matches(doc, query map[string]any) bool {
	for key, want := range query {
		if fmt.Sprintf("%v", doc[key]) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

// schemaFor derives a tool input schema from an args struct.
func schemaFor(v any) json.RawMessage {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		panic(err)
	}
	return data
}

func textResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func main() {
	db := newStore()

	srv := server.NewMCPServer("mcpbridge-stub", "0.3.0")

	srv.AddTool(
		mcp.NewToolWithRawSchema("find_documents", "Find documents matching a field-equality query.", schemaFor(findDocumentsArgs{})),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args findDocumentsArgs
			if err := req.BindArguments(&args); err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			docs := db.find(args.Collection, args.Query, args.Limit)
			if docs == nil {
				docs = []map[string]any{}
			}
			return textResult(map[string]any{"documents": docs})
		},
	)

	srv.AddTool(
		mcp.NewToolWithRawSchema("count_documents", "Count documents matching a field-equality query.", schemaFor(countDocumentsArgs{})),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args countDocumentsArgs
			if err := req.BindArguments(&args); err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return textResult(map[string]any{"count": len(db.find(args.Collection, args.Query, 0))})
		},
	)

	srv.AddTool(
		mcp.NewTool("list_collections", mcp.WithDescription("List collection names.")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			names := make([]string, 0, len(db.collections))
			for name := range db.collections {
				names = append(names, name)
			}
			return textResult(map[string]any{"collections": names})
		},
	)

	// The bridge watches stderr for this marker before initializing.
	fmt.Fprintln(os.Stderr, "mcpbridge-stub ready")

	if err := server.ServeStdio(srv); err != nil && !strings.Contains(err.Error(), "EOF") {
		fmt.Fprintf(os.Stderr, "stub server error: %v\n", err)
		os.Exit(1)
	}
}

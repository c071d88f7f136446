// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package api defines the request and response types of the FlowCanvas
// HTTP API. Handlers live in api/handlers.
//
// # API Overview
//
//   - /api/v1/graphs: editor sessions. Nodes and edges are edited one
//     operation at a time; rejected edges return GRAPH_INVALID_EDGE.
//   - /api/v1/graphs/{id}/compile: compiles the session graph and saves it.
//   - /api/v1/workflows: stored compiled workflows and run start.
//   - /api/v1/runs/{runID}: producer event ingest, reduced state, and
//     WebSocket streams of raw events or projected frames.
//   - /api/v1/agents, /api/v1/tools: the reference catalog for the palette.
//   - /health, /healthz, /ready, /version: probes.
//
// # Authentication
//
// When API keys are configured every /api route requires X-API-Key or a
// Bearer JWT. Probes are always public.
//
// # Response Format
//
// Every JSON response uses Envelope:
//
//	{"success": false, "error": {"code": "COMPILE_FAILED", "message": "...",
//	 "details": {"kind": "cyclic_graph", "cycle": ["a","b","a"]}},
//	 "timestamp": "...", "request_id": "..."}
package api

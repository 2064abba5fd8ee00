// Package mcp implements the core runtime of a Model Context Protocol (MCP) endpoint:
// a bidirectional JSON-RPC 2.0 messaging engine with a capability-negotiated
// initialization handshake, pluggable transports, and the protocol's typed method
// surface for tools, prompts, resources, sampling, roots, logging, and progress.
//
// It implements protocol version 2024-11-05 as described at
// https://spec.modelcontextprotocol.io/specification/2024-11-05/.
package mcp
